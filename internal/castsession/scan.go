package castsession

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/strefethen/alarmcast-go/internal/castproto"
)

type scanResult struct {
	devices    []castproto.Device
	durationMs int64
	err        error
}

// Scanner runs bounded discovery windows for the device listing
// endpoint. Concurrent callers share one in-flight scan instead of
// opening parallel discovery streams.
type Scanner struct {
	conn   castproto.Conn
	window time.Duration

	mu       sync.Mutex
	inFlight bool
	waiters  []chan scanResult
}

// NewScanner creates a scanner with the given discovery window.
func NewScanner(conn castproto.Conn, window time.Duration) *Scanner {
	return &Scanner{conn: conn, window: window}
}

// Scan discovers devices for the configured window and returns them
// sorted by name. Callers arriving while a scan is in flight wait for
// and share its result.
func (s *Scanner) Scan(ctx context.Context) ([]castproto.Device, int64, error) {
	s.mu.Lock()
	if s.inFlight {
		ch := make(chan scanResult, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()
		select {
		case result := <-ch:
			return result.devices, result.durationMs, result.err
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	s.inFlight = true
	s.mu.Unlock()

	result := s.runScan(ctx)

	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.inFlight = false
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- result
		close(ch)
	}

	return result.devices, result.durationMs, result.err
}

func (s *Scanner) runScan(ctx context.Context) scanResult {
	start := time.Now()

	scanCtx, cancel := context.WithTimeout(ctx, s.window)
	defer cancel()

	stream, err := s.conn.Discover(scanCtx)
	if err != nil {
		return scanResult{err: err}
	}

	seen := make(map[string]castproto.Device)
	for device := range stream {
		seen[device.ID] = device
	}

	devices := make([]castproto.Device, 0, len(seen))
	for _, device := range seen {
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })

	return scanResult{devices: devices, durationMs: time.Since(start).Milliseconds()}
}
