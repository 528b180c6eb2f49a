package castsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/alarmcast-go/internal/castproto"
)

func TestScanner_Scan_ReturnsDevicesSortedByName(t *testing.T) {
	sim := castproto.NewSimulator(nil)
	sim.AddDevice(castproto.Device{ID: "cast-2", Name: "Living Room"})
	sim.AddDevice(castproto.Device{ID: "cast-1", Name: "Bedroom Speaker"})

	scanner := NewScanner(sim, 30*time.Millisecond)
	devices, durationMs, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, durationMs, int64(0))
	require.Len(t, devices, 2)
	require.Equal(t, "Bedroom Speaker", devices[0].Name)
	require.Equal(t, "Living Room", devices[1].Name)
}

func TestScanner_Scan_ConcurrentCallersShareOneScan(t *testing.T) {
	sim := castproto.NewSimulator(nil)
	sim.AddDevice(castproto.Device{ID: "cast-1", Name: "Bedroom Speaker"})

	scanner := NewScanner(sim, 50*time.Millisecond)

	var wg sync.WaitGroup
	results := make([][]castproto.Device, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			devices, _, err := scanner.Scan(context.Background())
			require.NoError(t, err)
			results[i] = devices
		}(i)
	}
	wg.Wait()

	for _, devices := range results {
		require.Len(t, devices, 1)
		require.Equal(t, "cast-1", devices[0].ID)
	}
}

func TestScanner_Scan_EmptyWhenNothingDiscoverable(t *testing.T) {
	sim := castproto.NewSimulator(nil)
	scanner := NewScanner(sim, 20*time.Millisecond)

	devices, _, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, devices)
}
