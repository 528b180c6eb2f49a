package system

import (
	"database/sql"
	"log"
	"runtime"
	"time"

	"github.com/strefethen/alarmcast-go/internal/config"
)

// Version is the server version, set at build time or defaulted.
var Version = "1.0.0"

// RingingProvider reports the currently ringing alarms (matches the
// orchestrator).
type RingingProvider interface {
	RingingIDs() []string
}

// SessionInfoProvider reports whether a remote session path is usable.
type SessionInfoProvider interface {
	ClientCount() int
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Service provides system health and status information.
// Uses reader connection only as this service only performs SELECT queries.
type Service struct {
	cfg       config.Config
	logger    *log.Logger
	reader    *sql.DB // Read-only queries
	ringing   RingingProvider
	hub       SessionInfoProvider
	startTime time.Time
}

// NewService creates a new system service.
func NewService(cfg config.Config, dbPair DBPair, logger *log.Logger, ringing RingingProvider, hub SessionInfoProvider) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		cfg:       cfg,
		logger:    logger,
		reader:    dbPair.Reader(),
		ringing:   ringing,
		hub:       hub,
		startTime: time.Now(),
	}
}

// SystemInfo holds system status for the info endpoint.
type SystemInfo struct {
	Version          string   `json:"version"`
	Uptime           int64    `json:"uptime_seconds"`
	MemoryUsageMB    float64  `json:"memory_mb"`
	SQLiteConnected  bool     `json:"sqlite_connected"`
	RingingAlarmIDs  []string `json:"ringing_alarm_ids"`
	SignalClients    int      `json:"signal_clients"`
	SimulatedCasting bool     `json:"simulated_casting"`
}

// GetSystemInfo returns current system information.
func (s *Service) GetSystemInfo() *SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sqliteConnected := true
	if err := s.reader.Ping(); err != nil {
		sqliteConnected = false
	}

	ringing := []string{}
	if s.ringing != nil {
		ringing = s.ringing.RingingIDs()
	}
	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}

	return &SystemInfo{
		Version:          Version,
		Uptime:           int64(time.Since(s.startTime).Seconds()),
		MemoryUsageMB:    float64(memStats.Alloc) / 1024 / 1024,
		SQLiteConnected:  sqliteConnected,
		RingingAlarmIDs:  ringing,
		SignalClients:    clients,
		SimulatedCasting: s.cfg.Env == "development",
	}
}

// Ready reports whether the service can serve traffic: the database
// must answer a ping.
func (s *Service) Ready() bool {
	return s.reader.Ping() == nil
}
