package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/alarmcast-go/internal/api"
)

// RegisterRoutes wires system routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(getSystemInfo(service)))
}

// getSystemInfo handles GET /v1/system/info
func getSystemInfo(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		info := service.GetSystemInfo()
		return api.WriteResource(w, http.StatusOK, formatSystemInfo(info))
	}
}

// formatSystemInfo formats SystemInfo for JSON response.
func formatSystemInfo(info *SystemInfo) map[string]any {
	return map[string]any{
		"object":            "system_info",
		"version":           info.Version,
		"uptime_seconds":    info.Uptime,
		"memory_mb":         info.MemoryUsageMB,
		"sqlite_connected":  info.SQLiteConnected,
		"ringing_alarm_ids": info.RingingAlarmIDs,
		"signal_clients":    info.SignalClients,
		"simulated_casting": info.SimulatedCasting,
	}
}
