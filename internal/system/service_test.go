package system

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatSystemInfo(t *testing.T) {
	info := &SystemInfo{
		Version:          "1.0.0",
		Uptime:           3600,
		MemoryUsageMB:    50.5,
		SQLiteConnected:  true,
		RingingAlarmIDs:  []string{"alarm-1"},
		SignalClients:    2,
		SimulatedCasting: true,
	}

	formatted := formatSystemInfo(info)

	require.Equal(t, "system_info", formatted["object"])
	require.Equal(t, "1.0.0", formatted["version"])
	require.Equal(t, int64(3600), formatted["uptime_seconds"])
	require.Equal(t, 50.5, formatted["memory_mb"])
	require.Equal(t, true, formatted["sqlite_connected"])
	require.Equal(t, []string{"alarm-1"}, formatted["ringing_alarm_ids"])
	require.Equal(t, 2, formatted["signal_clients"])
	require.Equal(t, true, formatted["simulated_casting"])
}

func TestFormatSystemInfoEmptyRinging(t *testing.T) {
	formatted := formatSystemInfo(&SystemInfo{RingingAlarmIDs: []string{}})
	require.Equal(t, []string{}, formatted["ringing_alarm_ids"])
}
