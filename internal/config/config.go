package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the base server configuration.
type Config struct {
	Host                     string
	Port                     string
	SQLiteDBPath             string
	Env                      string
	AllowTestMode            bool
	JWTSecret                string
	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int

	// PublicBaseURL is the externally reachable base URL of this server.
	// Cast devices fetch media through it, so it must resolve on the LAN.
	PublicBaseURL   string
	MediaDir        string
	ToneCatalogPath string

	// Reconnection tuning. Poll counts and intervals bound the rediscover
	// tier: discovery 20 x 500ms, session establishment 30 x 500ms by
	// default.
	DiscoveryPollIntervalMs int
	DiscoveryMaxPolls       int
	ConnectPollIntervalMs   int
	ConnectMaxPolls         int
	RouteSettleDelayMs      int
	DeviceScanWindowMs      int

	// Playback tuning.
	DefaultVolume        float64
	SequenceGapMsDefault int
	VerificationDelayMs  int
	SafetyTimeoutSec     int
	FadeInMs             int
	FadeInSteps          int

	// Local audio backend. The command template is tokenized; "{url}" is
	// replaced with the clip URL or path.
	LocalPlayerCommand string

	// Simulated cast device (the built-in protocol driver).
	SimDeviceName    string
	SimClipLengthSec int

	// Playback history retention.
	HistoryRetentionDays int
	HistoryPruneSchedule string
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	host := envString("HOST", "0.0.0.0")
	port := envString("PORT", "9500")
	sqlitePath := envString("SQLITE_DB_PATH", "./data/alarmcast.db")
	env := envString("APP_ENV", "development")
	allowTestMode := envBool("ALLOW_TEST_MODE", false)
	jwtSecret := envString("JWT_SECRET", "")
	jwtAccessExpiry := envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)
	jwtRefreshExpiry := envInt("JWT_REFRESH_TOKEN_EXPIRY", 2592000)

	publicBaseURL := envString("PUBLIC_BASE_URL", "http://127.0.0.1:"+port)
	mediaDir := envString("MEDIA_DIR", "./data/media")
	toneCatalogPath := envString("TONE_CATALOG_PATH", "")

	discoveryPollInterval := envInt("DISCOVERY_POLL_INTERVAL_MS", 500)
	discoveryMaxPolls := envInt("DISCOVERY_MAX_POLLS", 20)
	connectPollInterval := envInt("CONNECT_POLL_INTERVAL_MS", 500)
	connectMaxPolls := envInt("CONNECT_MAX_POLLS", 30)
	routeSettleDelay := envInt("ROUTE_SETTLE_DELAY_MS", 250)
	deviceScanWindow := envInt("DEVICE_SCAN_WINDOW_MS", 5000)

	defaultVolume := envFloat("DEFAULT_VOLUME", 0.8)
	sequenceGapDefault := envInt("SEQUENCE_GAP_MS_DEFAULT", 500)
	verificationDelay := envInt("VERIFICATION_DELAY_MS", 5000)
	safetyTimeout := envInt("SAFETY_TIMEOUT_SECONDS", 7200)
	fadeInMs := envInt("FADE_IN_MS", 0)
	fadeInSteps := envInt("FADE_IN_STEPS", 10)

	localPlayerCommand := envString("LOCAL_PLAYER_CMD", "ffplay -nodisp -autoexit -loglevel error {url}")

	simDeviceName := envString("SIM_DEVICE_NAME", "Simulated Speaker")
	simClipLength := envInt("SIM_CLIP_LENGTH_SECONDS", 30)

	historyRetentionDays := envInt("HISTORY_RETENTION_DAYS", 90)
	historyPruneSchedule := envString("HISTORY_PRUNE_SCHEDULE", "0 4 * * *")

	if len(strings.TrimSpace(jwtSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if defaultVolume < 0 || defaultVolume > 1 {
		return Config{}, fmt.Errorf("DEFAULT_VOLUME must be between 0.0 and 1.0")
	}

	return Config{
		Host:                     host,
		Port:                     port,
		SQLiteDBPath:             sqlitePath,
		Env:                      env,
		AllowTestMode:            allowTestMode,
		JWTSecret:                jwtSecret,
		JWTAccessTokenExpirySec:  jwtAccessExpiry,
		JWTRefreshTokenExpirySec: jwtRefreshExpiry,
		PublicBaseURL:            publicBaseURL,
		MediaDir:                 mediaDir,
		ToneCatalogPath:          toneCatalogPath,
		DiscoveryPollIntervalMs:  discoveryPollInterval,
		DiscoveryMaxPolls:        discoveryMaxPolls,
		ConnectPollIntervalMs:    connectPollInterval,
		ConnectMaxPolls:          connectMaxPolls,
		RouteSettleDelayMs:       routeSettleDelay,
		DeviceScanWindowMs:       deviceScanWindow,
		DefaultVolume:            defaultVolume,
		SequenceGapMsDefault:     sequenceGapDefault,
		VerificationDelayMs:      verificationDelay,
		SafetyTimeoutSec:         safetyTimeout,
		FadeInMs:                 fadeInMs,
		FadeInSteps:              fadeInSteps,
		LocalPlayerCommand:       localPlayerCommand,
		SimDeviceName:            simDeviceName,
		SimClipLengthSec:         simClipLength,
		HistoryRetentionDays:     historyRetentionDays,
		HistoryPruneSchedule:     historyPruneSchedule,
	}, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
