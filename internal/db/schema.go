package db

const schemaSQL = `
-- ==========================================================================
-- SETTINGS (key-value: last cast device, volume)
-- ==========================================================================

CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- ==========================================================================
-- PLAYBACK EVENTS (alarm lifecycle history)
-- ==========================================================================

CREATE TABLE IF NOT EXISTS playback_events (
  event_id TEXT PRIMARY KEY,
  timestamp TEXT NOT NULL,
  type TEXT NOT NULL,
  level TEXT NOT NULL,
  alarm_id TEXT,
  device_id TEXT,
  request_id TEXT,
  message TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_playback_events_timestamp ON playback_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_playback_events_type ON playback_events(type);
CREATE INDEX IF NOT EXISTS idx_playback_events_level ON playback_events(level);
CREATE INDEX IF NOT EXISTS idx_playback_events_alarm_id ON playback_events(alarm_id) WHERE alarm_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_playback_events_timestamp_level ON playback_events(timestamp DESC, level);
`
