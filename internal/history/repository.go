package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventLevel represents the severity level of a playback event.
type EventLevel string

const (
	EventLevelDebug EventLevel = "DEBUG"
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

// Playback event types.
const (
	EventAlarmStarted  = "ALARM_STARTED"
	EventAlarmStopped  = "ALARM_STOPPED"
	EventCastStarted   = "CAST_STARTED"
	EventCastFailed    = "CAST_FAILED"
	EventLocalStarted  = "LOCAL_STARTED"
	EventLocalFallback = "LOCAL_FALLBACK"
	EventMediaError    = "MEDIA_ERROR"
	EventSafetyForced  = "SAFETY_TIMEOUT_FORCED"
	EventSystemStartup = "SYSTEM_STARTUP"
	EventSystemError   = "SYSTEM_ERROR"
)

// Event represents one playback history event.
type Event struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Level     EventLevel     `json:"level"`
	AlarmID   *string        `json:"alarm_id,omitempty"`
	DeviceID  *string        `json:"device_id,omitempty"`
	RequestID *string        `json:"request_id,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
}

// WriteEventInput contains the fields for recording a new event.
type WriteEventInput struct {
	Type      string         `json:"type"`
	Level     *EventLevel    `json:"level,omitempty"`
	AlarmID   *string        `json:"alarm_id,omitempty"`
	DeviceID  *string        `json:"device_id,omitempty"`
	RequestID *string        `json:"request_id,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventQueryFilters contains optional filters for querying events.
type EventQueryFilters struct {
	Type      *string     `json:"type,omitempty"`
	Level     *EventLevel `json:"level,omitempty"`
	AlarmID   *string     `json:"alarm_id,omitempty"`
	DeviceID  *string     `json:"device_id,omitempty"`
	StartDate *string     `json:"start_date,omitempty"` // ISO 8601
	EndDate   *string     `json:"end_date,omitempty"`   // ISO 8601
	Limit     int         `json:"limit,omitempty"`
	Offset    int         `json:"offset,omitempty"`
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for playback events.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB // For SELECT queries
	writer *sql.DB // For INSERT/DELETE
}

// NewRepository creates a new history Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// InsertEvent writes a new playback event.
// Generates UUID, captures timestamp, defaults level to INFO.
func (r *Repository) InsertEvent(input WriteEventInput) (*Event, error) {
	eventID := uuid.New().String()
	timestamp := time.Now().UTC().Format(time.RFC3339)

	level := EventLevelInfo
	if input.Level != nil {
		level = *input.Level
	}

	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	_, err = r.writer.Exec(`
		INSERT INTO playback_events (event_id, timestamp, type, level, alarm_id, device_id, request_id, message, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, timestamp, input.Type, string(level), input.AlarmID, input.DeviceID, input.RequestID, input.Message, string(payloadJSON))
	if err != nil {
		return nil, err
	}

	return r.GetEvent(eventID)
}

// GetEvent retrieves a single event by ID.
// Returns nil, nil if not found.
func (r *Repository) GetEvent(eventID string) (*Event, error) {
	row := r.reader.QueryRow(`
		SELECT event_id, timestamp, type, level, alarm_id, device_id, request_id, message, payload
		FROM playback_events
		WHERE event_id = ?
	`, eventID)

	var event Event
	var timestamp, level, payloadJSON string
	var alarmID, deviceID, requestID sql.NullString
	err := row.Scan(&event.EventID, &timestamp, &event.Type, &level, &alarmID, &deviceID, &requestID, &event.Message, &payloadJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return parseEvent(&event, timestamp, level, alarmID, deviceID, requestID, payloadJSON)
}

// QueryEvents retrieves events matching filters with pagination, newest
// first. Returns events, total count, and error.
func (r *Repository) QueryEvents(filters EventQueryFilters) ([]Event, int, error) {
	whereClause, args := buildWhereClause(filters)

	countQuery := "SELECT COUNT(*) FROM playback_events " + whereClause
	var total int
	if err := r.reader.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT event_id, timestamp, type, level, alarm_id, device_id, request_id, message, payload
		FROM playback_events
		` + whereClause + `
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`
	queryArgs := append(args, limit, filters.Offset)

	rows, err := r.reader.Query(query, queryArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var timestamp, level, payloadJSON string
		var alarmID, deviceID, requestID sql.NullString
		if err := rows.Scan(&event.EventID, &timestamp, &event.Type, &level, &alarmID, &deviceID, &requestID, &event.Message, &payloadJSON); err != nil {
			return nil, 0, err
		}
		parsed, err := parseEvent(&event, timestamp, level, alarmID, deviceID, requestID, payloadJSON)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *parsed)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if events == nil {
		events = []Event{}
	}
	return events, total, nil
}

// PruneOldEvents deletes events older than retentionDays.
// Returns number of rows deleted.
func (r *Repository) PruneOldEvents(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	result, err := r.writer.Exec(`
		DELETE FROM playback_events
		WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func buildWhereClause(filters EventQueryFilters) (string, []any) {
	conditions := []string{}
	args := []any{}

	if filters.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, *filters.Type)
	}
	if filters.Level != nil {
		conditions = append(conditions, "level = ?")
		args = append(args, string(*filters.Level))
	}
	if filters.AlarmID != nil {
		conditions = append(conditions, "alarm_id = ?")
		args = append(args, *filters.AlarmID)
	}
	if filters.DeviceID != nil {
		conditions = append(conditions, "device_id = ?")
		args = append(args, *filters.DeviceID)
	}
	if filters.StartDate != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filters.StartDate)
	}
	if filters.EndDate != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *filters.EndDate)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	return whereClause, args
}

func parseEvent(event *Event, timestamp, level string, alarmID, deviceID, requestID sql.NullString, payloadJSON string) (*Event, error) {
	var err error
	event.Timestamp, err = time.Parse(time.RFC3339, timestamp)
	if err != nil {
		event.Timestamp, _ = time.Parse("2006-01-02 15:04:05", timestamp)
	}

	event.Level = EventLevel(level)

	if alarmID.Valid {
		event.AlarmID = &alarmID.String
	}
	if deviceID.Valid {
		event.DeviceID = &deviceID.String
	}
	if requestID.Valid {
		event.RequestID = &requestID.String
	}

	if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
		return nil, err
	}
	return event, nil
}
