package history

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/alarmcast-go/internal/api"
	"github.com/strefethen/alarmcast-go/internal/apperrors"
)

var validEventLevels = map[string]EventLevel{
	"DEBUG": EventLevelDebug,
	"INFO":  EventLevelInfo,
	"WARN":  EventLevelWarn,
	"ERROR": EventLevelError,
}

// RegisterRoutes wires history routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/history", api.Handler(queryEvents(service)))
	router.Method(http.MethodGet, "/v1/history/{event_id}", api.Handler(getEvent(service)))
}

// queryEvents handles GET /v1/history with optional filters.
func queryEvents(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}

		events, _, hasMore, err := service.QueryEvents(filters)
		if err != nil {
			return apperrors.NewInternalError("Failed to query playback events")
		}

		resources := make([]map[string]any, 0, len(events))
		for _, event := range events {
			resources = append(resources, formatEvent(&event))
		}
		return api.WriteList(w, "/v1/history", resources, hasMore)
	}
}

// getEvent handles GET /v1/history/{event_id}.
func getEvent(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		eventID := chi.URLParam(r, "event_id")

		event, err := service.GetEvent(eventID)
		if err != nil {
			var notFoundErr *EventNotFoundError
			if errors.As(err, &notFoundErr) {
				return apperrors.NewNotFoundResource("playback_event", eventID)
			}
			return apperrors.NewInternalError("Failed to get playback event")
		}

		return api.WriteResource(w, http.StatusOK, formatEvent(event))
	}
}

func parseQueryFilters(r *http.Request) (EventQueryFilters, error) {
	filters := EventQueryFilters{
		Limit:  DefaultQueryLimit,
		Offset: 0,
	}

	query := r.URL.Query()

	if from := query.Get("from"); from != "" {
		if _, err := time.Parse(time.RFC3339, from); err != nil {
			return filters, apperrors.NewValidationError("invalid 'from' datetime format, expected ISO 8601", map[string]any{"from": from})
		}
		filters.StartDate = &from
	}
	if to := query.Get("to"); to != "" {
		if _, err := time.Parse(time.RFC3339, to); err != nil {
			return filters, apperrors.NewValidationError("invalid 'to' datetime format, expected ISO 8601", map[string]any{"to": to})
		}
		filters.EndDate = &to
	}
	if eventType := query.Get("type"); eventType != "" {
		filters.Type = &eventType
	}
	if level := query.Get("level"); level != "" {
		parsedLevel, ok := validEventLevels[level]
		if !ok {
			return filters, apperrors.NewValidationError("invalid level", map[string]any{
				"level":        level,
				"valid_levels": []string{"DEBUG", "INFO", "WARN", "ERROR"},
			})
		}
		filters.Level = &parsedLevel
	}
	if alarmID := query.Get("alarm_id"); alarmID != "" {
		filters.AlarmID = &alarmID
	}
	if deviceID := query.Get("device_id"); deviceID != "" {
		filters.DeviceID = &deviceID
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > MaxQueryLimit {
			return filters, apperrors.NewValidationError("invalid limit, must be between 1 and 1000", map[string]any{
				"limit": limitStr,
			})
		}
		filters.Limit = limit
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filters, apperrors.NewValidationError("invalid offset, must be >= 0", map[string]any{
				"offset": offsetStr,
			})
		}
		filters.Offset = offset
	}

	return filters, nil
}

// formatEvent formats an Event for JSON response.
func formatEvent(event *Event) map[string]any {
	result := map[string]any{
		"object":    "playback_event",
		"event_id":  event.EventID,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339),
		"type":      event.Type,
		"level":     string(event.Level),
		"message":   event.Message,
	}
	if event.AlarmID != nil {
		result["alarm_id"] = *event.AlarmID
	}
	if event.DeviceID != nil {
		result["device_id"] = *event.DeviceID
	}
	if event.RequestID != nil {
		result["request_id"] = *event.RequestID
	}
	if len(event.Payload) > 0 {
		result["payload"] = event.Payload
	}
	return result
}
