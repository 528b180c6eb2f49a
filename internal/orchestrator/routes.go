package orchestrator

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/alarmcast-go/internal/api"
	"github.com/strefethen/alarmcast-go/internal/apperrors"
)

// RegisterRoutes wires the alarm command surface to the router. The
// surface is deliberately thin: parse, validate, delegate.
func RegisterRoutes(router chi.Router, o *Orchestrator) {
	router.Method(http.MethodPost, "/v1/alarms/{alarmID}/start", api.Handler(startAlarm(o)))
	router.Method(http.MethodPost, "/v1/alarms/{alarmID}/stop", api.Handler(stopAlarm(o)))
	router.Method(http.MethodGet, "/v1/alarms/ringing", api.Handler(getRinging(o)))
	router.Method(http.MethodGet, "/v1/alarms/{alarmID}", api.Handler(getAlarm(o)))
}

// startAlarm handles POST /v1/alarms/{alarmID}/start
func startAlarm(o *Orchestrator) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		alarmID := chi.URLParam(r, "alarmID")

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		req.AlarmID = alarmID

		if req.PrimaryMediaRef == "" {
			return apperrors.NewValidationError("primary_media_ref is required", nil)
		}
		if req.Volume < 0 || req.Volume > 1 {
			return apperrors.NewValidationError("volume must be between 0.0 and 1.0", map[string]any{
				"volume": req.Volume,
			})
		}
		if req.SequenceGapMs < 0 {
			return apperrors.NewValidationError("sequence_gap_ms must not be negative", nil)
		}

		if err := o.StartAlarm(req); err != nil {
			return err
		}
		return api.WriteAction(w, http.StatusAccepted, map[string]any{
			"object":   "alarm",
			"alarm_id": alarmID,
			"status":   "started",
		})
	}
}

// stopAlarm handles POST /v1/alarms/{alarmID}/stop. Stopping is
// idempotent and always succeeds.
func stopAlarm(o *Orchestrator) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		alarmID := chi.URLParam(r, "alarmID")
		o.StopAlarm(alarmID)
		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":   "alarm",
			"alarm_id": alarmID,
			"status":   "stopped",
		})
	}
}

// getRinging handles GET /v1/alarms/ringing
func getRinging(o *Orchestrator) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		ids := o.RingingIDs()
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "ringing_state",
			"ringing":   len(ids) > 0,
			"alarm_ids": ids,
		})
	}
}

// getAlarm handles GET /v1/alarms/{alarmID}
func getAlarm(o *Orchestrator) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		alarmID := chi.URLParam(r, "alarmID")
		snap, ok := o.SnapshotFor(alarmID)
		if !ok {
			return apperrors.NewNotFoundResource("alarm", alarmID)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":      "alarm_snapshot",
			"alarm_id":    snap.AlarmID,
			"backend":     string(snap.Backend),
			"position_ms": snap.Position.Milliseconds(),
			"duration_ms": snap.Duration.Milliseconds(),
			"playing":     snap.Playing,
			"paused":      snap.Paused,
			"buffering":   snap.Buffering,
			"media_ref":   snap.MediaRef,
			"volume":      snap.Volume,
			"muted":       snap.Muted,
			"started_at":  snap.StartedAt,
			"fell_back":   snap.FellBack,
			"signal_only": snap.SignalOnly,
		})
	}
}
