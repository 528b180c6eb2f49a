package settings

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/alarmcast-go/internal/api"
	"github.com/strefethen/alarmcast-go/internal/apperrors"
	"github.com/strefethen/alarmcast-go/internal/castproto"
)

// SettingsResource is the JSON shape for GET/PUT /v1/settings.
type SettingsResource struct {
	Object     string            `json:"object"`
	LastDevice *castproto.Device `json:"last_device"`
	Volume     *float64          `json:"volume"`
}

// UpdateSettingsInput is the request body for PUT /v1/settings.
type UpdateSettingsInput struct {
	LastDevice *castproto.Device `json:"last_device,omitempty"`
	Volume     *float64          `json:"volume,omitempty"`
}

// RegisterRoutes wires settings routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/settings", api.Handler(getSettings(service)))
	router.Method(http.MethodPut, "/v1/settings", api.Handler(updateSettings(service)))
}

// getSettings handles GET /v1/settings
func getSettings(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		resource, err := currentResource(service)
		if err != nil {
			return apperrors.NewInternalError("Failed to read settings")
		}
		return api.WriteResource(w, http.StatusOK, resource)
	}
}

// updateSettings handles PUT /v1/settings
func updateSettings(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input UpdateSettingsInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}

		if input.Volume != nil {
			if *input.Volume < 0 || *input.Volume > 1 {
				return apperrors.NewValidationError("volume must be between 0.0 and 1.0", map[string]any{
					"volume": *input.Volume,
				})
			}
			if err := service.SetVolume(*input.Volume); err != nil {
				return apperrors.NewInternalError("Failed to persist volume")
			}
		}

		if input.LastDevice != nil {
			if input.LastDevice.ID == "" {
				return apperrors.NewValidationError("last_device.id is required", nil)
			}
			if err := service.SetLastDevice(*input.LastDevice); err != nil {
				return apperrors.NewInternalError("Failed to persist last device")
			}
		}

		resource, err := currentResource(service)
		if err != nil {
			return apperrors.NewInternalError("Failed to read settings")
		}
		return api.WriteResource(w, http.StatusOK, resource)
	}
}

func currentResource(service *Service) (SettingsResource, error) {
	resource := SettingsResource{Object: "settings"}

	device, ok, err := service.LastDevice()
	if err != nil {
		return resource, err
	}
	if ok {
		resource.LastDevice = &device
	}

	volume, ok, err := service.Volume()
	if err != nil {
		return resource, err
	}
	if ok {
		resource.Volume = &volume
	}

	return resource, nil
}
