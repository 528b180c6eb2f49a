package castsession

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/alarmcast-go/internal/api"
	"github.com/strefethen/alarmcast-go/internal/apperrors"
	"github.com/strefethen/alarmcast-go/internal/castproto"
)

// LastDeviceSource reads the persisted last-used cast device (matches
// settings.Service).
type LastDeviceSource interface {
	LastDevice() (castproto.Device, bool, error)
}

// DeviceResource is the JSON shape of one discovered device.
type DeviceResource struct {
	Object   string `json:"object"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	LastUsed bool   `json:"last_used"`
}

// RegisterRoutes wires the device listing route to the router.
func RegisterRoutes(router chi.Router, scanner *Scanner, lastDevice LastDeviceSource) {
	router.Method(http.MethodGet, "/v1/devices", api.Handler(listDevices(scanner, lastDevice)))
}

// listDevices handles GET /v1/devices: a bounded discovery window,
// shared between concurrent callers, with the saved device marked.
func listDevices(scanner *Scanner, lastDevice LastDeviceSource) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		devices, _, err := scanner.Scan(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Device discovery failed")
		}

		savedID := ""
		if device, ok, err := lastDevice.LastDevice(); err == nil && ok {
			savedID = device.ID
		}

		resources := make([]DeviceResource, 0, len(devices))
		for _, device := range devices {
			resources = append(resources, DeviceResource{
				Object:   "cast_device",
				ID:       device.ID,
				Name:     device.Name,
				LastUsed: device.ID == savedID,
			})
		}
		return api.WriteList(w, "/v1/devices", resources, false)
	}
}
