package media

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/alarmcast-go/internal/api"
)

// ToneResource is the JSON shape of one catalog tone.
type ToneResource struct {
	Object string `json:"object"`
	ID     string `json:"id"`
	Name   string `json:"name"`
	Ref    string `json:"ref"`
}

// RegisterRoutes wires the tone catalog listing to the router.
func RegisterRoutes(router chi.Router, catalog *Catalog) {
	router.Method(http.MethodGet, "/v1/tones", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		tones := catalog.Tones()
		resources := make([]ToneResource, 0, len(tones))
		for _, tone := range tones {
			resources = append(resources, ToneResource{
				Object: "tone",
				ID:     tone.ID,
				Name:   tone.Name,
				Ref:    TonePrefix + tone.ID,
			})
		}
		return api.WriteList(w, "/v1/tones", resources, false)
	}))
}
