package server

import (
	"context"
	"log"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/strefethen/alarmcast-go/internal/api"
	"github.com/strefethen/alarmcast-go/internal/audio"
	"github.com/strefethen/alarmcast-go/internal/auth"
	"github.com/strefethen/alarmcast-go/internal/castplayer"
	"github.com/strefethen/alarmcast-go/internal/castproto"
	"github.com/strefethen/alarmcast-go/internal/castsession"
	"github.com/strefethen/alarmcast-go/internal/config"
	"github.com/strefethen/alarmcast-go/internal/db"
	"github.com/strefethen/alarmcast-go/internal/history"
	"github.com/strefethen/alarmcast-go/internal/media"
	"github.com/strefethen/alarmcast-go/internal/orchestrator"
	"github.com/strefethen/alarmcast-go/internal/ringsignal"
	"github.com/strefethen/alarmcast-go/internal/runloop"
	"github.com/strefethen/alarmcast-go/internal/settings"
	"github.com/strefethen/alarmcast-go/internal/system"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// Options controls server wiring.
type Options struct {
	// Conn overrides the cast connection. Nil wires the built-in simulator
	// populated from SIM_DEVICE_NAME. Tests inject their own.
	Conn castproto.Conn
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	log.Printf("Using database: %s", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))

	registerHealthRoutes(router)

	pairingStore := auth.NewPairingStore(5 * time.Minute)
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	pairingStore.StartCleanup(shutdownCtx, time.Minute)
	auth.RegisterRoutes(router, pairingStore, cfg)

	conn := options.Conn
	if conn == nil {
		sim := castproto.NewSimulator(nil)
		sim.AddDevice(castproto.Device{
			ID:   "sim-default",
			Name: cfg.SimDeviceName,
		})
		sim.SetClipLength(time.Duration(cfg.SimClipLengthSec) * time.Second)
		conn = sim
	}

	loop := runloop.New(nil)
	loop.Start()

	session := castsession.NewManager(cfg, loop, conn, nil)
	session.Start()

	caster := castplayer.NewController(cfg, loop, conn, session, nil)
	caster.Start()

	localPlayer, err := audio.NewExecPlayer(cfg.LocalPlayerCommand, nil)
	if err != nil {
		shutdownCancel()
		dbPair.Close()
		return nil, nil, err
	}

	catalog, err := media.LoadCatalog(cfg.ToneCatalogPath)
	if err != nil {
		shutdownCancel()
		dbPair.Close()
		return nil, nil, err
	}
	resolver := media.NewResolver(cfg.PublicBaseURL, cfg.MediaDir, catalog)
	media.RegisterRoutes(router, catalog)

	settingsService := settings.NewService(dbPair, nil)
	settings.RegisterRoutes(router, settingsService)

	historyService, err := history.NewService(cfg, dbPair, nil)
	if err != nil {
		shutdownCancel()
		dbPair.Close()
		return nil, nil, err
	}
	history.RegisterRoutes(router, historyService)
	historyService.StartPruneJob()

	orch := orchestrator.New(cfg, loop, conn, session, caster, localPlayer, resolver, settingsService, historyService, historyService, nil)
	orch.Start()
	orchestrator.RegisterRoutes(router, orch)

	scanner := castsession.NewScanner(conn, time.Duration(cfg.DeviceScanWindowMs)*time.Millisecond)
	castsession.RegisterRoutes(router, scanner, settingsService)

	hub := ringsignal.NewHub(nil)
	unsubRinging := orch.SubscribeRinging(hub.Update)
	ringsignal.RegisterRoutes(router, hub)

	systemService := system.NewService(cfg, dbPair, nil, orch, hub)
	system.RegisterRoutes(router, systemService)

	// Serve alarm media (tone files live under <MediaDir>/tones)
	router.Handle("/v1/assets/*", http.StripPrefix("/v1/assets/", http.FileServer(http.Dir(cfg.MediaDir))))

	shutdown := func(ctx context.Context) error {
		shutdownCancel()
		unsubRinging()
		orch.Stop()
		caster.Stop()
		session.Stop()
		loop.Stop()
		hub.Close()
		historyService.StopPruneJob()
		if ctx == nil {
			ctx = context.Background()
		}
		return dbPair.Close()
	}

	return router, shutdown, nil
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "alarmcast",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
