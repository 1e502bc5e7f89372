package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/unklstewy/flightscope/internal/db"
	"github.com/unklstewy/flightscope/internal/metrics"
	"github.com/unklstewy/flightscope/internal/poll"
	"github.com/unklstewy/flightscope/pkg/config"
	"github.com/unklstewy/flightscope/pkg/opensky"
)

// flightsService is the part of flights.Service the handlers use.
type flightsService interface {
	GetFlights(ctx context.Context, lat, lng, sizeKm float64) ([]opensky.FlightRecord, error)
	Credits(ctx context.Context) (opensky.RateLimitHeaders, error)
}

// Server holds the HTTP router and its dependencies
type Server struct {
	router   *chi.Mux
	flights  flightsService
	metrics  *metrics.Pipeline
	database *db.DB
	logger   *slog.Logger
	cfg      *config.Config
	started  time.Time
	upgrader websocket.Upgrader
}

// NewServer creates a server with its routes mounted. database may be nil.
func NewServer(cfg *config.Config, svc flightsService, m *metrics.Pipeline, database *db.DB, logger *slog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		flights:  svc,
		metrics:  m,
		database: database,
		logger:   logger,
		cfg:      cfg,
		started:  time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/flights", s.handleGetFlights)
		r.Get("/flights/stream", s.handleFlightStream)
		r.Get("/credits", s.handleGetCredits)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusNotFound, "API endpoint not found")
		})
	})
}

// handleGetFlights returns the airborne aircraft around lat/lng.
func (s *Server) handleGetFlights(w http.ResponseWriter, r *http.Request) {
	lat, lng, size, err := parseFlightQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flights, err := s.flights.GetFlights(r.Context(), lat, lng, size)
	if err != nil {
		s.logger.Error("Error fetching flights", "err", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch flights")
		return
	}

	respondJSON(w, http.StatusOK, flights)
}

// handleFlightStream pushes a fresh flight list over a WebSocket after
// every poll. The interval query parameter is in seconds and never drops
// below the cache TTL.
func (s *Server) handleFlightStream(w http.ResponseWriter, r *http.Request) {
	lat, lng, size, err := parseFlightQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	interval := s.streamInterval(r.URL.Query().Get("interval"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		s.logger.Warn("WebSocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends data; reading surfaces its close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Info("Flight stream opened", "remote", r.RemoteAddr, "interval", interval)

	sched := poll.New(func(ctx context.Context) {
		flights, err := s.flights.GetFlights(ctx, lat, lng, size)
		if err != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(flights); err != nil {
			s.logger.Debug("Flight stream write failed", "err", err)
			cancel()
		}
	}, interval)
	sched.Run(ctx)

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.logger.Info("Flight stream closed", "remote", r.RemoteAddr)
}

// handleGetCredits reports the remaining OpenSky API credits.
func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	headers, err := s.flights.Credits(r.Context())
	if err != nil {
		s.logger.Error("Error checking credits", "err", err)
		respondError(w, http.StatusBadGateway, "Failed to check credits")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"remaining": headers.Remaining,
		"limit":     headers.Limit,
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": getEnvOrDefault("FLIGHTSCOPE_ENV", "development"),
		"uptime":      time.Since(s.started).Seconds(),
	}
	if s.database != nil {
		if db.HealthCheck(r.Context(), s.database) {
			resp["database"] = "ok"
		} else {
			resp["database"] = "unavailable"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) streamInterval(raw string) time.Duration {
	minimum := s.cfg.Cache.TTL()
	if raw == "" {
		return minimum
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return minimum
	}
	d := time.Duration(seconds * float64(time.Second))
	if d < minimum {
		return minimum
	}
	return d
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.Server.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// parseFlightQuery reads lat, lng and size as finite numbers.
func parseFlightQuery(r *http.Request) (lat, lng, size float64, err error) {
	q := r.URL.Query()
	parse := func(name string) (float64, error) {
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("invalid %s parameter", name)
		}
		return v, nil
	}

	var errs []error
	if lat, err = parse("lat"); err != nil {
		errs = append(errs, err)
	}
	if lng, err = parse("lng"); err != nil {
		errs = append(errs, err)
	}
	if size, err = parse("size"); err != nil {
		errs = append(errs, err)
	}
	return lat, lng, size, errors.Join(errs...)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
