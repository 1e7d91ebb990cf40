package uiapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stromplan/stromplan/internal/engine"
	"github.com/stromplan/stromplan/internal/forecast"
	"github.com/stromplan/stromplan/internal/metrics"
	"github.com/stromplan/stromplan/internal/prices"
	"github.com/stromplan/stromplan/internal/store"
)

const version = "1.0.0"

// Forecaster assembles engine-ready slots for a time range.
type Forecaster interface {
	Slots(ctx context.Context, from, to time.Time) ([]engine.ForecastSlot, error)
}

// PriceSource fetches one calendar day of prices.
type PriceSource interface {
	Day(ctx context.Context, day time.Time) ([]prices.HourlyPrice, error)
}

// Server serves the HTTP API of the daemon.
type Server struct {
	Store      *store.Store
	Forecaster Forecaster
	Prices     PriceSource
	Engine     *engine.Engine
	Sink       *metrics.Sink
	Gatherer   prometheus.Gatherer

	Region       string
	Loc          *time.Location
	DefaultPrefs engine.UserPreferences
	HorizonHours int
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for local development
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/prices", s.handleGetPrices)
		r.Get("/forecast", s.handleGetForecast)
		r.Get("/allocations", s.handleGetAllocations)
		r.Get("/allocations/current", s.handleGetCurrentAllocation)
		r.Get("/history", s.handleGetHistory)
		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handleUpdatePreferences)
	})

	if s.Gatherer != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "stromplan",
		"version":     version,
		"region":      s.Region,
		"server_time": time.Now().In(s.Loc).Format(time.RFC3339),
	})
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	day := time.Now().In(s.Loc)
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, s.Loc)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
		day = parsed
	}

	if cached, found, err := s.Store.CachedPrices(s.Region, day); err == nil && found {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	fetched, err := s.Prices.Day(ctx, day)
	if err != nil {
		s.Sink.RecordFetchError("smard")
		respondError(w, http.StatusBadGateway, "fetching prices: "+err.Error())
		return
	}
	if len(fetched) > 0 {
		// cache write failures only cost the next request a refetch
		_ = s.Store.CachePrices(s.Region, day, fetched)
	}
	respondJSON(w, http.StatusOK, fetched)
}

func (s *Server) handleGetForecast(w http.ResponseWriter, r *http.Request) {
	slots, err := s.forecastSlots(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"slots": slots,
		"stats": forecast.Summarize(slots),
	})
}

func (s *Server) handleGetAllocations(w http.ResponseWriter, r *http.Request) {
	results, err := s.runAllocation(r.Context())
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetCurrentAllocation(w http.ResponseWriter, r *http.Request) {
	run, found, err := s.Store.LatestRun()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var results []engine.AllocationResult
	if found {
		results = run.Results
	}
	now := time.Now().In(s.Loc)
	current, ok := engine.ResultForHour(results, now)
	if !ok {
		// the logged plan may be stale; compute a fresh one before giving up
		results, err = s.runAllocation(r.Context())
		if err != nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		current, ok = engine.ResultForHour(results, now)
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no allocation covers the current hour")
		return
	}
	respondJSON(w, http.StatusOK, current)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	runs, err := s.Store.RecentRuns(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.preferences())
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs engine.UserPreferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := prefs.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Store.SavePreferences(prefs); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}

// preferences returns the stored preferences, falling back to the
// configured defaults when none have been saved.
func (s *Server) preferences() engine.UserPreferences {
	prefs, found, err := s.Store.GetPreferences()
	if err != nil || !found {
		return s.DefaultPrefs
	}
	return prefs
}

func (s *Server) forecastSlots(ctx context.Context) ([]engine.ForecastSlot, error) {
	horizon := s.HorizonHours
	if horizon <= 0 {
		horizon = 24
	}
	from := time.Now().In(s.Loc).Truncate(time.Hour)
	to := from.Add(time.Duration(horizon) * time.Hour)
	return s.Forecaster.Slots(ctx, from, to)
}

func (s *Server) runAllocation(ctx context.Context) ([]engine.AllocationResult, error) {
	started := time.Now()

	slots, err := s.forecastSlots(ctx)
	if err != nil {
		s.Sink.RecordFetchError("forecast")
		return nil, err
	}

	results, err := s.Engine.Allocate(slots, s.preferences())
	if err != nil {
		return nil, err
	}

	s.Sink.RecordRun(len(results), time.Since(started))
	if err := s.Store.RecordRun(started, results); err != nil {
		return nil, err
	}
	return results, nil
}

// statusFor maps the known error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidPreferences):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, forecast.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
