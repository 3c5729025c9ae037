package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ragtagcal/internal/cache"
	"ragtagcal/internal/calendar"
	"ragtagcal/internal/config"
	"ragtagcal/internal/feed"
	appLog "ragtagcal/internal/log"
)

// Server exposes the cached feed views and the calendar grid over HTTP.
type Server struct {
	cfg   *config.Config
	cache *cache.Manager
	mux   *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, mgr *cache.Manager) *Server {
	s := &Server{
		cfg:   cfg,
		cache: mgr,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("GET /get-ics/{type}", s.handleGetICS)
	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleGetICS serves one dataset:
//
//	GET /get-ics/{type}   type ∈ full | min | upcoming | fresh
//
// "fresh" bypasses the cache entirely; the other three are answered from
// the persisted snapshots, refreshing first when stale.
func (s *Server) handleGetICS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	typ := r.PathValue("type")

	if typ == "fresh" {
		events, err := s.cache.GetFresh(ctx)
		if err != nil {
			appLog.Error("get-ics fresh failed", err)
			writeDatasetError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	view, err := cache.ParseView(typ)
	if err != nil {
		writeDatasetError(w, err)
		return
	}

	events, err := s.cache.Get(ctx, view)
	if err != nil {
		appLog.Error("get-ics failed", err, "view", typ)
		writeDatasetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// calendarResponse is the JSON response shape for /api/calendar.
type calendarResponse struct {
	Months      []calendar.Month `json:"months"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// handleCalendar returns the month grids with the upcoming events placed
// onto their day cells.
//
// GET /api/calendar?months=5
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count := parseIntDefault(r.URL.Query().Get("months"), s.cfg.Months)
	if count <= 0 {
		count = s.cfg.Months
	}

	// Anchor the grid in UTC: placement derives key/day from the UTC
	// dtstart, so a local-time anchor would shift midnight-adjacent events
	// one day off on non-UTC hosts.
	now := time.Now().UTC()
	months := calendar.GenerateMonths(now, count)

	events, err := s.cache.Get(ctx, cache.ViewUpcoming)
	if err != nil {
		appLog.Error("calendar view failed", err)
		writeDatasetError(w, err)
		return
	}
	calendar.PlaceAll(months, events)

	writeJSON(w, http.StatusOK, calendarResponse{
		Months:      months,
		GeneratedAt: now,
	})
}

// datasetError is the error payload shape the calendar UI expects.
type datasetError struct {
	Data    any    `json:"data"`
	Message any    `json:"message"`
	Error   string `json:"error"`
}

// writeDatasetError renders an error as the UI's failure payload. The
// message distinguishes upstream fetch failures from other internal errors.
func writeDatasetError(w http.ResponseWriter, err error) {
	var fetchErr *feed.FetchError
	msg := "internal error: " + err.Error()
	if errors.As(err, &fetchErr) {
		msg = "request error: " + err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, datasetError{Error: msg})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}
