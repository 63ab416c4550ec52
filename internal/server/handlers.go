package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/marketecho/marketecho/internal/domain"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "marketecho",
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleRuns returns recent pipeline runs, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.results.Runs(queryLimit(r, 50))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleCorrelations returns the latest version of each stored correlation result.
func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	latest, err := s.results.Latest(queryLimit(r, 200))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list correlation results")
		s.writeError(w, http.StatusInternalServerError, "failed to list correlation results")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": latest})
}

// handleCorrelationByKey returns the latest version for a single result key,
// e.g. "s1|XOM|3".
func (s *Server) handleCorrelationByKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	result, err := s.results.Get(key)
	if err != nil {
		if errors.Is(err, domain.ErrNoData) {
			s.writeError(w, http.StatusNotFound, "no result for key")
			return
		}
		s.log.Error().Err(err).Str("key", key).Msg("Failed to load correlation result")
		s.writeError(w, http.StatusInternalServerError, "failed to load correlation result")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleBacktests returns recent backtest results, newest first.
func (s *Server) handleBacktests(w http.ResponseWriter, r *http.Request) {
	backtests, err := s.results.LatestBacktests(queryLimit(r, 20))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list backtests")
		s.writeError(w, http.StatusInternalServerError, "failed to list backtests")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"backtests": backtests})
}

// queryLimit parses the optional ?limit= parameter, falling back to def.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, s.log, status, data)
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"status": "error", "message": message})
}
