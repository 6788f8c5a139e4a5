package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// parseTimeRange reads optional RFC3339 start/end query parameters. The
// default window is the last 24 hours through the next 24 hours, which
// covers every dashboard view we render.
func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start := now.Add(-24 * time.Hour)
	end := now.Add(24 * time.Hour)

	if v := r.FormValue("start"); v != "" {
		var err error
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
	}
	if v := r.FormValue("end"); v != "" {
		var err error
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start must be before end")
	}
	return start, end, nil
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rates, err := s.storage.GetRates(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get rates", slog.Any("error", err))
		writeJSONError(w, "failed to get rates", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rates)
}

func (s *Server) handleSolar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := types.EstimateKind(r.FormValue("kind"))
	if kind == "" {
		kind = types.EstimateKindForecast
	}
	if kind != types.EstimateKindForecast && kind != types.EstimateKindActual {
		writeJSONError(w, "kind must be forecast or actual", http.StatusBadRequest)
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	estimates, err := s.storage.GetSolarEstimates(ctx, kind, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get solar estimates", slog.Any("error", err))
		writeJSONError(w, "failed to get solar estimates", http.StatusInternalServerError)
		return
	}
	writeJSON(w, estimates)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	telemetry, err := s.storage.GetTelemetry(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get telemetry", slog.Any("error", err))
		writeJSONError(w, "failed to get telemetry", http.StatusInternalServerError)
		return
	}
	writeJSON(w, telemetry)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	actions, err := s.storage.GetActionHistory(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get action history", slog.Any("error", err))
		writeJSONError(w, "failed to get action history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, actions)
}
