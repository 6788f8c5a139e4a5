package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gridpilot/gridpilot/pkg/allowance"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
)

type allowanceResponse struct {
	Status       allowance.Status        `json:"status"`
	NextEligible allowance.EligibleTimes `json:"nextEligible"`
}

type decisionResponse struct {
	Allowed        bool             `json:"allowed"`
	Reason         allowance.Reason `json:"reason"`
	NextEligibleAt time.Time        `json:"nextEligibleAt,omitzero"`
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := s.allowance.CurrentStatus(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get allowance status", slog.Any("error", err))
		writeJSONError(w, "failed to get allowance status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, allowanceResponse{
		Status:       status,
		NextEligible: s.allowance.Project(status, time.Now().UTC()),
	})
}

// handleRefresh triggers an on-demand Solcast fetch for one endpoint. A
// policy denial is reported as a normal 200 response so dashboards can
// show the reason and next eligible time.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	e := types.Endpoint(r.FormValue("endpoint"))
	if !e.Valid() {
		writeJSONError(w, "endpoint must be forecast or actual", http.StatusBadRequest)
		return
	}
	force := false
	if v := r.FormValue("force"); v != "" {
		var err error
		if force, err = strconv.ParseBool(v); err != nil {
			writeJSONError(w, "invalid force value", http.StatusBadRequest)
			return
		}
	}

	settings, _, err := s.storage.GetSettings(ctx)
	if err != nil && !errors.Is(err, storage.ErrNoSettings) {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	if settings.SolcastSiteID == "" {
		writeJSONError(w, "no solcast site configured", http.StatusConflict)
		return
	}

	dec, err := s.requester.Refresh(ctx, e, settings.SolcastSiteID, force)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "refresh failed",
			slog.String("endpoint", string(e)), slog.Any("error", err))
		writeJSONError(w, "refresh failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, decisionResponse{
		Allowed:        dec.Allowed(),
		Reason:         dec.Reason(),
		NextEligibleAt: dec.NextEligibleAt(),
	})
}
