package solar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gridpilot/gridpilot/pkg/allowance"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Requester runs the full guarded refresh workflow: reserve an attempt
// with the allowance service, call Solcast outside any lock, store the
// results, and finalize the reservation. It is the only code path that
// talks to Solcast; everything else reads from storage.
type Requester struct {
	svc    *allowance.Service
	client Client
	db     storage.Database
}

// NewRequester wires the workflow together.
func NewRequester(svc *allowance.Service, client Client, db storage.Database) *Requester {
	return &Requester{svc: svc, client: client, db: db}
}

// Refresh attempts one guarded call to the given endpoint. A policy denial
// is not an error: the returned Decision says whether the call ran and,
// if not, when to try again. force bypasses only the minimum-interval
// rule.
func (r *Requester) Refresh(ctx context.Context, e types.Endpoint, siteID string, force bool) (allowance.Decision, error) {
	dec, err := r.svc.CheckAndLock(ctx, e, force)
	if err != nil {
		return allowance.Decision{}, err
	}
	if !dec.Allowed() {
		log.Ctx(ctx).InfoContext(ctx, "skipping solcast refresh",
			slog.String("endpoint", string(e)),
			slog.String("reason", string(dec.Reason())),
			slog.Time("nextEligibleAt", dec.NextEligibleAt()))
		return dec, nil
	}

	// The attempt is reserved; the outbound call happens with no lock held.
	estimates, err := r.call(ctx, e, siteID)
	if err != nil {
		var apiErr *APIError
		httpStatus := 0
		if errors.As(err, &apiErr) {
			httpStatus = apiErr.StatusCode
		}
		if ferr := r.svc.RecordFailure(ctx, e, httpStatus); ferr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to record solcast failure", slog.Any("err", ferr))
		}
		return dec, fmt.Errorf("solcast %s call failed: %w", e, err)
	}

	if err := r.db.UpsertSolarEstimates(ctx, estimates, types.CurrentSolarHistoryVersion); err != nil {
		// The call itself succeeded, so the reservation still finalizes as
		// a success even though storing the data failed.
		if serr := r.svc.RecordSuccess(ctx, e); serr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to record solcast success", slog.Any("err", serr))
		}
		return dec, fmt.Errorf("failed to store solar estimates: %w", err)
	}

	if err := r.svc.RecordSuccess(ctx, e); err != nil {
		return dec, fmt.Errorf("failed to record solcast success: %w", err)
	}

	log.Ctx(ctx).InfoContext(ctx, "refreshed solcast data",
		slog.String("endpoint", string(e)),
		slog.Int("periods", len(estimates)))
	return dec, nil
}

func (r *Requester) call(ctx context.Context, e types.Endpoint, siteID string) ([]types.SolarEstimate, error) {
	if e == types.EndpointActual {
		return r.client.GetEstimatedActuals(ctx, siteID)
	}
	return r.client.GetForecasts(ctx, siteID)
}
