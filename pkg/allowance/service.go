// Package allowance enforces the Solcast API usage policy: a combined
// daily call cap across the forecast and actual endpoints, a minimum
// interval per endpoint, and a backoff window after HTTP 429 responses.
//
// Admission follows a two-phase reserve/finalize protocol. CheckAndLock
// evaluates the policy and reserves an attempt in one exclusive-lock
// transaction; the caller then performs the network call outside any lock
// and finalizes with RecordSuccess or RecordFailure in their own short
// transactions. Holding no lock during the outbound call means a slow
// Solcast response never blocks other policy decisions.
package allowance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/gridpilot/gridpilot/pkg/interval"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
)

const (
	defaultDailyCap            = 6
	defaultForecastMinInterval = "PT4H"
	defaultActualMinInterval   = "PT8H"
	defaultBackoff             = "PT8H"
)

// Config holds the service configuration. Durations are ISO-8601 strings
// or plain integer minutes; empty fields take the defaults above.
type Config struct {
	// DailyCap is the combined daily attempt budget for both endpoints.
	DailyCap int
	// ForecastMinInterval is the minimum time between forecast attempts.
	ForecastMinInterval string
	// ActualMinInterval is the minimum time between estimated-actuals attempts.
	ActualMinInterval string
	// Backoff is how long all endpoints stay blocked after a 429.
	Backoff string
	// ResetTimeZone is the IANA zone whose midnight resets the daily count.
	ResetTimeZone string
}

// Service is the allowance policy state machine. Configuration is fixed
// for the service's lifetime; all mutable state lives in the Store.
type Service struct {
	store Store

	cap         int
	forecastMin time.Duration
	actualMin   time.Duration
	backoff     time.Duration
	resetLoc    *time.Location

	// now is swappable for tests
	now func() time.Time
}

// New builds a Service. Unparsable durations or an unknown timezone are
// configuration errors and fail construction; they are never deferred to
// call time.
func New(store Store, cfg Config) (*Service, error) {
	s := &Service{
		store: store,
		cap:   cfg.DailyCap,
		now:   time.Now,
	}
	if s.cap == 0 {
		s.cap = defaultDailyCap
	}
	if s.cap < 0 {
		return nil, fmt.Errorf("daily cap cannot be negative: %d", s.cap)
	}

	var err error
	if s.forecastMin, err = parseOrDefault(cfg.ForecastMinInterval, defaultForecastMinInterval); err != nil {
		return nil, fmt.Errorf("invalid forecast min interval: %w", err)
	}
	if s.actualMin, err = parseOrDefault(cfg.ActualMinInterval, defaultActualMinInterval); err != nil {
		return nil, fmt.Errorf("invalid actual min interval: %w", err)
	}
	if s.backoff, err = parseOrDefault(cfg.Backoff, defaultBackoff); err != nil {
		return nil, fmt.Errorf("invalid backoff duration: %w", err)
	}

	tz := cfg.ResetTimeZone
	if tz == "" {
		tz = "UTC"
	}
	if s.resetLoc, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid reset timezone %q: %w", tz, err)
	}

	return s, nil
}

func parseOrDefault(v, def string) (time.Duration, error) {
	if v == "" {
		v = def
	}
	return interval.Parse(v)
}

// Configured sets up the allowance service from flags.
func Configured(store Store) *Service {
	cap := lflag.String("solcast-daily-cap", strconv.Itoa(defaultDailyCap), "Combined daily Solcast call budget across both endpoints")
	forecastMin := lflag.String("solcast-forecast-min-interval", defaultForecastMinInterval, "Minimum interval between forecast calls (ISO-8601 or minutes)")
	actualMin := lflag.String("solcast-actual-min-interval", defaultActualMinInterval, "Minimum interval between estimated-actuals calls (ISO-8601 or minutes)")
	backoff := lflag.String("solcast-backoff", defaultBackoff, "How long to block all Solcast calls after a 429 (ISO-8601 or minutes)")
	resetTZ := lflag.String("solcast-reset-timezone", "UTC", "IANA timezone whose midnight resets the daily budget")

	s := &Service{store: store, now: time.Now}

	lflag.Do(func() {
		capN, err := strconv.Atoi(*cap)
		if err != nil {
			panic(fmt.Sprintf("invalid solcast-daily-cap: %v", err))
		}
		svc, err := New(store, Config{
			DailyCap:            capN,
			ForecastMinInterval: *forecastMin,
			ActualMinInterval:   *actualMin,
			Backoff:             *backoff,
			ResetTimeZone:       *resetTZ,
		})
		if err != nil {
			panic(fmt.Sprintf("allowance configuration invalid: %v", err))
		}
		*s = *svc
	})

	return s
}

// MinInterval returns the configured minimum interval for the endpoint.
func (s *Service) MinInterval(e types.Endpoint) time.Duration {
	if e == types.EndpointActual {
		return s.actualMin
	}
	return s.forecastMin
}

// CheckAndLock evaluates the policy for one endpoint and, if admitted,
// reserves the attempt, all inside a single exclusive-lock transaction so
// concurrent callers cannot interleave between check and reserve. Backoff
// is checked first and cannot be bypassed, then the daily cap, then the
// per-endpoint minimum interval; forceMinInterval skips only the last.
// A denial is a normal Decision value, not an error.
func (s *Service) CheckAndLock(ctx context.Context, e types.Endpoint, forceMinInterval bool) (Decision, error) {
	if !e.Valid() {
		return Decision{}, fmt.Errorf("unknown endpoint: %q", e)
	}

	var dec Decision
	err := s.store.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
		now := s.now()
		st, changed := s.ensureCurrent(ctx, cur, now)

		status, err := NewStatus(s.cap, st)
		if err != nil {
			return nil, err
		}
		dec = s.evaluate(status, e, now, forceMinInterval)
		if !dec.Allowed() {
			if !changed {
				return nil, nil
			}
			// still persist a lazy creation or rollover
			return st, nil
		}

		st.Count++
		st.SetLastAttempt(e, now)
		dec = Allow(ReasonReserved)
		return st, nil
	})
	if err != nil {
		return Decision{}, err
	}

	checksTotal.WithLabelValues(string(e), string(dec.Reason())).Inc()
	return dec, nil
}

// evaluate applies the policy precedence to a snapshot. It is the single
// authority on precedence: the reservation path runs it against the locked
// row and the next-eligible projection runs it against a read snapshot. A
// pass is reported as ok; only CheckAndLock upgrades that to reserved,
// after it has actually taken the attempt.
func (s *Service) evaluate(status Status, e types.Endpoint, now time.Time, forceMinInterval bool) Decision {
	if status.IsBackoffActive(now) {
		return Deny(ReasonBackoffActive, status.BackoffUntil)
	}
	if status.RemainingBudget() <= 0 {
		return Deny(ReasonDailyCapReached, status.ResetAt)
	}
	if !forceMinInterval {
		if last := status.LastAttempt(e); !last.IsZero() {
			if eligible := last.Add(s.MinInterval(e)); now.Before(eligible) {
				return Deny(ReasonUnderMinInterval, eligible)
			}
		}
	}
	return Allow(ReasonOK)
}

// RecordSuccess finalizes a reserved attempt that completed successfully.
// Calling it before any state exists is a benign no-op.
func (s *Service) RecordSuccess(ctx context.Context, e types.Endpoint) error {
	if !e.Valid() {
		return fmt.Errorf("unknown endpoint: %q", e)
	}
	return s.store.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
		if cur == nil {
			return nil, nil
		}
		cur.SetLastSuccess(e, s.now())
		return cur, nil
	})
}

// RecordFailure finalizes a reserved attempt that failed. A 429 starts a
// fresh backoff window from now; repeated 429s extend it rather than
// stacking. Other statuses leave the state untouched, and calling it
// before any state exists is a benign no-op.
func (s *Service) RecordFailure(ctx context.Context, e types.Endpoint, httpStatus int) error {
	if !e.Valid() {
		return fmt.Errorf("unknown endpoint: %q", e)
	}
	return s.store.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
		if cur == nil {
			return nil, nil
		}
		if httpStatus != http.StatusTooManyRequests {
			return nil, nil
		}
		now := s.now()
		cur.BackoffUntil = now.Add(s.backoff)
		log.Ctx(ctx).WarnContext(ctx, "solcast rate limited, backing off",
			slog.String("endpoint", string(e)),
			slog.Time("backoffUntil", cur.BackoffUntil))
		backoffsTotal.Inc()
		return cur, nil
	})
}

// CurrentStatus applies any pending day rollover and returns a snapshot.
// It never reserves an attempt.
func (s *Service) CurrentStatus(ctx context.Context) (Status, error) {
	var status Status
	err := s.store.MutateAllowanceState(ctx, func(cur *types.AllowanceState) (*types.AllowanceState, error) {
		now := s.now()
		st, changed := s.ensureCurrent(ctx, cur, now)
		var err error
		if status, err = NewStatus(s.cap, st); err != nil {
			return nil, err
		}
		if !changed {
			return nil, nil
		}
		return st, nil
	})
	if err != nil {
		return Status{}, err
	}
	return status, nil
}

// ensureCurrent lazily creates the state and applies the day rollover.
// It reports whether the returned state differs from what was stored.
// Rollover happens under the same lock as every other mutation, so
// concurrent callers apply it exactly once.
func (s *Service) ensureCurrent(ctx context.Context, cur *types.AllowanceState, now time.Time) (*types.AllowanceState, bool) {
	if cur == nil {
		st := &types.AllowanceState{
			DayKey:  s.dayKey(now),
			ResetAt: s.nextReset(now),
		}
		log.Ctx(ctx).InfoContext(ctx, "allowance state created",
			slog.String("dayKey", st.DayKey),
			slog.Time("resetAt", st.ResetAt))
		return st, true
	}

	if now.Before(cur.ResetAt) {
		return cur, false
	}

	cur.Count = 0
	cur.DayKey = s.dayKey(now)
	cur.ResetAt = s.nextReset(now)
	log.Ctx(ctx).InfoContext(ctx, "daily allowance reset",
		slog.String("dayKey", cur.DayKey),
		slog.Time("resetAt", cur.ResetAt))
	resetsTotal.Inc()
	return cur, true
}

// dayKey is the accounting-day identifier for now in the reset timezone.
func (s *Service) dayKey(now time.Time) string {
	return now.In(s.resetLoc).Format("2006-01-02")
}

// nextReset is the first midnight in the reset timezone strictly after
// now, converted to UTC for storage.
func (s *Service) nextReset(now time.Time) time.Time {
	local := now.In(s.resetLoc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, s.resetLoc).UTC()
}
