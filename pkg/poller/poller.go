// Package poller runs the recurring jobs: tariff sync, guarded Solcast
// refreshes, telemetry polling and the planner loop. Schedules are cron
// expressions so operators can line them up with their tariff's publish
// times.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/robfig/cron/v3"

	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/solar"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/strategy"
	"github.com/gridpilot/gridpilot/pkg/tariff"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Poller owns the cron scheduler and the job implementations.
type Poller struct {
	db        storage.Database
	tariffs   *tariff.Map
	requester *solar.Requester
	system    inverter.System
	planner   *strategy.Planner
	cron      *cron.Cron

	ratesSchedule     string
	forecastSchedule  string
	actualsSchedule   string
	telemetrySchedule string
	plannerSchedule   string
}

// Configured sets up the poller from flags.
func Configured(db storage.Database, tariffs *tariff.Map, requester *solar.Requester, system inverter.System) *Poller {
	p := &Poller{
		db:        db,
		tariffs:   tariffs,
		requester: requester,
		system:    system,
		planner:   strategy.NewPlanner(),
		cron:      cron.New(),
	}

	// Agile publishes the next day's rates around 16:00 UK time, hence the
	// default afternoon sweep.
	rates := lflag.String("poll-rates-schedule", "5 16,20 * * *", "Cron schedule for syncing tariff rates")
	forecast := lflag.String("poll-forecast-schedule", "10 */4 * * *", "Cron schedule for requesting solar forecasts")
	actuals := lflag.String("poll-actuals-schedule", "40 7,19 * * *", "Cron schedule for requesting solar estimated actuals")
	telemetry := lflag.String("poll-telemetry-schedule", "*/5 * * * *", "Cron schedule for polling inverter telemetry")
	planner := lflag.String("poll-planner-schedule", "1,31 * * * *", "Cron schedule for running the planner")

	lflag.Do(func() {
		p.ratesSchedule = *rates
		p.forecastSchedule = *forecast
		p.actualsSchedule = *actuals
		p.telemetrySchedule = *telemetry
		p.plannerSchedule = *planner
	})

	return p
}

// Start validates the schedules, registers the jobs and starts the cron
// scheduler. The scheduler stops when ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	jobs := []struct {
		name     string
		schedule string
		run      func(ctx context.Context) error
	}{
		{"sync_rates", p.ratesSchedule, p.SyncRates},
		{"refresh_forecast", p.forecastSchedule, func(ctx context.Context) error {
			return p.refreshSolar(ctx, types.EndpointForecast)
		}},
		{"refresh_actuals", p.actualsSchedule, func(ctx context.Context) error {
			return p.refreshSolar(ctx, types.EndpointActual)
		}},
		{"poll_telemetry", p.telemetrySchedule, p.PollTelemetry},
		{"run_planner", p.plannerSchedule, p.RunPlanner},
	}

	for _, job := range jobs {
		if job.schedule == "" {
			log.Ctx(ctx).InfoContext(ctx, "job schedule empty, skipping", slog.String("job", job.name))
			continue
		}
		if _, err := cron.ParseStandard(job.schedule); err != nil {
			return fmt.Errorf("invalid schedule for %s (%q): %w", job.name, job.schedule, err)
		}
		name, run := job.name, job.run
		if _, err := p.cron.AddFunc(job.schedule, func() {
			p.runJob(ctx, name, run)
		}); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
	}

	p.cron.Start()
	log.Ctx(ctx).InfoContext(ctx, "poller started")

	go func() {
		<-ctx.Done()
		p.cron.Stop()
	}()
	return nil
}

// runJob wraps a job with a run ID, timing and error logging.
func (p *Poller) runJob(ctx context.Context, name string, run func(ctx context.Context) error) {
	ctx = log.With(ctx, log.Ctx(ctx).With(
		slog.String("job", name),
		slog.String("runID", uuid.New().String()),
	))
	start := time.Now()
	err := run(ctx)
	dur := time.Since(start)
	if err != nil {
		jobRunsTotal.WithLabelValues(name, "error").Inc()
		log.Ctx(ctx).ErrorContext(ctx, "job failed", slog.Any("err", err), slog.Duration("duration", dur))
		return
	}
	jobRunsTotal.WithLabelValues(name, "ok").Inc()
	log.Ctx(ctx).InfoContext(ctx, "job finished", slog.Duration("duration", dur))
}

// settings loads and migrates the stored settings.
func (p *Poller) settings(ctx context.Context) (types.Settings, error) {
	s, version, err := p.db.GetSettings(ctx)
	if err != nil {
		return types.Settings{}, err
	}
	s, migrated, err := types.MigrateSettings(s, version)
	if err != nil {
		return types.Settings{}, err
	}
	if migrated {
		if err := p.db.SetSettings(ctx, s, types.CurrentSettingsVersion); err != nil {
			return types.Settings{}, fmt.Errorf("failed to save migrated settings: %w", err)
		}
	}
	return s, nil
}

// SyncRates pulls unit rates from the tariff provider, from just after
// the newest stored rate through two days out.
func (p *Poller) SyncRates(ctx context.Context) error {
	settings, err := p.settings(ctx)
	if err != nil {
		return err
	}

	prov, err := p.tariffs.Provider("octopus")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	start := now.Add(-24 * time.Hour)
	if latest, err := p.db.GetLatestRateTime(ctx); err != nil {
		return err
	} else if latest.After(start) {
		start = latest.Add(30 * time.Minute)
	}
	end := now.Add(48 * time.Hour)

	rates, err := prov.GetRates(ctx, settings.TariffProduct, settings.TariffCode, start, end)
	if err != nil {
		return fmt.Errorf("failed to fetch rates: %w", err)
	}
	if len(rates) == 0 {
		log.Ctx(ctx).InfoContext(ctx, "no new rates published yet")
		return nil
	}
	if err := p.db.UpsertRates(ctx, rates, types.CurrentRateHistoryVersion); err != nil {
		return fmt.Errorf("failed to store rates: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "synced rates", slog.Int("count", len(rates)))
	return nil
}

// refreshSolar runs one guarded Solcast refresh. Policy denials are not
// job failures; they are how most scheduled runs end.
func (p *Poller) refreshSolar(ctx context.Context, e types.Endpoint) error {
	settings, err := p.settings(ctx)
	if err != nil {
		return err
	}
	if settings.SolcastSiteID == "" {
		log.Ctx(ctx).InfoContext(ctx, "no solcast site configured, skipping")
		return nil
	}
	_, err = p.requester.Refresh(ctx, e, settings.SolcastSiteID, false)
	return err
}

// PollTelemetry reads the inverter and records the reading.
func (p *Poller) PollTelemetry(ctx context.Context) error {
	tel, err := p.system.GetTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to read inverter: %w", err)
	}
	return p.db.InsertTelemetry(ctx, tel)
}

// RunPlanner makes one planning decision and applies it.
func (p *Poller) RunPlanner(ctx context.Context) error {
	settings, err := p.settings(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoSettings) {
			log.Ctx(ctx).InfoContext(ctx, "no settings stored yet, skipping planner")
			return nil
		}
		return err
	}
	if settings.Pause {
		log.Ctx(ctx).InfoContext(ctx, "planner paused")
		return nil
	}

	tel, err := p.system.GetTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to read inverter: %w", err)
	}

	now := time.Now().UTC()
	rates, err := p.db.GetRates(ctx, now.Add(-time.Hour), now.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to load rates: %w", err)
	}
	forecasts, err := p.db.GetSolarEstimates(ctx, types.EstimateKindForecast, now.Add(-time.Hour), now.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to load forecasts: %w", err)
	}

	action := p.planner.Decide(ctx, strategy.Inputs{
		Now:       now,
		Telemetry: tel,
		Rates:     rates,
		Forecasts: forecasts,
		Settings:  settings,
	})

	if !settings.DryRun {
		if err := p.system.SetBatteryMode(ctx, action.BatteryMode, action.TargetSOC); err != nil {
			action.Failed = true
			action.Error = err.Error()
			log.Ctx(ctx).ErrorContext(ctx, "failed to apply battery mode",
				slog.String("mode", string(action.BatteryMode)), slog.Any("err", err))
		}
	}

	if err := p.db.InsertAction(ctx, action); err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "planner decided",
		slog.String("mode", string(action.BatteryMode)),
		slog.String("reason", string(action.Reason)),
		slog.Bool("dryRun", action.DryRun),
		slog.Bool("failed", action.Failed))
	plannerActionsTotal.WithLabelValues(string(action.Reason)).Inc()

	if action.Failed {
		return fmt.Errorf("battery mode apply failed: %s", action.Error)
	}
	return nil
}
