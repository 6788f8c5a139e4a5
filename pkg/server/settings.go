package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, version, err := s.storage.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoSettings) {
			writeJSONError(w, "no settings stored", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	settings, migrated, err := types.MigrateSettings(settings, version)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Any("error", err))
		writeJSONError(w, "failed to migrate settings", http.StatusInternalServerError)
		return
	}
	if migrated {
		if err := s.storage.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to persist migrated settings", slog.Any("error", err))
			writeJSONError(w, "failed to persist migrated settings", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var settings types.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSONError(w, "invalid settings body", http.StatusBadRequest)
		return
	}
	if err := validateSettings(settings); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.storage.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to set settings", slog.Any("error", err))
		writeJSONError(w, "failed to set settings", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "settings updated",
		slog.Bool("dryRun", settings.DryRun), slog.Bool("pause", settings.Pause))
	writeJSON(w, settings)
}

func validateSettings(settings types.Settings) error {
	if settings.MinBatterySOC < 0 || settings.MinBatterySOC > 100 {
		return fmt.Errorf("minBatterySOC must be between 0 and 100")
	}
	if settings.ChargeTargetSOC < 0 || settings.ChargeTargetSOC > 100 {
		return fmt.Errorf("chargeTargetSOC must be between 0 and 100")
	}
	if settings.ChargeTargetSOC > 0 && settings.ChargeTargetSOC < settings.MinBatterySOC {
		return fmt.Errorf("chargeTargetSOC must not be below minBatterySOC")
	}
	if settings.CheapSlotCount < 0 {
		return fmt.Errorf("cheapSlotCount must not be negative")
	}
	if settings.AlwaysChargeUnderPencePerKWH < 0 {
		return fmt.Errorf("alwaysChargeUnderPencePerKWH must not be negative")
	}
	return nil
}
