// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/munifin/harvester/internal/logging"
	"github.com/munifin/harvester/internal/refdata"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// App holds the shared, long-lived services for the application: the logger
// and the municipality reference tables. It is initialized once at startup
// and passed to the commands that need it.
type App struct {
	logger  *zap.Logger
	refdata *refdata.Store
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetRefData exposes the municipality reference tables. It is nil when the
// input CSVs are absent; the pipeline then relies on the URL CSV's own
// identity columns.
func (a *App) GetRefData() *refdata.Store {
	return a.refdata
}

// Close flushes the logger. Ledger files are owned by the commands that open
// them, not by the container.
func (a *App) Close() {
	_ = a.logger.Sync()
}

// NewApp creates the service container from the application's configuration.
// It fails fast when the logger cannot be built; missing reference tables are
// tolerated with a warning.
func NewApp(_ context.Context) (*App, error) {
	logger, err := logging.New(viper.GetBool("logging.development"))
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logging.Set(logger)

	a := &App{logger: logger}

	cfg := refdata.Config{
		MunicipalitiesCSV: viper.GetString("harvester.municipalities_csv"),
		StatusCodesCSV:    viper.GetString("harvester.status_codes_csv"),
		ProvinceCodesCSV:  viper.GetString("harvester.province_codes_csv"),
	}
	if _, err := os.Stat(cfg.MunicipalitiesCSV); err == nil {
		store, err := refdata.Load(cfg)
		if err != nil {
			return nil, fmt.Errorf("load reference data: %w", err)
		}
		a.refdata = store
		logger.Info("Reference data loaded", zap.Int("municipalities", len(store.All())))
	} else {
		logger.Warn("Municipality reference CSV not found; identity backfill disabled",
			zap.String("path", cfg.MunicipalitiesCSV))
	}

	return a, nil
}
