// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"strings"

	"github.com/munifin/harvester/internal/logging"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InitConfig initializes the application's configuration using Viper.
// It sets up default values, defines configuration search paths, and enables
// reading from environment variables. This function is designed to be called
// once at application startup.
func InitConfig() {
	// --- Set Search Paths ---
	viper.SetConfigName("config")
	viper.AddConfigPath(".")                // Current working directory
	viper.AddConfigPath("/etc/harvester/")  // System-wide configuration
	viper.AddConfigPath("$HOME/.harvester") // User-specific configuration

	// --- Set Defaults ---
	const defaultUA = "MuniFin-Harvester/1.0 (+https://github.com/munifin/harvester)"
	viper.SetDefault("harvester.user_agent", defaultUA)
	viper.SetDefault("harvester.lake_dir", "lake")
	viper.SetDefault("harvester.urls_csv", "output_municipality_urls.csv")
	viper.SetDefault("harvester.ledger_csv", "output_master_records.csv")
	viper.SetDefault("harvester.status_csv", "output_download_status.csv")
	viper.SetDefault("harvester.municipalities_csv", "input_municipalities.csv")
	viper.SetDefault("harvester.status_codes_csv", "input_municipal_status_codes.csv")
	viper.SetDefault("harvester.province_codes_csv", "input_province_codes.csv")
	viper.SetDefault("harvester.min_years", 5)
	viper.SetDefault("harvester.concurrency", 1)
	viper.SetDefault("harvester.max_subpages", 5)
	viper.SetDefault("harvester.max_downloads_per_municipality", 50)
	viper.SetDefault("harvester.max_unknown_year_downloads", 5)

	viper.SetDefault("http.timeout_seconds", 30)
	viper.SetDefault("http.retry_attempts", 3)
	viper.SetDefault("http.retry_base_delay", "2s")

	viper.SetDefault("upload.api_base", "")
	viper.SetDefault("upload.api_key", "")
	viper.SetDefault("upload.ledger_csv", "output_upload_records.csv")
	viper.SetDefault("upload.timeout_seconds", 120)

	viper.SetDefault("metrics.addr", "")

	// --- Environment Variables ---
	viper.SetEnvPrefix("HARVESTER") // e.g., HARVESTER_HTTP_TIMEOUT_SECONDS=60
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// --- Read Config File ---
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; proceed with defaults and environment variables.
			logging.L.Warn("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("Using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
