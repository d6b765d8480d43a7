package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/munifin/harvester/internal/app"
	"github.com/munifin/harvester/internal/refdata"
	"github.com/munifin/harvester/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. This allows us to
// inject a mock app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetRefData() *refdata.Store
}

// newApp is the application factory. It's a variable so we can replace it
// with a mock factory in tests.
var newApp func(ctx context.Context) (App, error) = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Crawls municipal finance pages and catalogs annual statements.",
		Long: `harvester discovers PDF financial statements on municipal finance pages,
downloads missing fiscal years into a content-addressed lake directory, and
keeps an append-only ledger plus a per-municipality status snapshot. A
separate upload command pushes cataloged statements to the central registry.`,

		// Runs after config is loaded but before the subcommand's RunE; the
		// right place to build and inject the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(config.InitConfig)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.harvester/config.yaml)")
	cmd.PersistentFlags().Bool("dev", false, "enable development logging")
	_ = viper.BindPFlag("logging.development", cmd.PersistentFlags().Lookup("dev"))

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newUploadCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
