package cmd

import (
	"fmt"

	"github.com/munifin/harvester/internal/clock/system"
	"github.com/munifin/harvester/internal/upload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// newUploadCmd creates and configures the 'upload' subcommand, which pushes
// cataloged statements to the central registry.
func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Uploads cataloged statements to the registry",
		Long: `Walks the lake directory and uploads every statement that has not yet
been recorded as uploaded. Outcomes are tracked in the upload ledger keyed by
(province, census subdivision, year), so re-runs skip completed documents.`,

		RunE: runUploadCommand,
	}

	cmd.Flags().Int("limit", 0, "maximum documents to attempt (0 = all)")
	cmd.Flags().String("csd", "", "restrict to one census subdivision id")
	return cmd
}

func runUploadCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	cfg := upload.LoadConfig(viper.GetViper())
	cfg.Limit, _ = cmd.Flags().GetInt("limit")
	cfg.CSD, _ = cmd.Flags().GetString("csd")

	client, err := upload.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	ldg, err := upload.OpenLedger(cfg.LedgerCSV, system.Clock{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ldg.Close(); cerr != nil {
			logger.Warn("Failed to close upload ledger", zap.Error(cerr))
		}
	}()

	summary, err := upload.Run(cmd.Context(), cfg, client, ldg, logger)
	logger.Info("Upload batch finished",
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	if err != nil {
		return fmt.Errorf("run upload: %w", err)
	}
	return nil
}
