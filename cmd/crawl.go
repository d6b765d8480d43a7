// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/munifin/harvester/internal/clock/system"
	"github.com/munifin/harvester/internal/download"
	"github.com/munifin/harvester/internal/fetch"
	"github.com/munifin/harvester/internal/harvest"
	"github.com/munifin/harvester/internal/ledger"
	"github.com/munifin/harvester/internal/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// newCrawlCmd creates and configures the 'crawl' subcommand, which runs the
// crawl-and-download pipeline over the discovered finance-page URLs.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls finance pages and downloads missing statements",
		Long: `Crawls each municipality's discovered finance page (or FTP listing),
selects the best document per fiscal year, and downloads the years not yet
present in the lake. Re-runs are idempotent: existing years are skipped and
the status snapshot is fully regenerated.`,

		RunE: runCrawlCommand,
	}

	cmd.Flags().Int("limit", 0, "maximum municipalities to process (0 = all)")
	cmd.Flags().String("province", "", "restrict to one province id")
	cmd.Flags().String("csd", "", "restrict to one census subdivision id")
	cmd.Flags().Bool("retry-failed", false, "only municipalities marked FAIL or needs_reparse")
	cmd.Flags().Bool("retry-incomplete", false, "only municipalities marked needs_reparse")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	if addr := viper.GetString("metrics.addr"); addr != "" {
		metrics.Serve(addr, logger)
	}

	cfg := harvest.LoadConfig(viper.GetViper())
	cfg.Limit, _ = cmd.Flags().GetInt("limit")
	cfg.Province, _ = cmd.Flags().GetString("province")
	cfg.CSD, _ = cmd.Flags().GetString("csd")
	cfg.RetryFailed, _ = cmd.Flags().GetBool("retry-failed")
	cfg.RetryIncomplete, _ = cmd.Flags().GetBool("retry-incomplete")

	harvester, ledgerWriter, err := buildHarvester(cfg, appInstance)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ledgerWriter.Close(); cerr != nil {
			logger.Warn("Failed to close ledger", zap.Error(cerr))
		}
	}()

	summary, err := harvester.Run(cmd.Context())
	if err != nil && !errors.Is(err, cmd.Context().Err()) {
		return fmt.Errorf("run harvest: %w", err)
	}
	harvest.RenderSummary(os.Stdout, summary)
	return nil
}

func buildHarvester(cfg harvest.Config, appInstance App) (*harvest.Harvester, *ledger.Writer, error) {
	logger := appInstance.GetLogger()
	clk := system.Clock{}

	fetchCfg := fetch.LoadConfig(viper.GetViper())
	collyFetcher, err := fetch.NewCollyFetcher(fetchCfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init fetcher: %w", err)
	}
	policy := fetch.NewExponentialRetryPolicy(fetchCfg)
	retrying := fetch.NewRetryingFetcher(collyFetcher, policy, logger)
	ftpFetcher := fetch.NewFTPFetcher(fetchCfg, logger)
	retryingLister := fetch.NewRetryingLister(ftpFetcher, policy, logger)

	downloader := download.New(cfg.LakeDir, fetchCfg.Timeout, fetchCfg.UserAgent, ftpFetcher, logger)

	ledgerWriter, err := ledger.NewWriter(cfg.LedgerCSV, clk)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}

	harvester := harvest.New(
		cfg,
		retrying,
		retryingLister,
		downloader,
		ledgerWriter,
		appInstance.GetRefData(),
		clk,
		logger,
	)
	return harvester, ledgerWriter, nil
}
