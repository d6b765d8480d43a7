package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/munifin/harvester/internal/extract"
	"go.uber.org/zap"
)

// Summary aggregates one upload batch.
type Summary struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
}

// Run walks the lake tree and uploads every document not yet recorded as
// uploaded. The fiscal year is inferred from the filename with the same
// maximum-year-token rule the extractor uses, so both sides of the pipeline
// agree on what year a file covers.
//
// An unauthorized response aborts the remaining batch.
func Run(ctx context.Context, cfg Config, client *Client, ldg *Ledger, logger *zap.Logger) (Summary, error) {
	var summary Summary

	provinces, err := os.ReadDir(cfg.LakeDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("Lake directory does not exist; nothing to upload", zap.String("dir", cfg.LakeDir))
			return summary, nil
		}
		return summary, err
	}

	for _, province := range provinces {
		if !province.IsDir() {
			continue
		}
		csds, err := os.ReadDir(filepath.Join(cfg.LakeDir, province.Name()))
		if err != nil {
			logger.Warn("Skipping unreadable province dir", zap.String("dir", province.Name()), zap.Error(err))
			continue
		}
		for _, csd := range csds {
			if !csd.IsDir() {
				continue
			}
			if cfg.CSD != "" && csd.Name() != cfg.CSD {
				continue
			}
			done, err := uploadMunicipality(ctx, cfg, client, ldg, logger, province.Name(), csd.Name(), &summary)
			if err != nil {
				return summary, err
			}
			if done {
				return summary, nil
			}
		}
	}
	return summary, nil
}

// uploadMunicipality uploads one municipality's documents. The bool result
// reports whether the batch limit was reached.
func uploadMunicipality(ctx context.Context, cfg Config, client *Client, ldg *Ledger, logger *zap.Logger, provinceID, csdID string, summary *Summary) (bool, error) {
	dir := filepath.Join(cfg.LakeDir, provinceID, csdID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("Skipping unreadable municipality dir", zap.String("dir", dir), zap.Error(err))
		return false, nil
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			continue
		}
		year := extract.InferYear(e.Name())
		if year == 0 {
			logger.Info("Skipping document without inferable year", zap.String("file", e.Name()))
			summary.Skipped++
			continue
		}
		key := Key{ProvinceID: provinceID, CSDID: csdID, Year: year}
		if ldg.Uploaded(key) {
			summary.Skipped++
			continue
		}
		if cfg.Limit > 0 && summary.Attempted >= cfg.Limit {
			return true, nil
		}

		summary.Attempted++
		path := filepath.Join(dir, e.Name())
		err := client.UploadFile(ctx, path, csdID, year)
		observeOutcome(err)
		if errors.Is(err, ErrUnauthorized) {
			logger.Error("Unauthorized; aborting remaining uploads")
			return false, err
		}
		if err != nil {
			summary.Failed++
			logger.Warn("Upload failed",
				zap.String("csd_id", csdID),
				zap.Int("year", year),
				zap.Error(err),
			)
			if lerr := ldg.Append(key, "failed"); lerr != nil {
				logger.Error("Upload ledger append failed", zap.Error(lerr))
			}
			continue
		}

		summary.Succeeded++
		logger.Info("Uploaded", zap.String("csd_id", csdID), zap.Int("year", year))
		if lerr := ldg.Append(key, "success"); lerr != nil {
			logger.Error("Upload ledger append failed", zap.Error(lerr))
		}
	}
	return false, nil
}
