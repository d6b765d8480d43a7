// Package upload pushes downloaded statements to the central registry and
// tracks outcomes in its own ledger so re-runs are idempotent.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/munifin/harvester/internal/metrics"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned on HTTP 401. Retrying without a new key is
// pointless, so the caller aborts the remaining batch.
var ErrUnauthorized = errors.New("registry rejected the api key")

// Config holds the registry client settings.
type Config struct {
	APIBase   string
	APIKey    string
	LedgerCSV string
	LakeDir   string
	Timeout   time.Duration

	Limit int
	CSD   string
}

// LoadConfig builds an upload Config from the given Viper instance.
func LoadConfig(v *viper.Viper) Config {
	cfg := Config{
		APIBase:   v.GetString("upload.api_base"),
		APIKey:    v.GetString("upload.api_key"),
		LedgerCSV: v.GetString("upload.ledger_csv"),
		LakeDir:   v.GetString("harvester.lake_dir"),
		Timeout:   time.Duration(v.GetInt("upload.timeout_seconds")) * time.Second,
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return cfg
}

// Client uploads one PDF per request to the registry.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient constructs a registry client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIBase == "" {
		return nil, errors.New("upload.api_base is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("upload.api_key is required")
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// errorBody is the registry's validation-error payload.
type errorBody struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

// UploadFile POSTs the PDF at path as the multipart "document" field to
// /api/v1/bodies/{csd}/{year}. HTTP 409 (already exists) counts as success
// for tracking purposes.
func (c *Client) UploadFile(ctx context.Context, path, csdID string, year int) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalize form: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/bodies/%s/%d", c.cfg.APIBase, csdID, year)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post document: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return nil
	case http.StatusConflict:
		// Already in the registry; success as far as tracking is concerned.
		c.logger.Info("Document already in registry", zap.String("csd_id", csdID), zap.Int("year", year))
		return nil
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusBadRequest:
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if jsonErr := json.Unmarshal(raw, &eb); jsonErr == nil && eb.Error != "" {
			return fmt.Errorf("validation error: %s (details: %s)", eb.Error, string(eb.Details))
		}
		return fmt.Errorf("validation error: %s", string(raw))
	case http.StatusNotFound:
		return fmt.Errorf("unknown body for csd %s", csdID)
	default:
		return fmt.Errorf("unexpected registry status %d", resp.StatusCode)
	}
}

func observeOutcome(err error) {
	switch {
	case err == nil:
		metrics.Uploads.WithLabelValues("success").Inc()
	case errors.Is(err, ErrUnauthorized):
		metrics.Uploads.WithLabelValues("unauthorized").Inc()
	default:
		metrics.Uploads.WithLabelValues("failed").Inc()
	}
}
