// Package download fetches selected documents and writes them into the lake,
// the canonical on-disk tree keyed by province and census subdivision. Writes
// are atomic (temp file + rename) and idempotent: a year already on disk is
// never re-fetched, and re-downloading a year overwrites rather than
// duplicates.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/munifin/harvester/internal/extract"
	"github.com/munifin/harvester/internal/fetch"
	"github.com/munifin/harvester/internal/metrics"
	"go.uber.org/zap"
)

// pdfMagic is the header every stored document must begin with.
var pdfMagic = []byte("%PDF-")

// Sentinel errors for download outcomes.
var (
	// ErrInvalidDocument marks content that failed PDF validation.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrDownloadFailed marks a network-level download failure.
	ErrDownloadFailed = errors.New("download failed")
)

// DiskError is a filesystem failure. It aborts the current municipality but
// not the overall run.
type DiskError struct {
	Op  string
	Err error
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("disk error during %s: %v", e.Op, e.Err)
}

func (e *DiskError) Unwrap() error {
	return e.Err
}

// Result describes what one download attempt produced.
type Result struct {
	Path    string
	Year    int
	Skipped bool
}

// Downloader writes documents into the lake directory tree.
type Downloader struct {
	lakeDir string
	client  *http.Client
	ftp     *fetch.FTPFetcher
	logger  *zap.Logger
}

// New constructs a Downloader. The ftp fetcher may be nil when no ftp://
// sources are in scope.
func New(lakeDir string, timeout time.Duration, userAgent string, ftpFetcher *fetch.FTPFetcher, logger *zap.Logger) *Downloader {
	return &Downloader{
		lakeDir: lakeDir,
		client: &http.Client{
			Timeout:   timeout,
			Transport: &userAgentTransport{agent: userAgent, inner: http.DefaultTransport},
		},
		ftp:    ftpFetcher,
		logger: logger,
	}
}

type userAgentTransport struct {
	agent string
	inner http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.agent)
	}
	return t.inner.RoundTrip(req)
}

// CanonicalPath returns the one true location for a municipality's statement:
// lake/<province_id>/<csd_id>/financial_statement_<year>.pdf.
func CanonicalPath(lakeDir, provinceID, csdID string, year int) string {
	return filepath.Join(lakeDir, provinceID, csdID, fmt.Sprintf("financial_statement_%d.pdf", year))
}

// UnknownYearPath names documents whose fiscal year could not be inferred.
func UnknownYearPath(lakeDir, provinceID, csdID string, seq int) string {
	return filepath.Join(lakeDir, provinceID, csdID, fmt.Sprintf("financial_statement_unknown_%d.pdf", seq))
}

// Fetch downloads link into the canonical path for (provinceID, csdID, year).
// When year is 0 the document lands at an unknown-year path, unless the
// server's Content-Disposition filename reveals a year, in which case the
// canonical path for that year is used instead.
//
// The fetch is skipped entirely when the target already exists. Content is
// validated against the PDF magic header before the atomic rename; a failed
// validation leaves nothing at the target path.
func (d *Downloader) Fetch(ctx context.Context, link extract.CandidateLink, provinceID, csdID string, year, unknownSeq int) (Result, error) {
	target := d.targetPath(provinceID, csdID, year, unknownSeq)
	if _, err := os.Stat(target); err == nil {
		return Result{Path: target, Year: year, Skipped: true}, nil
	}

	body, disposition, err := d.retrieve(ctx, link.URL)
	if err != nil {
		return Result{}, err
	}
	if len(body) == 0 || !bytes.HasPrefix(body, pdfMagic) {
		metrics.InvalidDocuments.Inc()
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidDocument, link.URL)
	}

	// A server-provided filename can recover the year for unlabeled links.
	if year == 0 {
		if name := filenameFromDisposition(disposition); name != "" {
			if y := extract.InferYear(name); y != 0 {
				canonical := CanonicalPath(d.lakeDir, provinceID, csdID, y)
				if _, err := os.Stat(canonical); err != nil {
					target = canonical
					year = y
				}
			}
		}
	}

	if err := d.writeAtomic(target, body); err != nil {
		return Result{}, err
	}
	metrics.DocumentsDownloaded.Inc()
	d.logger.Info("Document stored",
		zap.String("url", link.URL),
		zap.String("path", target),
		zap.Int("year", year),
	)
	return Result{Path: target, Year: year}, nil
}

func (d *Downloader) targetPath(provinceID, csdID string, year, unknownSeq int) string {
	if year == 0 {
		return UnknownYearPath(d.lakeDir, provinceID, csdID, unknownSeq)
	}
	return CanonicalPath(d.lakeDir, provinceID, csdID, year)
}

func (d *Downloader) retrieve(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: parse url: %v", ErrDownloadFailed, err)
	}
	if strings.EqualFold(u.Scheme, "ftp") {
		if d.ftp == nil {
			return nil, "", fmt.Errorf("%w: no ftp fetcher configured", ErrDownloadFailed)
		}
		body, err := d.ftp.RetrieveFile(ctx, rawURL)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		return body, "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build request: %v", ErrDownloadFailed, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: http status %d", ErrDownloadFailed, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %v", ErrDownloadFailed, err)
	}
	return body, resp.Header.Get("Content-Disposition"), nil
}

// writeAtomic stages the body in a temp file next to the target and renames
// it into place, so an interrupted run never leaves a partial file at the
// canonical path.
func (d *Downloader) writeAtomic(target string, body []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &DiskError{Op: "mkdir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".partial-*")
	if err != nil {
		return &DiskError{Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(body); err != nil {
		cleanup()
		return &DiskError{Op: "write temp", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return &DiskError{Op: "sync temp", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &DiskError{Op: "close temp", Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return &DiskError{Op: "rename", Err: err}
	}
	return nil
}

var dispositionFilenameRe = regexp.MustCompile(`filename\*?=["']?([^"';\n]+)["']?`)

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	m := dispositionFilenameRe.FindStringSubmatch(header)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[1])
	if unescaped, err := url.QueryUnescape(name); err == nil {
		return unescaped
	}
	return name
}
