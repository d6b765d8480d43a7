// Package harvest orchestrates the crawl-and-download pipeline: for each
// municipality in scope it fetches the candidate finance page, extracts and
// selects document links, downloads missing years into the lake, appends the
// ledger and recomputes the status snapshot.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/munifin/harvester/internal/clock"
	"github.com/munifin/harvester/internal/download"
	"github.com/munifin/harvester/internal/extract"
	"github.com/munifin/harvester/internal/fetch"
	"github.com/munifin/harvester/internal/ledger"
	"github.com/munifin/harvester/internal/refdata"
	"github.com/munifin/harvester/internal/selectdoc"
	"github.com/munifin/harvester/internal/status"
	"github.com/munifin/harvester/internal/urlsource"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State tracks a municipality's progress through one run.
type State string

// Per-municipality states. Any fetch or extract failure short-circuits to
// StateStatusComputed with a FAIL outcome.
const (
	StatePending        State = "PENDING"
	StateFetching       State = "FETCHING"
	StateExtracting     State = "EXTRACTING"
	StateSelecting      State = "SELECTING"
	StateDownloading    State = "DOWNLOADING"
	StateStatusComputed State = "STATUS_COMPUTED"
)

// Config holds the settings for one harvest run.
type Config struct {
	LakeDir             string
	URLsCSV             string
	LedgerCSV           string
	StatusCSV           string
	MinYears            int
	Concurrency         int
	MaxSubpages         int
	MaxDownloads        int
	MaxUnknownDownloads int

	// Run-scoping filters from the CLI.
	Limit           int
	Province        string
	CSD             string
	RetryFailed     bool
	RetryIncomplete bool
}

// LoadConfig builds a harvest Config from the given Viper instance. CLI
// filters are bound separately by the command layer.
func LoadConfig(v *viper.Viper) Config {
	cfg := Config{
		LakeDir:             v.GetString("harvester.lake_dir"),
		URLsCSV:             v.GetString("harvester.urls_csv"),
		LedgerCSV:           v.GetString("harvester.ledger_csv"),
		StatusCSV:           v.GetString("harvester.status_csv"),
		MinYears:            v.GetInt("harvester.min_years"),
		Concurrency:         v.GetInt("harvester.concurrency"),
		MaxSubpages:         v.GetInt("harvester.max_subpages"),
		MaxDownloads:        v.GetInt("harvester.max_downloads_per_municipality"),
		MaxUnknownDownloads: v.GetInt("harvester.max_unknown_year_downloads"),
	}
	if cfg.MinYears <= 0 {
		cfg.MinYears = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxSubpages <= 0 {
		cfg.MaxSubpages = 5
	}
	if cfg.MaxDownloads <= 0 {
		cfg.MaxDownloads = 50
	}
	return cfg
}

// Result is the outcome for one municipality.
type Result struct {
	Entry      urlsource.Entry
	State      State
	Status     string
	Downloads  int
	Found      int
	Years      int
	Unresolved int
	Message    string
}

// Summary aggregates a whole run.
type Summary struct {
	RunID     string
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Results   []Result
}

// Harvester wires the pipeline components together.
type Harvester struct {
	cfg        Config
	fetcher    fetch.Fetcher
	lister     fetch.Lister
	downloader *download.Downloader
	ledger     *ledger.Writer
	refdata    *refdata.Store
	clock      clock.Clock
	logger     *zap.Logger
}

// New constructs a Harvester. The lister may be nil when no ftp:// sources are
// in scope; the refdata store may be nil when the URL CSV already carries full
// municipality identity fields.
func New(
	cfg Config,
	fetcher fetch.Fetcher,
	lister fetch.Lister,
	downloader *download.Downloader,
	ledgerWriter *ledger.Writer,
	refStore *refdata.Store,
	clk clock.Clock,
	logger *zap.Logger,
) *Harvester {
	return &Harvester{
		cfg:        cfg,
		fetcher:    fetcher,
		lister:     lister,
		downloader: downloader,
		ledger:     ledgerWriter,
		refdata:    refStore,
		clock:      clk,
		logger:     logger,
	}
}

// Run executes the pipeline over every municipality in scope and writes the
// status snapshot at the end. Per-municipality failures are converted into
// status outcomes; they never abort the run, and a summary is always produced.
func (h *Harvester) Run(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()
	log := h.logger.With(zap.String("run_id", runID))

	entries, err := urlsource.Load(h.cfg.URLsCSV)
	if err != nil {
		return Summary{}, err
	}
	log.Info("Candidate URLs loaded", zap.Int("count", len(entries)))

	snapshot, err := status.LoadSnapshot(h.cfg.StatusCSV, h.cfg.MinYears, h.clock)
	if err != nil {
		return Summary{}, err
	}

	entries = h.filterEntries(entries, snapshot)
	if h.cfg.Limit > 0 && len(entries) > h.cfg.Limit {
		entries = entries[:h.cfg.Limit]
	}
	log.Info("Municipalities in scope", zap.Int("count", len(entries)))

	results := make([]Result, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			results[i] = h.processMunicipality(gctx, log, entry)
			return nil
		})
	}
	// Workers only report through results; the group error is the context.
	runErr := g.Wait()

	// Single-writer snapshot update after all workers complete.
	for _, res := range results {
		if res.State == "" {
			continue
		}
		snapshot.Upsert(status.Row{
			CensusSubdivisionID: res.Entry.CSDID,
			MunicipalityName:    res.Entry.MunicipalityName,
			Type:                res.Entry.Type,
			ProvinceID:          res.Entry.ProvinceID,
			Province:            res.Entry.Province,
			Status:              res.Status,
			Found:               res.Found,
			Notes:               failNote(res),
			PageURL:             res.Entry.PageURL,
		}, h.cfg.LakeDir)
	}
	if err := snapshot.Write(); err != nil {
		return Summary{}, err
	}

	summary := Summary{RunID: runID, Results: results}
	for _, res := range results {
		if res.State == "" {
			summary.Skipped++
			continue
		}
		summary.Processed++
		if res.Status == status.StatusOK {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	log.Info("Run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, runErr
}

func failNote(res Result) string {
	if res.Status == status.StatusFail {
		return res.Message
	}
	return ""
}

// filterEntries applies the CLI scoping filters. Under the retry flags,
// municipalities without any recorded status are kept: they have never been
// attempted.
func (h *Harvester) filterEntries(entries []urlsource.Entry, snapshot *status.Snapshot) []urlsource.Entry {
	var out []urlsource.Entry
	for _, e := range entries {
		if h.cfg.CSD != "" && e.CSDID != h.cfg.CSD {
			continue
		}
		if h.cfg.Province != "" && e.ProvinceID != h.cfg.Province {
			continue
		}
		if h.cfg.RetryFailed || h.cfg.RetryIncomplete {
			row, ok := snapshot.Get(e.CSDID, e.Type)
			if ok && !retryWanted(h.cfg, row) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func retryWanted(cfg Config, row status.Row) bool {
	if cfg.RetryFailed && (row.Status == status.StatusFail || row.NeedsReparse == "YES") {
		return true
	}
	if cfg.RetryIncomplete && row.NeedsReparse == "YES" {
		return true
	}
	return false
}

// processMunicipality runs the per-municipality state machine. All errors are
// converted into a FAIL result; only the returned Result escapes.
func (h *Harvester) processMunicipality(ctx context.Context, log *zap.Logger, entry urlsource.Entry) Result {
	entry = h.resolveEntry(entry)
	res := Result{Entry: entry, State: StatePending}
	mlog := log.With(
		zap.String("csd_id", entry.CSDID),
		zap.String("municipality", entry.MunicipalityName),
	)

	if entry.PageURL == "" {
		res.State = StateStatusComputed
		res.Status = status.StatusFail
		res.Message = "no candidate URL"
		return res
	}

	res.State = StateFetching
	links, fetchErr := h.collectLinks(ctx, mlog, entry.PageURL)
	if fetchErr != nil {
		mlog.Warn("Fetch failed", zap.String("url", entry.PageURL), zap.Error(fetchErr))
		res.State = StateStatusComputed
		res.Status = status.StatusFail
		res.Message = fetchErr.Error()
		return res
	}
	res.State = StateExtracting
	mlog.Info("Links collected", zap.Int("count", len(links)))

	res.State = StateSelecting
	selection := selectdoc.Select(links)
	res.Found = selection.Found
	res.Unresolved = len(selection.Unresolved)
	if selection.Found == 0 {
		res.State = StateStatusComputed
		res.Status = status.StatusFail
		res.Message = "no annual reports found"
		return res
	}
	for _, link := range selection.Unresolved {
		mlog.Info("Unresolved year", zap.String("url", link.URL), zap.String("text", link.Text))
	}

	res.State = StateDownloading
	h.downloadSelection(ctx, mlog, entry, selection, &res)
	res.Years = len(selection.ByYear)
	res.State = StateStatusComputed
	res.Status = status.StatusOK
	res.Message = fmt.Sprintf("downloaded %d, found %d for %d years", res.Downloads, res.Found, res.Years)
	return res
}

// resolveEntry backfills identity fields from the reference tables when the
// URL CSV row is sparse.
func (h *Harvester) resolveEntry(entry urlsource.Entry) urlsource.Entry {
	if h.refdata == nil || entry.CSDID == "" {
		return entry
	}
	if entry.ProvinceID != "" && entry.Province != "" && entry.MunicipalityName != "" && entry.Type != "" {
		return entry
	}
	muni, ok := h.refdata.ByCSD(entry.CSDID)
	if !ok {
		return entry
	}
	if entry.ProvinceID == "" {
		entry.ProvinceID = muni.ProvinceID
	}
	if entry.Province == "" {
		entry.Province = muni.ProvinceName
	}
	if entry.MunicipalityName == "" {
		entry.MunicipalityName = muni.Name
	}
	if entry.Type == "" {
		entry.Type = muni.StatusName
	}
	return entry
}

// collectLinks fetches the finance page and any civicweb subfolders, bounded
// by MaxSubpages. A failure on the first page fails the municipality;
// subfolder failures are logged and skipped.
func (h *Harvester) collectLinks(ctx context.Context, mlog *zap.Logger, pageURL string) ([]extract.CandidateLink, error) {
	var all []extract.CandidateLink
	queue := []string{pageURL}
	crawled := map[string]bool{}

	for len(queue) > 0 && len(crawled) < h.cfg.MaxSubpages {
		current := queue[0]
		queue = queue[1:]
		if crawled[current] {
			continue
		}
		crawled[current] = true

		links, err := h.fetchAndExtract(ctx, current)
		if err != nil {
			if current == pageURL {
				return nil, err
			}
			mlog.Warn("Subpage fetch failed", zap.String("url", current), zap.Error(err))
			continue
		}
		for _, link := range links {
			if link.Folder {
				queue = append(queue, link.URL)
				continue
			}
			all = append(all, link)
		}
	}
	return all, nil
}

func (h *Harvester) fetchAndExtract(ctx context.Context, pageURL string) ([]extract.CandidateLink, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse candidate url: %w", err)
	}
	if strings.EqualFold(u.Scheme, "ftp") {
		if h.lister == nil {
			return nil, errors.New("ftp url but no ftp fetcher configured")
		}
		listing, err := h.lister.ListDir(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		return extract.FromFTPListing(listing.DirURL, listing.Names), nil
	}

	page, err := h.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if extract.IsCivicWeb(pageURL) {
		return extract.FromCivicWeb(pageURL, page.Body)
	}
	return extract.FromHTML(pageURL, page.Body)
}

// downloadSelection downloads the chosen document per year, newest first,
// then a bounded number of unknown-year documents. Every stored document is
// appended to the ledger before the next download begins.
func (h *Harvester) downloadSelection(ctx context.Context, mlog *zap.Logger, entry urlsource.Entry, selection selectdoc.Selection, res *Result) {
	years := selection.Years()
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	if len(years) > h.cfg.MaxDownloads {
		years = years[:h.cfg.MaxDownloads]
	}

	for _, year := range years {
		link := selection.ByYear[year]
		if !h.downloadOne(ctx, mlog, entry, link, year, 0, res) {
			return
		}
	}

	for i, link := range selection.Unresolved {
		if i >= h.cfg.MaxUnknownDownloads {
			break
		}
		if !h.downloadOne(ctx, mlog, entry, link, 0, i+1, res) {
			return
		}
	}
}

// downloadOne returns false when the municipality must be abandoned
// (disk error or cancellation).
func (h *Harvester) downloadOne(ctx context.Context, mlog *zap.Logger, entry urlsource.Entry, link extract.CandidateLink, year, unknownSeq int, res *Result) bool {
	result, err := h.downloader.Fetch(ctx, link, entry.ProvinceID, entry.CSDID, year, unknownSeq)
	if err != nil {
		var diskErr *download.DiskError
		if errors.As(err, &diskErr) {
			mlog.Error("Disk error; abandoning municipality", zap.Error(err))
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		mlog.Warn("Download failed", zap.String("url", link.URL), zap.Int("year", year), zap.Error(err))
		return true
	}
	if result.Skipped {
		mlog.Debug("Already on disk", zap.String("path", result.Path))
		return true
	}

	res.Downloads++
	if err := h.ledger.Append(ledger.Record{
		Source:     entry.PageURL,
		URL:        link.URL,
		StoredPath: result.Path,
		ProvinceID: entry.ProvinceID,
		CSDID:      entry.CSDID,
		Year:       result.Year,
	}); err != nil {
		mlog.Error("Ledger append failed", zap.Error(err))
	}
	return true
}
