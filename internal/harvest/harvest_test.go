package harvest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/munifin/harvester/internal/download"
	"github.com/munifin/harvester/internal/fetch"
	"github.com/munifin/harvester/internal/ledger"
	"github.com/munifin/harvester/internal/status"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// stubFetcher serves canned HTML per URL.
type stubFetcher struct {
	pages map[string]string
	errs  map[string]error
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) (fetch.Page, error) {
	if err := f.errs[rawURL]; err != nil {
		return fetch.Page{}, err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return fetch.Page{}, &fetch.HTTPError{Status: 404, URL: rawURL}
	}
	return fetch.Page{URL: rawURL, FinalURL: rawURL, StatusCode: 200, Body: []byte(body)}, nil
}

func newPDFServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.7\n" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeURLsCSV(t *testing.T, dir string, rows ...string) string {
	t.Helper()
	path := filepath.Join(dir, "urls.csv")
	contents := "census_subdivision_id,municipality_name,type,province_id,province,page_url\n"
	for _, r := range rows {
		contents += r + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o640))
	return path
}

func testHarvestConfig(t *testing.T, urlsCSV string) Config {
	dir := t.TempDir()
	return Config{
		LakeDir:             filepath.Join(dir, "lake"),
		URLsCSV:             urlsCSV,
		LedgerCSV:           filepath.Join(dir, "ledger.csv"),
		StatusCSV:           filepath.Join(dir, "status.csv"),
		MinYears:            5,
		Concurrency:         2,
		MaxSubpages:         5,
		MaxDownloads:        50,
		MaxUnknownDownloads: 2,
	}
}

func newTestHarvester(t *testing.T, cfg Config, fetcher fetch.Fetcher) *Harvester {
	t.Helper()
	clk := fixedClock{now: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
	dl := download.New(cfg.LakeDir, 5*time.Second, "harvester-test/1.0", nil, zap.NewNop())
	lw, err := ledger.NewWriter(cfg.LedgerCSV, clk)
	require.NoError(t, err)
	t.Cleanup(func() { lw.Close() })
	return New(cfg, fetcher, nil, dl, lw, nil, clk, zap.NewNop())
}

func TestRunDownloadsAndComputesStatus(t *testing.T) {
	srv := newPDFServer(t)
	pageURL := "https://town.example.com/finance/"
	fetcher := &stubFetcher{pages: map[string]string{
		pageURL: fmt.Sprintf(`<html><body>
			<a href="%s/fs_2020.pdf">2020 Financial Statements</a>
			<a href="%s/fs_2021.pdf">2021 Financial Statements</a>
			<a href="%s/budget_2021.pdf">2021 Budget</a>
		</body></html>`, srv.URL, srv.URL, srv.URL),
	}}

	urlsCSV := writeURLsCSV(t, t.TempDir(),
		"5915022,Langley,CY,59,British Columbia,"+pageURL)
	cfg := testHarvestConfig(t, urlsCSV)

	h := newTestHarvester(t, cfg, fetcher)
	summary, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Results, 1)

	res := summary.Results[0]
	assert.Equal(t, StateStatusComputed, res.State)
	assert.Equal(t, status.StatusOK, res.Status)
	assert.Equal(t, 2, res.Downloads)
	assert.Equal(t, 2, res.Found)
	assert.Equal(t, 2, res.Years)

	assert.FileExists(t, download.CanonicalPath(cfg.LakeDir, "59", "5915022", 2020))
	assert.FileExists(t, download.CanonicalPath(cfg.LakeDir, "59", "5915022", 2021))

	records, err := ledger.Read(cfg.LedgerCSV)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, pageURL, records[0].Source)

	snap, err := status.LoadSnapshot(cfg.StatusCSV, cfg.MinYears, fixedClock{now: time.Now()})
	require.NoError(t, err)
	row, ok := snap.Get("5915022", "CY")
	require.True(t, ok)
	assert.Equal(t, status.StatusOK, row.Status)
	assert.Equal(t, 2, row.Downloaded)
	assert.Equal(t, 2, row.Years)
	assert.Equal(t, "YES", row.NeedsReparse)

	// Second run changes nothing: files are on disk, the ledger only grows
	// when something new is stored.
	h2 := newTestHarvester(t, cfg, fetcher)
	summary, err = h2.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 0, summary.Results[0].Downloads)
	assert.Equal(t, status.StatusOK, summary.Results[0].Status)

	records, err = ledger.Read(cfg.LedgerCSV)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRunFailsWithoutCandidateURL(t *testing.T) {
	urlsCSV := writeURLsCSV(t, t.TempDir(),
		"5915055,North Vancouver,DM,59,British Columbia,")
	cfg := testHarvestConfig(t, urlsCSV)

	h := newTestHarvester(t, cfg, &stubFetcher{})
	summary, err := h.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, status.StatusFail, summary.Results[0].Status)
	assert.Equal(t, "no candidate URL", summary.Results[0].Message)
	assert.Equal(t, 1, summary.Failed)

	snap, err := status.LoadSnapshot(cfg.StatusCSV, cfg.MinYears, fixedClock{now: time.Now()})
	require.NoError(t, err)
	row, ok := snap.Get("5915055", "DM")
	require.True(t, ok)
	assert.Equal(t, status.StatusFail, row.Status)
	assert.Equal(t, "no candidate URL", row.Notes)
	assert.Equal(t, "YES", row.NeedsReparse)
}

func TestRunFailsOnFetchError(t *testing.T) {
	pageURL := "https://down.example.com/finance/"
	fetcher := &stubFetcher{errs: map[string]error{pageURL: fetch.ErrUnreachable}}

	urlsCSV := writeURLsCSV(t, t.TempDir(),
		"5915022,Langley,CY,59,British Columbia,"+pageURL)
	cfg := testHarvestConfig(t, urlsCSV)

	summary, err := newTestHarvester(t, cfg, fetcher).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, status.StatusFail, summary.Results[0].Status)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunFailsWhenNothingRelevant(t *testing.T) {
	pageURL := "https://town.example.com/finance/"
	fetcher := &stubFetcher{pages: map[string]string{
		pageURL: `<html><body><a href="/budget_2023.pdf">2023 Budget</a></body></html>`,
	}}

	urlsCSV := writeURLsCSV(t, t.TempDir(),
		"5915022,Langley,CY,59,British Columbia,"+pageURL)
	cfg := testHarvestConfig(t, urlsCSV)

	summary, err := newTestHarvester(t, cfg, fetcher).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, status.StatusFail, summary.Results[0].Status)
	assert.Equal(t, "no annual reports found", summary.Results[0].Message)
}

func TestRunScopeFilters(t *testing.T) {
	srv := newPDFServer(t)
	pageA := "https://a.example.com/finance/"
	pageB := "https://b.example.com/finance/"
	fetcher := &stubFetcher{pages: map[string]string{
		pageA: fmt.Sprintf(`<a href="%s/fs_2021.pdf">2021 Financial Statements</a>`, srv.URL),
		pageB: fmt.Sprintf(`<a href="%s/fs_2020.pdf">2020 Financial Statements</a>`, srv.URL),
	}}

	urlsCSV := writeURLsCSV(t, t.TempDir(),
		"5915022,Langley,CY,59,British Columbia,"+pageA,
		"3520005,Toronto,C,35,Ontario,"+pageB)
	cfg := testHarvestConfig(t, urlsCSV)
	cfg.CSD = "3520005"

	summary, err := newTestHarvester(t, cfg, fetcher).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "3520005", summary.Results[0].Entry.CSDID)

	cfg.CSD = ""
	cfg.Province = "59"
	summary, err = newTestHarvester(t, cfg, fetcher).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "5915022", summary.Results[0].Entry.CSDID)

	cfg.Province = ""
	cfg.Limit = 1
	summary, err = newTestHarvester(t, cfg, fetcher).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "5915022", summary.Results[0].Entry.CSDID)
}

func TestRunRetryFailedOnly(t *testing.T) {
	srv := newPDFServer(t)
	pageOK := "https://ok.example.com/finance/"
	pageBad := "https://bad.example.com/finance/"
	fetcher := &stubFetcher{
		pages: map[string]string{
			pageOK: fmt.Sprintf(`<a href="%s/fs_2021.pdf">2021 Financial Statements</a>`, srv.URL),
		},
		errs: map[string]error{pageBad: fetch.ErrUnreachable},
	}

	urlsCSV := writeURLsCSV(t, t.TempDir(),
		"5915022,Langley,CY,59,British Columbia,"+pageOK,
		"5915055,North Vancouver,DM,59,British Columbia,"+pageBad)
	cfg := testHarvestConfig(t, urlsCSV)
	cfg.MinYears = 1 // one year on disk marks the first municipality complete

	summary, err := newTestHarvester(t, cfg, fetcher).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	// The failed municipality recovers; retry scope excludes the complete one.
	fetcher.errs = nil
	fetcher.pages[pageBad] = fmt.Sprintf(`<a href="%s/fs_2020.pdf">2020 Financial Statements</a>`, srv.URL)
	cfg.RetryFailed = true

	summary, err = newTestHarvester(t, cfg, fetcher).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "5915055", summary.Results[0].Entry.CSDID)
	assert.Equal(t, 1, summary.Succeeded)

	// Everything complete now; a retry-incomplete run has nothing to do.
	cfg.RetryFailed = false
	cfg.RetryIncomplete = true
	summary, err = newTestHarvester(t, cfg, fetcher).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Results)
	assert.Equal(t, 0, summary.Processed)
}

func TestCollectLinksFollowsCivicWebFolders(t *testing.T) {
	base := "https://town.civicweb.net/filepro/documents/1/"
	sub := "https://town.civicweb.net/filepro/documents/7/"
	fetcher := &stubFetcher{pages: map[string]string{
		base: `<div data-type="document" data-id="101" data-title="2021 Annual Report"></div>
			<div data-type="folder" data-id="7" data-title="Financial Statements"></div>`,
		sub: `<div data-type="document" data-id="202" data-title="2020 Annual Report"></div>`,
	}}

	cfg := testHarvestConfig(t, "")
	h := newTestHarvester(t, cfg, fetcher)

	links, err := h.collectLinks(context.Background(), zap.NewNop(), base)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "https://town.civicweb.net/document/101", links[0].URL)
	assert.Equal(t, "https://town.civicweb.net/document/202", links[1].URL)
}

func TestCollectLinksBoundsSubpageCrawl(t *testing.T) {
	base := "https://town.civicweb.net/filepro/documents/1/"
	pages := map[string]string{}
	// Every folder links to the next one; only the page bound stops the walk.
	for i := 1; i <= 10; i++ {
		pages[fmt.Sprintf("https://town.civicweb.net/filepro/documents/%d/", i)] = fmt.Sprintf(
			`<div data-type="document" data-id="%d" data-title="Financial Statements %d"></div>
			 <div data-type="folder" data-id="%d" data-title="Financial Archive"></div>`,
			100+i, 2010+i, i+1)
	}
	fetcher := &stubFetcher{pages: pages}

	cfg := testHarvestConfig(t, "")
	cfg.MaxSubpages = 3
	h := newTestHarvester(t, cfg, fetcher)

	links, err := h.collectLinks(context.Background(), zap.NewNop(), base)
	require.NoError(t, err)
	assert.Len(t, links, 3)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(viper.New())
	assert.Equal(t, 5, cfg.MinYears)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 5, cfg.MaxSubpages)
	assert.Equal(t, 50, cfg.MaxDownloads)
}
