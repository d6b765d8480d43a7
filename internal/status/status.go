// Package status maintains the derived per-municipality download status. The
// snapshot is a projection, fully regenerated from disk state each run and
// replaced on write; it is never hand-edited or merged incrementally.
package status

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/jszwec/csvutil"
	"github.com/munifin/harvester/internal/clock"
)

// Status values for a municipality.
const (
	StatusOK   = "OK"
	StatusFail = "FAIL"
)

// Row is one municipality's entry in the status snapshot.
type Row struct {
	CensusSubdivisionID string `csv:"census_subdivision_id"`
	MunicipalityName    string `csv:"municipality_name"`
	Type                string `csv:"type"`
	ProvinceID          string `csv:"province_id"`
	Province            string `csv:"province"`
	Status              string `csv:"status"`
	Downloaded          int    `csv:"downloaded"`
	Found               int    `csv:"found"`
	Years               int    `csv:"years"`
	NeedsReparse        string `csv:"needs_reparse"`
	Notes               string `csv:"notes"`
	LastUpdated         string `csv:"last_updated"`
	PageURL             string `csv:"page_url"`
}

var yearFileRe = regexp.MustCompile(`^financial_statement_((?:19|20)\d\d)\.pdf$`)

// CountYearsOnDisk returns the number of distinct fiscal years present in the
// municipality's lake directory. Disk is the ground truth for what exists
// now, independent of the ledger.
func CountYearsOnDisk(lakeDir, provinceID, csdID string) int {
	dir := filepath.Join(lakeDir, provinceID, csdID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	years := map[int]bool{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := yearFileRe.FindStringSubmatch(e.Name()); m != nil {
			y, _ := strconv.Atoi(m[1])
			years[y] = true
		}
	}
	return len(years)
}

// NeedsReparse derives the reparse flag: YES when the municipality failed or
// has fewer than minYears distinct years on disk.
func NeedsReparse(statusValue string, years, minYears int) string {
	if statusValue == StatusFail || years < minYears {
		return "YES"
	}
	return "NO"
}

type key struct {
	csdID string
	typ   string
}

// Snapshot accumulates rows keyed by (census subdivision, type) and writes
// the whole projection atomically.
type Snapshot struct {
	path     string
	minYears int
	clock    clock.Clock
	rows     map[key]Row
}

// LoadSnapshot reads the existing snapshot (if any) so that rows for
// municipalities outside this run's scope are preserved on write.
func LoadSnapshot(path string, minYears int, clk clock.Clock) (*Snapshot, error) {
	s := &Snapshot{path: path, minYears: minYears, clock: clk, rows: map[key]Row{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read status snapshot %s: %w", path, err)
	}
	var rows []Row
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode status snapshot %s: %w", path, err)
	}
	for _, r := range rows {
		s.rows[key{r.CensusSubdivisionID, r.Type}] = r
	}
	return s, nil
}

// Get returns the current row for a municipality, if present.
func (s *Snapshot) Get(csdID, typ string) (Row, bool) {
	r, ok := s.rows[key{csdID, typ}]
	return r, ok
}

// Upsert recomputes and stores the row for one municipality. Downloaded and
// Years both reflect the distinct years currently on disk; NeedsReparse and
// LastUpdated are derived here so callers cannot get them wrong.
func (s *Snapshot) Upsert(row Row, lakeDir string) {
	years := CountYearsOnDisk(lakeDir, row.ProvinceID, row.CensusSubdivisionID)
	row.Downloaded = years
	row.Years = years
	row.NeedsReparse = NeedsReparse(row.Status, years, s.minYears)
	if row.Notes == "" && row.Status == StatusOK && years < s.minYears {
		row.Notes = "Low year count"
	}
	row.LastUpdated = s.clock.Now().Format("2006-01-02 15:04:05")
	s.rows[key{row.CensusSubdivisionID, row.Type}] = row
}

// Rows returns all rows ordered by census subdivision id then type.
func (s *Snapshot) Rows() []Row {
	out := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CensusSubdivisionID != out[j].CensusSubdivisionID {
			return out[i].CensusSubdivisionID < out[j].CensusSubdivisionID
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Write replaces the snapshot file atomically (temp file + rename).
func (s *Snapshot) Write() error {
	data, err := csvutil.Marshal(s.Rows())
	if err != nil {
		return fmt.Errorf("encode status snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
