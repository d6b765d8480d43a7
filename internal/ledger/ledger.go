// Package ledger maintains the append-only record of every successful
// download. The ledger is the audit trail of what happened and when; it is
// never rewritten, and the on-disk lake remains the ground truth for what
// exists now. Historical duplicates from re-runs are harmless by design.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/munifin/harvester/internal/clock"
)

// Record is one completed download.
type Record struct {
	Source      string    `csv:"source"`
	URL         string    `csv:"url"`
	StoredPath  string    `csv:"stored_path"`
	ProvinceID  string    `csv:"province_id"`
	CSDID       string    `csv:"csd_id"`
	Year        int       `csv:"year,omitempty"`
	RetrievedAt time.Time `csv:"retrieved_at"`
}

// Writer appends records to the ledger file. Appends are serialized by a
// mutex and synced to disk before returning, so an interrupted run never
// loses the record of a completed download.
type Writer struct {
	mu    sync.Mutex
	file  *os.File
	csvw  *csv.Writer
	enc   *csvutil.Encoder
	clock clock.Clock
}

// NewWriter opens (or creates) the ledger at path for appending. The header
// is written only when the file is new.
func NewWriter(path string, clk clock.Clock) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat ledger %s: %w", path, err)
	}

	csvw := csv.NewWriter(file)
	enc := csvutil.NewEncoder(csvw)
	enc.AutoHeader = info.Size() == 0

	return &Writer{file: file, csvw: csvw, enc: enc, clock: clk}, nil
}

// Append writes one record and flushes it to stable storage. RetrievedAt is
// stamped from the writer's clock when unset.
func (w *Writer) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if rec.RetrievedAt.IsZero() {
		rec.RetrievedAt = w.clock.Now()
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}
	w.csvw.Flush()
	if err := w.csvw.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Read loads the full historical ledger. A missing file is an empty history.
func Read(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	var records []Record
	if err := csvutil.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	return records, nil
}
