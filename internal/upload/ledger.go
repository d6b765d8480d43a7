package upload

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/munifin/harvester/internal/clock"
)

// Record is one upload outcome, keyed by (province, csd, year) for exact
// lookup rather than text matching.
type Record struct {
	ProvinceID string    `csv:"province_id"`
	CSDID      string    `csv:"csd_id"`
	Year       int       `csv:"year"`
	Status     string    `csv:"status"`
	UploadedAt time.Time `csv:"uploaded_at"`
}

// Key identifies one uploaded document.
type Key struct {
	ProvinceID string
	CSDID      string
	Year       int
}

// Ledger is the append-only upload history with an in-memory key index. Only
// successful uploads enter the index, so failures are retried on re-runs.
type Ledger struct {
	mu       sync.Mutex
	file     *os.File
	csvw     *csv.Writer
	enc      *csvutil.Encoder
	clock    clock.Clock
	uploaded map[Key]bool
}

// OpenLedger loads the history at path and opens it for appending.
func OpenLedger(path string, clk clock.Clock) (*Ledger, error) {
	uploaded := map[Key]bool{}
	if data, err := os.ReadFile(path); err == nil {
		var records []Record
		if err := csvutil.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode upload ledger %s: %w", path, err)
		}
		for _, r := range records {
			if r.Status == "success" {
				uploaded[Key{r.ProvinceID, r.CSDID, r.Year}] = true
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read upload ledger %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open upload ledger %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat upload ledger %s: %w", path, err)
	}

	csvw := csv.NewWriter(file)
	enc := csvutil.NewEncoder(csvw)
	enc.AutoHeader = info.Size() == 0

	return &Ledger{
		file:     file,
		csvw:     csvw,
		enc:      enc,
		clock:    clk,
		uploaded: uploaded,
	}, nil
}

// Uploaded reports whether the key has a recorded successful upload.
func (l *Ledger) Uploaded(k Key) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.uploaded[k]
}

// Append records one outcome and flushes it to stable storage.
func (l *Ledger) Append(k Key, uploadStatus string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		ProvinceID: k.ProvinceID,
		CSDID:      k.CSDID,
		Year:       k.Year,
		Status:     uploadStatus,
		UploadedAt: l.clock.Now(),
	}
	if err := l.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode upload record: %w", err)
	}
	l.csvw.Flush()
	if err := l.csvw.Error(); err != nil {
		return fmt.Errorf("flush upload ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync upload ledger: %w", err)
	}
	if uploadStatus == "success" {
		l.uploaded[k] = true
	}
	return nil
}

// Close releases the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
