// Package urlsource reads the candidate finance-page URLs discovered upstream.
// The discovery step itself (search API + selection) is a separate tool; this
// package only consumes its output CSV.
package urlsource

import (
	"fmt"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
)

// Entry is one discovered finance page for a municipality.
type Entry struct {
	CSDID            string `csv:"census_subdivision_id"`
	MunicipalityName string `csv:"municipality_name"`
	Type             string `csv:"type"`
	ProvinceID       string `csv:"province_id"`
	Province         string `csv:"province"`
	PageURL          string `csv:"page_url"`
}

// Load reads the URL CSV in file order. A missing file yields an empty slice,
// not an error: the crawl step is expected to run before any URLs exist.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read url csv: %w", err)
	}
	var entries []Entry
	if err := csvutil.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode url csv: %w", err)
	}
	for i := range entries {
		entries[i].PageURL = strings.TrimSpace(entries[i].PageURL)
	}
	return entries, nil
}
