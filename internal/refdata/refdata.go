// Package refdata loads the static municipality reference tables: the census
// subdivision roster plus the status-code and province-code lookups. The tables
// are read-only input; nothing in the pipeline mutates them.
package refdata

import (
	"fmt"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
)

// Municipality is one census subdivision with its lookups resolved.
type Municipality struct {
	CSDID        string
	Name         string
	StatusCode   string
	StatusName   string
	ProvinceID   string
	ProvinceName string
	Population   int
}

// rawMunicipality mirrors the columns of input_municipalities.csv.
type rawMunicipality struct {
	Region          string `csv:"region"`
	Name            string `csv:"name"`
	MunicipalStatus string `csv:"municipal_status"`
	PRUID           string `csv:"PR_UID"`
	Pop             string `csv:"pop"`
}

type statusCodeRow struct {
	Code string `csv:"code"`
	Name string `csv:"name"`
}

type provinceCodeRow struct {
	ID       string `csv:"id"`
	Province string `csv:"province"`
}

// Config names the three reference CSV files.
type Config struct {
	MunicipalitiesCSV string
	StatusCodesCSV    string
	ProvinceCodesCSV  string
}

// Store holds the loaded reference tables indexed for lookup.
type Store struct {
	municipalities []Municipality
	byCSD          map[string]Municipality
	statusNames    map[string]string
	provinceNames  map[string]string
}

// Load reads all three reference CSVs and builds the lookup indexes.
func Load(cfg Config) (*Store, error) {
	statusNames, err := loadStatusCodes(cfg.StatusCodesCSV)
	if err != nil {
		return nil, err
	}
	provinceNames, err := loadProvinceCodes(cfg.ProvinceCodesCSV)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cfg.MunicipalitiesCSV)
	if err != nil {
		return nil, fmt.Errorf("read municipalities csv: %w", err)
	}
	var raw []rawMunicipality
	if err := csvutil.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode municipalities csv: %w", err)
	}

	s := &Store{
		byCSD:         make(map[string]Municipality, len(raw)),
		statusNames:   statusNames,
		provinceNames: provinceNames,
	}
	for _, r := range raw {
		m := s.resolve(r)
		if m.CSDID == "" {
			continue
		}
		s.municipalities = append(s.municipalities, m)
		s.byCSD[m.CSDID] = m
	}
	return s, nil
}

func (s *Store) resolve(r rawMunicipality) Municipality {
	code := strings.TrimSpace(r.MunicipalStatus)
	provinceID := strings.TrimSpace(r.PRUID)
	pop := 0
	fmt.Sscanf(strings.TrimSpace(r.Pop), "%d", &pop)
	return Municipality{
		CSDID:        strings.TrimSpace(r.Region),
		Name:         strings.TrimSpace(r.Name),
		StatusCode:   code,
		StatusName:   s.StatusName(code),
		ProvinceID:   provinceID,
		ProvinceName: s.ProvinceName(provinceID),
		Population:   pop,
	}
}

// All returns every municipality in file order.
func (s *Store) All() []Municipality {
	return s.municipalities
}

// ByCSD returns the municipality for a census subdivision id.
func (s *Store) ByCSD(csdID string) (Municipality, bool) {
	m, ok := s.byCSD[csdID]
	return m, ok
}

// ByProvince returns every municipality in the given province.
func (s *Store) ByProvince(provinceID string) []Municipality {
	var out []Municipality
	for _, m := range s.municipalities {
		if m.ProvinceID == provinceID {
			out = append(out, m)
		}
	}
	return out
}

// StatusName resolves a municipal status code; unknown codes fall back to the code itself.
func (s *Store) StatusName(code string) string {
	if name, ok := s.statusNames[code]; ok {
		return name
	}
	return code
}

// ProvinceName resolves a province id; unknown ids fall back to the id itself.
func (s *Store) ProvinceName(id string) string {
	if name, ok := s.provinceNames[id]; ok {
		return name
	}
	return id
}

func loadStatusCodes(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status codes csv: %w", err)
	}
	var rows []statusCodeRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode status codes csv: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		code := strings.TrimSpace(r.Code)
		if code != "" {
			out[code] = strings.TrimSpace(r.Name)
		}
	}
	return out, nil
}

func loadProvinceCodes(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read province codes csv: %w", err)
	}
	var rows []provinceCodeRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode province codes csv: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		id := strings.TrimSpace(r.ID)
		if id != "" {
			out[id] = strings.TrimSpace(r.Province)
		}
	}
	return out, nil
}
