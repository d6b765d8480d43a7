package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func pinYear(t *testing.T, year int) {
	t.Helper()
	prev := currentYear
	currentYear = func() int { return year }
	t.Cleanup(func() { currentYear = prev })
}

func TestInferYear(t *testing.T) {
	pinYear(t, 2026)

	tests := []struct {
		name string
		text string
		want int
	}{
		{"single year", "statement_2021.pdf", 2021},
		{"year ended phrase wins", "Year Ended December 31, 2023 (published 2024)", 2023},
		{"fiscal range takes end year", "2023-2024 Annual Report", 2024},
		{"fiscal range with slash", "statements 2019/2020", 2020},
		{"short fiscal form", "FY 2023-24 statements", 2024},
		{"short form ignores month-like suffix", "uploaded 2022-05-15", 2022},
		{"multiple years take maximum", "report_2019_2020.pdf", 2020},
		{"current year filtered when alternatives exist", "archive 2026 2022", 2022},
		{"only current year kept", "statements 2026", 2026},
		{"nineteen hundreds", "annual report 1998", 1998},
		{"no year", "annual_report.pdf", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferYear(tt.text))
		})
	}
}

func TestInferYearFallsBackAcrossTexts(t *testing.T) {
	pinYear(t, 2026)

	// Anchor text is preferred; the URL often carries an upload date instead
	// of the report year.
	assert.Equal(t, 2020, InferYear("Annual Report 2020", "https://example.com/media/2024/01/doc.pdf"))
	assert.Equal(t, 2024, InferYear("Annual Report", "https://example.com/media/report_2024.pdf"))
	assert.Equal(t, 0, InferYear("Annual Report", "https://example.com/media/doc.pdf"))
}
