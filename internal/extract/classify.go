package extract

import "strings"

// DocType classifies what kind of financial document a link points at.
type DocType string

// Document types in descending priority order.
const (
	DocAnnualReport       DocType = "annual_report"
	DocFinancialStatement DocType = "financial_statement"
	DocSOFI               DocType = "sofi"
	DocOther              DocType = "other"
)

// Priority returns the selection rank for the type; lower is better.
func (d DocType) Priority() int {
	switch d {
	case DocAnnualReport:
		return 1
	case DocFinancialStatement:
		return 2
	case DocSOFI:
		return 3
	default:
		return 4
	}
}

var excludeKeywords = []string{
	"budget", "projection", "forecast", "proposed",
	"preliminary", "bylaw", "tax rate", "levy", "quarterly",
}

// relevanceKeywords break ties between same-year candidates.
var relevanceKeywords = []string{
	"financial statement", "annual report", "audited", "consolidated",
}

func normalize(text, rawURL string) string {
	combined := strings.ToLower(text) + " " + strings.ToLower(rawURL)
	combined = strings.ReplaceAll(combined, "_", " ")
	return strings.ReplaceAll(combined, "-", " ")
}

// IsExcluded reports whether the link is clearly not an annual statement:
// budgets, projections, bylaws and the like. Links without any keyword at all
// stay eligible; plenty of municipalities publish statements under bare
// year-only filenames.
func IsExcluded(text, rawURL string) bool {
	combined := normalize(text, rawURL)
	for _, kw := range excludeKeywords {
		if strings.Contains(combined, kw) {
			return true
		}
	}
	return false
}

// ClassifyDocType buckets a link by document kind for per-year selection.
func ClassifyDocType(text, rawURL string) DocType {
	combined := normalize(text, rawURL)

	if strings.Contains(combined, "annual report") {
		return DocAnnualReport
	}
	for _, kw := range []string{"financial statement", "audited financial", "consolidated financial"} {
		if strings.Contains(combined, kw) {
			return DocFinancialStatement
		}
	}
	if strings.Contains(combined, "sofi") || strings.Contains(combined, "statement of financial information") {
		return DocSOFI
	}
	return DocOther
}

// IsDraft reports whether the document is a draft version. Drafts are still
// eligible but rank below final versions for the same year.
func IsDraft(text, rawURL string) bool {
	return strings.Contains(normalize(text, rawURL), "draft")
}

// HasRelevanceKeyword reports whether the anchor text carries one of the
// tie-break keywords used by the selector.
func HasRelevanceKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range relevanceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
