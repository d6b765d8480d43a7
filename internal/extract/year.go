package extract

import (
	"regexp"
	"strconv"
	"time"
)

var (
	yearEndedRe   = regexp.MustCompile(`(?i)year\s+ended.*?((?:19|20)\d\d)`)
	fiscalRangeRe = regexp.MustCompile(`((?:19|20)\d\d)[-/]((?:19|20)\d\d)\b`)
	// Short fiscal form 2023-24 or 2023/24; the second part must be >= 10 so
	// dates like 2022-05 do not match.
	shortFiscalRe = regexp.MustCompile(`(20[0-2]\d)[-/]([1-2]\d)\b`)
	yearTokenRe   = regexp.MustCompile(`(?:19|20)\d\d`)
)

// currentYear is a variable so tests can pin it.
var currentYear = func() int { return time.Now().Year() }

// InferYear extracts the fiscal year from the given texts, trying each in
// order and returning the first hit. Within one text the rules are, in order:
// an explicit "year ended ... YYYY" phrase, a fiscal range (end year wins),
// and otherwise the maximum 4-digit 19xx/20xx token, preferring tokens before
// the current calendar year. Returns 0 when no year is found.
//
// Taking the maximum token is a heuristic shared with the upload side; a
// filename carrying an unrelated 4-digit number can be mis-tagged.
func InferYear(texts ...string) int {
	for _, t := range texts {
		if y := inferYearFromText(t); y != 0 {
			return y
		}
	}
	return 0
}

func inferYearFromText(text string) int {
	if text == "" {
		return 0
	}
	if m := yearEndedRe.FindStringSubmatch(text); m != nil {
		return mustAtoi(m[1])
	}
	if m := fiscalRangeRe.FindStringSubmatch(text); m != nil {
		return mustAtoi(m[2])
	}
	if m := shortFiscalRe.FindStringSubmatch(text); m != nil {
		return 2000 + mustAtoi(m[2])
	}

	tokens := yearTokenRe.FindAllString(text, -1)
	if len(tokens) == 0 {
		return 0
	}
	now := currentYear()
	maxAny, maxPast := 0, 0
	for _, tok := range tokens {
		y := mustAtoi(tok)
		if y > maxAny {
			maxAny = y
		}
		if y < now && y > maxPast {
			maxPast = y
		}
	}
	// Prefer the most recent year that is not the running year; statements
	// for the current year cannot exist yet.
	if maxPast != 0 {
		return maxPast
	}
	return maxAny
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
