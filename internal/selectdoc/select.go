// Package selectdoc reduces the candidate links for one municipality to at
// most one document per fiscal year. Selection is deterministic so re-runs
// over identical page content always pick the same files.
package selectdoc

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/munifin/harvester/internal/extract"
)

// draftPenalty is added to a draft's priority so final versions win, while
// drafts remain a fallback when no final version exists for the year.
const draftPenalty = 10

// currentYear is a variable so tests can pin it.
var currentYear = func() int { return time.Now().Year() }

// Selection is the outcome of candidate selection for one municipality.
type Selection struct {
	// ByYear maps fiscal year to the single chosen link for that year.
	ByYear map[int]extract.CandidateLink
	// Unresolved holds links whose year could not be inferred. They are
	// reported to operators rather than silently discarded.
	Unresolved []extract.CandidateLink
	// Found counts the distinct annual-report links considered, including
	// same-year losers and unresolved links.
	Found int
}

// Years returns the selected years in ascending order.
func (s Selection) Years() []int {
	years := make([]int, 0, len(s.ByYear))
	for y := range s.ByYear {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Select drops clearly irrelevant candidates (budgets, bylaws), deduplicates
// by URL, and picks the best document per year. Years at or beyond the
// current calendar year are skipped because those statements cannot exist yet.
func Select(links []extract.CandidateLink) Selection {
	sel := Selection{ByYear: make(map[int]extract.CandidateLink)}
	now := currentYear()
	seenURLs := map[string]bool{}

	for _, link := range links {
		if link.Folder || seenURLs[link.URL] {
			continue
		}
		if extract.IsExcluded(link.Text, link.URL) {
			continue
		}
		seenURLs[link.URL] = true
		sel.Found++

		if link.Year == 0 {
			sel.Unresolved = append(sel.Unresolved, link)
			continue
		}
		if link.Year >= now {
			continue
		}
		current, ok := sel.ByYear[link.Year]
		if !ok || better(link, current) {
			sel.ByYear[link.Year] = link
		}
	}
	return sel
}

// better reports whether a should replace the incumbent b for the same year.
// Order of comparison: document-type priority (drafts penalized), relevance
// keyword in the anchor text, lexically last URL segment. Equal on all three
// means first-seen wins, so the incumbent stays.
func better(a, b extract.CandidateLink) bool {
	pa, pb := priority(a), priority(b)
	if pa != pb {
		return pa < pb
	}
	ka, kb := extract.HasRelevanceKeyword(a.Text), extract.HasRelevanceKeyword(b.Text)
	if ka != kb {
		return ka
	}
	return lastSegment(a.URL) > lastSegment(b.URL)
}

func priority(l extract.CandidateLink) int {
	p := l.DocType.Priority()
	if l.Draft {
		p += draftPenalty
	}
	return p
}

func lastSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
