// Package extract parses fetched finance-page content into candidate document
// links. HTML anchor lists, civicweb.net document centers and FTP directory
// listings are three parsing strategies feeding the same CandidateLink shape.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CandidateLink is one possible document found on a finance page. Year is 0
// when no fiscal year could be inferred; such links are reported, not dropped.
type CandidateLink struct {
	URL       string
	Text      string
	Year      int
	SourceURL string
	DocType   DocType
	Draft     bool
	// Folder marks a civicweb subdirectory worth a bounded follow-up crawl
	// rather than a downloadable document.
	Folder bool
}

var docURLPatterns = []string{"/media/", "/document/", "/files/", "/download/", "/assets/"}

var docTextKeywords = []string{"annual report", "financial statement", "sofi", "view", "download", "report"}

// looksLikeDocumentLink reports whether a URL plausibly points at a
// downloadable document: an explicit .pdf target, or a document-style URL
// whose anchor text mentions a report.
func looksLikeDocumentLink(text, rawURL string) bool {
	urlLower := strings.ToLower(rawURL)
	if strings.HasSuffix(strings.ToLower(pathOf(urlLower)), ".pdf") {
		return true
	}
	for _, p := range docURLPatterns {
		if strings.Contains(urlLower, p) {
			textLower := strings.ToLower(text)
			for _, kw := range docTextKeywords {
				if strings.Contains(textLower, kw) {
					return true
				}
			}
			return false
		}
	}
	return false
}

func pathOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Path
	}
	return rawURL
}

// FromHTML walks every anchor on the page, resolves relative hrefs against
// the page URL and keeps the ones that look like document links.
func FromHTML(pageURL string, body []byte) ([]CandidateLink, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var links []CandidateLink
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		text := truncate(strings.TrimSpace(sel.Text()), 200)

		if !looksLikeDocumentLink(text, abs) {
			return
		}
		links = append(links, newCandidate(abs, text, pageURL))
	})
	return links, nil
}

var civicDocIDRe = regexp.MustCompile(`/document/(\d+)`)

var civicFolderKeywords = []string{"report", "finance", "financial", "annual", "statement", "sofi"}

// IsCivicWeb reports whether the URL is a civicweb.net document center, which
// needs its own extraction strategy.
func IsCivicWeb(rawURL string) bool {
	return strings.Contains(rawURL, "civicweb.net/filepro/documents")
}

// FromCivicWeb parses a civicweb.net document center page. Documents are
// announced via data-type="document" elements whose data-id maps to a
// /document/{id} PDF endpoint; folders with finance-related titles are
// surfaced for a bounded subdirectory crawl.
func FromCivicWeb(pageURL string, body []byte) ([]CandidateLink, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse civicweb html: %w", err)
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	siteBase := fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	var links []CandidateLink
	seen := map[string]bool{}

	doc.Find(`[data-type="document"]`).Each(func(_ int, sel *goquery.Selection) {
		docID, ok := sel.Attr("data-id")
		if !ok || docID == "" || seen[docID] {
			return
		}
		seen[docID] = true
		title, _ := sel.Attr("data-title")
		links = append(links, newCandidate(fmt.Sprintf("%s/document/%s", siteBase, docID), title, pageURL))
	})

	// Direct /document/ anchors as fallback for older templates.
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.Contains(href, "/document/") || strings.Contains(href, "filepro") {
			return
		}
		m := civicDocIDRe.FindStringSubmatch(href)
		if m == nil || seen[m[1]] {
			return
		}
		seen[m[1]] = true
		text, ok := sel.Attr("title")
		if !ok || text == "" {
			text = truncate(strings.TrimSpace(sel.Text()), 200)
		}
		links = append(links, newCandidate(fmt.Sprintf("%s/document/%s", siteBase, m[1]), text, pageURL))
	})

	doc.Find(`[data-type="folder"]`).Each(func(_ int, sel *goquery.Selection) {
		folderID, ok := sel.Attr("data-id")
		if !ok || folderID == "" {
			return
		}
		title, _ := sel.Attr("data-title")
		lower := strings.ToLower(title)
		for _, kw := range civicFolderKeywords {
			if strings.Contains(lower, kw) {
				links = append(links, CandidateLink{
					URL:       fmt.Sprintf("%s/filepro/documents/%s/", siteBase, folderID),
					Text:      title,
					SourceURL: pageURL,
					Folder:    true,
				})
				break
			}
		}
	})

	return links, nil
}

// FromFTPListing converts a flat FTP directory listing into candidate links,
// one per .pdf entry, with the file name serving as the link text.
func FromFTPListing(dirURL string, names []string) []CandidateLink {
	base := strings.TrimRight(dirURL, "/")
	var links []CandidateLink
	for _, name := range names {
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			continue
		}
		links = append(links, newCandidate(base+"/"+name, name, dirURL))
	}
	return links
}

// newCandidate fills in the inferred year and classification for a document
// link. Year inference favors the anchor text (the report year) over the URL,
// which often carries an upload date instead.
func newCandidate(absURL, text, sourceURL string) CandidateLink {
	return CandidateLink{
		URL:       absURL,
		Text:      text,
		Year:      InferYear(text, absURL),
		SourceURL: sourceURL,
		DocType:   ClassifyDocType(text, absURL),
		Draft:     IsDraft(text, absURL),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
