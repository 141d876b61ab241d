// Package detector decides when an HTML response should be re-fetched in a browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/gov-crawler/internal/model"
)

const (
	defaultBodyThreshold = 2048
	defaultMinText       = 200
	scriptShareLimit     = 25
)

// Heuristic promotes pages that look like client-rendered applications.
type Heuristic struct {
	BodyLengthThreshold int
	MinTextLength       int
}

// NewHeuristic creates a detector. A zero threshold selects the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinTextLength: defaultMinText}
}

// Mount points of common SPA frameworks.
var spaMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("ng-app"),
	[]byte("data-v-app"),
}

// ShouldPromote reports whether resp needs a headless render.
func (h *Heuristic) ShouldPromote(resp model.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNonAuthoritativeInfo {
		return false
	}
	if !resp.IsHTML() {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptShare(body) >= scriptShareLimit {
		return true
	}
	lower := bytes.ToLower(body)
	hasMarker := false
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return false
	}
	// A mount point with server-rendered content does not need a browser.
	return visibleTextLength(body) < h.MinTextLength
}

// scriptShare is the percentage of the document occupied by <script> elements.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered, pos := 0, 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if closeRel := strings.Index(lower[start:], closeTag); closeRel != -1 {
			end = start + closeRel + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}

func visibleTextLength(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	doc.Find("script,style,noscript,template").Remove()
	return len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
}
