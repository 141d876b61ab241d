// Package parser extracts links, images and visible text from HTML documents.
package parser

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// jsRedirectPatterns capture the target of common onclick navigations.
var jsRedirectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`window\.location(?:\.href|\.assign)?\s*=\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`(?:self|top)\.location(?:\.href)?\s*=\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`window\.location\.(?:assign|replace)\(\s*['"]([^'"]+)['"]`),
}

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpeg": {},
	".jpg":  {},
}

// Parser is a goquery-backed document parser. It is safe for concurrent use.
type Parser struct {
	jsRedirects bool
}

// Option customizes a Parser.
type Option func(*Parser)

// WithJSRedirects enables scanning onclick handlers of <a> and <button> elements.
func WithJSRedirects(enabled bool) Option {
	return func(p *Parser) {
		p.jsRedirects = enabled
	}
}

// New builds a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExtractLinks returns absolute URLs referenced by <a href> (and, when enabled,
// onclick redirects), resolved against <base href> or pageURL. Fragment-only
// references are skipped.
func (p *Parser) ExtractLinks(pageURL, content string) []string {
	doc, base, ok := load(pageURL, content)
	if !ok {
		return nil
	}
	var out []string
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		if href, exists := s.Attr("href"); exists {
			if link, ok := resolve(base, href); ok {
				out = append(out, link)
			}
		}
		if p.jsRedirects {
			out = append(out, redirects(base, s)...)
		}
	})
	if p.jsRedirects {
		doc.Find("button").Each(func(_ int, s *goquery.Selection) {
			out = append(out, redirects(base, s)...)
		})
	}
	return out
}

// ExtractImages returns absolute URLs of <img src> references with a png, jpeg or jpg extension.
func (p *Parser) ExtractImages(pageURL, content string) []string {
	doc, base, ok := load(pageURL, content)
	if !ok {
		return nil
	}
	var out []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		link, ok := resolve(base, src)
		if !ok {
			return
		}
		u, err := url.Parse(link)
		if err != nil {
			return
		}
		if _, img := imageExtensions[strings.ToLower(path.Ext(u.Path))]; img {
			out = append(out, link)
		}
	})
	return out
}

// Text returns the visible body text with whitespace collapsed. Unparseable
// input is returned unchanged.
func (p *Parser) Text(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	doc.Find("script,style,noscript,template").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	return strings.Join(strings.Fields(body.Text()), " ")
}

func load(pageURL, content string) (*goquery.Document, *url.URL, bool) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, nil, false
	}
	return doc, baseHref(doc, page), true
}

// baseHref honours <base href>, falling back to the page URL.
func baseHref(doc *goquery.Document, page *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return page
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return page
	}
	return page.ResolveReference(ref)
}

func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

func redirects(base *url.URL, s *goquery.Selection) []string {
	onclick, ok := s.Attr("onclick")
	if !ok {
		return nil
	}
	var out []string
	for _, re := range jsRedirectPatterns {
		for _, m := range re.FindAllStringSubmatch(onclick, -1) {
			if link, ok := resolve(base, m[1]); ok {
				out = append(out, link)
			}
		}
	}
	return out
}
