// Package model defines the records shared by the crawler, dedup and storage layers.
package model

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// PageType classifies a stored page.
type PageType string

// Page types persisted in the page_type lookup table.
const (
	PageTypeHTML      PageType = "HTML"
	PageTypeBinary    PageType = "BINARY"
	PageTypeDuplicate PageType = "DUPLICATE"
	PageTypeFrontier  PageType = "FRONTIER"
)

// DataType is the format of a BINARY page.
type DataType string

// Binary formats persisted in the data_type lookup table.
const (
	DataTypePDF  DataType = "PDF"
	DataTypeDOC  DataType = "DOC"
	DataTypeDOCX DataType = "DOCX"
	DataTypePPT  DataType = "PPT"
	DataTypePPTX DataType = "PPTX"
)

var downloadableContentTypes = map[string]DataType{
	"application/pdf":    DataTypePDF,
	"application/msword": DataTypeDOC,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   DataTypeDOCX,
	"application/vnd.ms-powerpoint":                                             DataTypePPT,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": DataTypePPTX,
}

// DataTypeForContentType maps a Content-Type header to a downloadable format.
// Parameters such as charset are ignored.
func DataTypeForContentType(contentType string) (DataType, bool) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	dt, ok := downloadableContentTypes[mediaType]
	return dt, ok
}

// Site is one crawled origin.
type Site struct {
	ID             int64
	Domain         string
	RobotsContent  string
	SitemapContent string
}

// Page is one stored URL. Content is empty for BINARY, DUPLICATE and FRONTIER pages.
type Page struct {
	ID         int64
	SiteID     int64
	Type       PageType
	DataType   DataType
	URL        string
	Content    string
	StatusCode int
	FetchedAt  time.Time
	Signature  Signature
	BlobURI    string
}

// Image is a picture referenced by an HTML page.
type Image struct {
	PageURL     string
	Filename    string
	ContentType string
	Data        []byte
	FetchedAt   time.Time
}

// FetchResponse is what a fetcher returns for a single URL.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// ContentType returns the response Content-Type, defaulting to text/html when absent.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return "text/html"
	}
	ct := r.Headers.Get("Content-Type")
	if strings.TrimSpace(ct) == "" {
		return "text/html"
	}
	return ct
}

// IsHTML reports whether the response carries an HTML document.
func (r FetchResponse) IsHTML() bool {
	return strings.Contains(strings.ToLower(r.ContentType()), "text/html")
}

// Signature is a banded LSH signature.
type Signature []int64

// String renders the signature as comma-separated integers, the stored form.
func (s Signature) String() string {
	if len(s) == 0 {
		return ""
	}
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, ",")
}

// Equal reports whether two signatures carry the same bands.
func (s Signature) Equal(other Signature) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}
