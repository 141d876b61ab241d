package crawler

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/gov-crawler/internal/model"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// blobKey places a binary document under files/<format>/<host>/<name>_<digest>.
func blobKey(dt model.DataType, rawURL, digest string) string {
	host := "unknown"
	name := "document"
	if u, err := url.Parse(rawURL); err == nil {
		if h := invalidFilenameChars.ReplaceAllString(u.Hostname(), "_"); h != "" {
			host = h
		}
		if base := invalidFilenameChars.ReplaceAllString(path.Base(u.Path), "_"); base != "" && base != "." && base != "_" {
			name = base
		}
	}
	if len(digest) > 16 {
		digest = digest[:16]
	}
	return path.Join("files", strings.ToLower(string(dt)), host, fmt.Sprintf("%s_%s", name, digest))
}

// imageFilename is the last path element of an image URL.
func imageFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL[strings.LastIndexByte(rawURL, '/')+1:]
	}
	return path.Base(u.Path)
}

// imageContentType derives a MIME type from the image extension.
func imageContentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
