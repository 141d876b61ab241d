package crawler

import "errors"

var (
	// ErrOutOfScope marks URLs the crawler will never fetch (bad scheme, no host, foreign domain).
	ErrOutOfScope = errors.New("url out of crawl scope")
	// ErrDisallowed marks URLs forbidden by the origin's robots rules.
	ErrDisallowed = errors.New("disallowed by robots rules")
	// ErrUnexpectedStatus marks responses outside the accepted status set.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrUnsupportedContent marks responses that are neither HTML nor a downloadable document.
	ErrUnsupportedContent = errors.New("unsupported content type")
)
