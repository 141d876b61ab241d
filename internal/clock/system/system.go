// Package system is the wall clock that stamps fetched pages and images.
package system

import (
	"time"

	"github.com/JakeFAU/gov-crawler/internal/crawler"
)

var _ crawler.Clock = (*Clock)(nil)

// Clock implements crawler.Clock in UTC.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
