// Package uuid generates crawl run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/gov-crawler/internal/crawler"
)

var _ crawler.IDGenerator = (*Generator)(nil)

// Generator implements crawler.IDGenerator with time-ordered UUIDv7 values,
// so run IDs sort by start time in logs and page events.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
