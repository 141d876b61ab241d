package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/gov-crawler/internal/model"
)

// ErrRenderingDisabled is returned by Noop.
var ErrRenderingDisabled = errors.New("headless rendering not configured")

// Noop is the renderer used when render_mode is never. The pipeline falls back
// to the fetched HTML whenever a render fails.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() Noop {
	return Noop{}
}

// Render always fails with ErrRenderingDisabled.
func (Noop) Render(_ context.Context, _ string) (model.FetchResponse, error) {
	return model.FetchResponse{}, ErrRenderingDisabled
}
