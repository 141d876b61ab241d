package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	r, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	require.Equal(t, 2, cap(r.limiter))
	require.Equal(t, defaultNavigationTimeout, r.cfg.NavigationTimeout)
	require.Equal(t, defaultSettle, r.cfg.Settle)

	r2, err := NewChromedp(Config{Settle: -time.Second, NavigationTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(r2.Close)
	require.Zero(t, r2.cfg.Settle)
	require.Nil(t, r2.limiter)
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	r := &Renderer{limiter: make(chan struct{}, 1)}
	require.NoError(t, r.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, r.acquire(ctx), context.Canceled)

	r.release()
	require.NoError(t, r.acquire(context.Background()))
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	headers := toNetworkHeaders(http.Header{"X-Multi": {"a", "b"}, "X-One": {"c"}, "X-None": {}})
	require.Equal(t, []string{"a", "b"}, headers["X-Multi"])
	require.Equal(t, "c", headers["X-One"])
	require.NotContains(t, headers, "X-None")
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500, URL: "https://evem.gov.si/logo.png"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://evem.gov.si/rendered",
			Headers: network.Headers{"Content-Type": "text/html"},
		},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 203, status)
	require.Equal(t, "text/html", headers.Get("Content-Type"))
	require.Equal(t, "https://evem.gov.si/rendered", url)

	status, headers, url = newResponseMeta().snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://final", url)

	_, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	require.Equal(t, "https://req", url)
}

func TestNoopRendererFails(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Render(context.Background(), "https://evem.gov.si")
	require.ErrorIs(t, err, ErrRenderingDisabled)
}
