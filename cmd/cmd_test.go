package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gov-crawler/internal/config"
	"github.com/JakeFAU/gov-crawler/internal/server"
)

type fakeApp struct {
	runOpts  server.RunOptions
	runErr   error
	runs     int
	resets   int
	closed   int
	seenSeed []string
}

func (f *fakeApp) Run(_ context.Context, opts server.RunOptions) error {
	f.runs++
	f.runOpts = opts
	return f.runErr
}

func (f *fakeApp) Reset(context.Context) error {
	f.resets++
	return nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed++
	return nil
}

func withFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	original := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		app.seenSeed = cfg.Crawler.Seeds
		return app, nil
	}
	t.Cleanup(func() { newApp = original })
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crawler.yaml")
	body := "crawler:\n  seeds: [\"https://www.gov.si\"]\nlogging:\n  development: false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandPassesFlags(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute(t, "crawl", "--config", writeConfig(t), "--max-level", "3", "--reset")
	require.NoError(t, err)
	require.Equal(t, 1, app.runs)
	require.Equal(t, server.RunOptions{MaxLevel: 3, Reset: true}, app.runOpts)
	require.Equal(t, []string{"https://www.gov.si"}, app.seenSeed)
	require.Equal(t, 1, app.closed)
}

func TestCrawlCommandTreatsCancellationAsGraceful(t *testing.T) {
	app := &fakeApp{runErr: context.Canceled}
	withFakeApp(t, app)

	_, err := execute(t, "crawl", "--config", writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, 1, app.closed)
}

func TestCrawlCommandReportsFailures(t *testing.T) {
	app := &fakeApp{runErr: errors.New("store unavailable")}
	withFakeApp(t, app)

	_, err := execute(t, "crawl", "--config", writeConfig(t))
	require.ErrorContains(t, err, "store unavailable")
}

func TestCrawlCommandRequiresValidConfig(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := execute(t, "crawl", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestResetCommand(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute(t, "reset", "--config", writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, 1, app.resets)
	require.Zero(t, app.runs)
	require.Equal(t, 1, app.closed)
}

func TestVersionCommandSkipsConfig(t *testing.T) {
	out, err := execute(t, "version", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Contains(t, out, "gov-crawler ")
}
