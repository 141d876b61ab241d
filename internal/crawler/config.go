package crawler

import (
	"fmt"
	"strings"
	"time"
)

// RenderMode selects when HTML pages are re-loaded in a browser.
type RenderMode string

// Render modes.
const (
	RenderNever  RenderMode = "never"
	RenderAuto   RenderMode = "auto"
	RenderAlways RenderMode = "always"
)

// ParseRenderMode accepts never, auto or always (case-insensitive); empty means never.
func ParseRenderMode(raw string) (RenderMode, error) {
	switch mode := RenderMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return RenderNever, nil
	case RenderNever, RenderAuto, RenderAlways:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown render mode %q", raw)
	}
}

// SchedulerConfig controls BFS level processing.
// This struct is decoupled from Viper so the scheduler can be tested independently.
type SchedulerConfig struct {
	RunID    string
	Workers  int
	Delay    time.Duration
	MaxPages int
}

// PipelineConfig controls what the per-page pipeline records.
type PipelineConfig struct {
	RunID          string
	AllowedDomains []string
	DownloadFiles  bool
	RenderMode     RenderMode
	Topic          string
	MaxPathDepth   int
}
