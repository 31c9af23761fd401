// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard
// dependencies on specific observability backends. Consumers register hooks at
// startup to receive events about capture stages and served requests.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetCaptureHooks(&myCaptureHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Capture().OnStageStart(ctx, observability.StageResolve)
//	// ... resolve ...
//	observability.Capture().OnStageComplete(ctx, observability.StageResolve, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// Stage names a capture pipeline stage.
type Stage string

// Capture pipeline stages.
const (
	StageResolve Stage = "resolve"
	StageExport  Stage = "export"
	StageImport  Stage = "import"
	StageExtract Stage = "extract"
	StageEncode  Stage = "encode"
)

// =============================================================================
// Capture Hooks
// =============================================================================

// CaptureHooks receives events from the capture pipeline.
type CaptureHooks interface {
	OnStageStart(ctx context.Context, stage Stage)
	OnStageComplete(ctx context.Context, stage Stage, duration time.Duration, err error)

	// OnCapture is called once per capture with the strategy that mapped the
	// buffer (empty on failure before mapping).
	OnCapture(ctx context.Context, strategy string, width, height int, duration time.Duration, err error)
}

// =============================================================================
// HTTP Hooks
// =============================================================================

// HTTPHooks receives events from the capture server.
type HTTPHooks interface {
	OnResponse(ctx context.Context, method, path string, statusCode int, duration time.Duration)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopCaptureHooks is a no-op implementation of CaptureHooks.
type NoopCaptureHooks struct{}

func (NoopCaptureHooks) OnStageStart(context.Context, Stage)                               {}
func (NoopCaptureHooks) OnStageComplete(context.Context, Stage, time.Duration, error)      {}
func (NoopCaptureHooks) OnCapture(context.Context, string, int, int, time.Duration, error) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnResponse(context.Context, string, string, int, time.Duration) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	captureHooks CaptureHooks = NoopCaptureHooks{}
	httpHooks    HTTPHooks    = NoopHTTPHooks{}
	hooksMu      sync.RWMutex
)

// SetCaptureHooks registers custom capture hooks.
// This should be called once at application startup before any capture.
func SetCaptureHooks(h CaptureHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		captureHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Capture returns the registered capture hooks.
func Capture() CaptureHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return captureHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	captureHooks = NoopCaptureHooks{}
	httpHooks = NoopHTTPHooks{}
}
