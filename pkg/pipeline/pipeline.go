// Package pipeline provides the capture pipeline for kmsgrab.
//
// This package wires the stages together so the CLI and the HTTP server share
// one code path and one resource discipline:
//
//  1. Resolve: find the active output and its scanout framebuffer
//  2. Export: turn each distinct GEM handle into a dma-buf descriptor once
//  3. Import: map the buffer with the cheapest applicable strategy
//  4. Extract: pack the pixels into a bottom-up 24-bit raster
//  5. Encode: write the raster through a sink (CaptureToFile only)
//
// Every kernel resource acquired by a stage is released before Capture
// returns, on success and on every failure path, in reverse order of
// acquisition: unmap, destroy the buffer object, close descriptors, drop GEM
// handles.
//
// # Usage
//
//	card, err := kms.Open("/dev/dri/card0")
//	if err != nil {
//	    return err
//	}
//	defer card.Close()
//
//	runner := pipeline.NewRunner(card, nil, nil, logger)
//	result, err := runner.CaptureToFile(ctx, pipeline.Options{}, "output.bmp")
package pipeline

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmsgrab/pkg/bufimport"
	"github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/pixel"
	"github.com/matzehuels/kmsgrab/pkg/scanout"
	"github.com/matzehuels/kmsgrab/pkg/sink"
)

// Device is the display device context the pipeline runs against.
// *kms.Card implements it.
type Device interface {
	scanout.Device
	scanout.HandleCloser
	bufimport.Exporter
}

// Options contains the configuration of one capture.
type Options struct {
	// Strategy forces an import strategy; StrategyAuto picks one.
	Strategy bufimport.Strategy `json:"strategy,omitempty"`

	// Format is the sink format used by CaptureToFile; empty infers it from
	// the output path.
	Format string `json:"format,omitempty"`

	// Retries is the number of extra attempts after a transient failure,
	// such as a page flip racing the framebuffer query.
	Retries int `json:"retries,omitempty"`

	// RetryDelay is the initial backoff; DefaultRetryDelay when zero.
	RetryDelay time.Duration `json:"-"`

	// Logger overrides the runner's logger for this capture.
	Logger *log.Logger `json:"-"`
}

// SetDefaults fills unset fields. path is the output path, if any.
func (o *Options) SetDefaults(path string) {
	if o.Format == "" {
		o.Format = sink.FormatFromPath(path)
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	if o.Retries < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "retries must be >= 0, got %d", o.Retries)
	}
	if o.Format != "" {
		return sink.ValidateFormat(o.Format)
	}
	return nil
}

// Result contains the outputs of one capture.
type Result struct {
	// ID identifies the capture in logs and HTTP responses.
	ID string

	// Descriptor is the resolved scanout buffer. Its handles have been
	// released by the time the result is returned.
	Descriptor *scanout.Descriptor

	// Image is the packed raster.
	Image *pixel.Image

	// Strategy is the import strategy that mapped the buffer.
	Strategy bufimport.Strategy

	// Path is the written file for CaptureToFile.
	Path string

	Stats Stats
}

// Stats contains capture timing and diagnostics.
type Stats struct {
	ResolveTime time.Duration
	ImportTime  time.Duration
	ExtractTime time.Duration
	EncodeTime  time.Duration

	// Diagnostics holds non-fatal extractor findings.
	Diagnostics []pixel.Diagnostic
}

// Total returns the summed stage durations.
func (s Stats) Total() time.Duration {
	return s.ResolveTime + s.ImportTime + s.ExtractTime + s.EncodeTime
}
