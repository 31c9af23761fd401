package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/kmsgrab/pkg/bufimport"
	"github.com/matzehuels/kmsgrab/pkg/observability"
	"github.com/matzehuels/kmsgrab/pkg/pixel"
	"github.com/matzehuels/kmsgrab/pkg/scanout"
	"github.com/matzehuels/kmsgrab/pkg/sink"
)

// Runner encapsulates capture execution against one device.
//
// The device context is owned by the caller and passed in explicitly, so
// several runners (or fakes in tests) can coexist. A Runner is not safe for
// concurrent captures; serialize calls to Capture.
type Runner struct {
	Device   Device
	Importer *bufimport.Importer
	Logger   *log.Logger
}

// NewRunner creates a runner for dev.
// If mapper is nil, the platform mapper is used.
// If objs is nil, only direct mapping is available.
func NewRunner(dev Device, mapper bufimport.Mapper, objs bufimport.BufferObjects, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Device:   dev,
		Importer: bufimport.NewImporter(mapper, objs, logger),
		Logger:   logger,
	}
}

// Describe resolves the scanout buffer without mapping it. The GEM handles
// created by the query are released before returning.
func (r *Runner) Describe(ctx context.Context) (*scanout.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	desc, err := scanout.Resolve(r.Device, scanout.WithLogger(r.Logger))
	if err != nil {
		return nil, err
	}
	r.releaseHandles(desc)
	return desc, nil
}

// Capture runs resolve → export → import → extract and returns the packed
// raster. All kernel resources are released before it returns, including
// between retried attempts.
func (r *Runner) Capture(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Retries <= 0 {
		return r.capture(ctx, opts)
	}

	delay := opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	var result *Result
	attempt := 0
	err := Retry(ctx, opts.Retries+1, delay, Transient, func() error {
		attempt++
		if attempt > 1 {
			r.logger(opts).Debug("retrying capture", "attempt", attempt)
		}
		res, err := r.capture(ctx, opts)
		result = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Runner) capture(ctx context.Context, opts Options) (result *Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := r.logger(opts)
	hooks := observability.Capture()
	result = &Result{ID: uuid.NewString()}
	logger = logger.With("capture", result.ID[:8])

	start := time.Now()
	defer func() {
		var w, h int
		if result != nil && result.Image != nil {
			w, h = result.Image.Width, result.Image.Height
		}
		strategy := ""
		if err == nil {
			strategy = result.Strategy.String()
		}
		hooks.OnCapture(ctx, strategy, w, h, time.Since(start), err)
	}()

	// Stage 1: Resolve
	stageStart := time.Now()
	hooks.OnStageStart(ctx, observability.StageResolve)
	desc, err := scanout.Resolve(r.Device, scanout.WithLogger(logger))
	hooks.OnStageComplete(ctx, observability.StageResolve, time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}
	defer r.releaseHandles(desc)
	result.Descriptor = desc
	result.Stats.ResolveTime = time.Since(stageStart)

	logger.Info("resolved scanout",
		"connector", desc.Connector.Name(),
		"fb", desc.FramebufferID,
		"size", sizeString(desc),
		"planes", len(desc.Planes),
		"modifier", desc.ModifierName())

	// Unsupported content is rejected before anything is exported or mapped.
	if err := pixel.CheckFormat(desc.Format); err != nil {
		return nil, err
	}

	// Stage 2: Export
	stageStart = time.Now()
	hooks.OnStageStart(ctx, observability.StageExport)
	exports, err := bufimport.ExportHandles(r.Device, desc.Handles())
	hooks.OnStageComplete(ctx, observability.StageExport, time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := exports.Close(); cerr != nil {
			logger.Warn("close exported descriptors", "err", cerr)
		}
	}()
	logger.Debug("exported handles", "planes", len(desc.Planes), "descriptors", exports.Len())

	// Stage 3: Import
	stageStart = time.Now()
	hooks.OnStageStart(ctx, observability.StageImport)
	src, region, err := r.Importer.Import(desc, exports, opts.Strategy)
	hooks.OnStageComplete(ctx, observability.StageImport, time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := src.Release(); rerr != nil {
			logger.Warn("release mapping", "strategy", src.Strategy(), "err", rerr)
		}
	}()
	result.Strategy = src.Strategy()
	result.Stats.ImportTime = time.Since(stageStart)

	// Stage 4: Extract
	stageStart = time.Now()
	hooks.OnStageStart(ctx, observability.StageExtract)
	img, err := pixel.Extract(region, int(desc.Width), int(desc.Height), desc.Format,
		pixel.WithDiagnostic(func(d pixel.Diagnostic) {
			result.Stats.Diagnostics = append(result.Stats.Diagnostics, d)
			logger.Warn(d.Message, "read", d.RowBytesRead, "stride", d.Stride)
		}))
	hooks.OnStageComplete(ctx, observability.StageExtract, time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}
	result.Image = img
	result.Stats.ExtractTime = time.Since(stageStart)

	logger.Info("captured frame",
		"strategy", result.Strategy,
		"stride", region.Stride,
		"duration", time.Since(start).Round(time.Millisecond))

	return result, nil
}

// CaptureToFile captures and writes the image to path. The file is replaced
// atomically; a failed capture or encode leaves no file behind.
func (r *Runner) CaptureToFile(ctx context.Context, opts Options, path string) (*Result, error) {
	opts.SetDefaults(path)
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	result, err := r.Capture(ctx, opts)
	if err != nil {
		return nil, err
	}

	hooks := observability.Capture()
	start := time.Now()
	hooks.OnStageStart(ctx, observability.StageEncode)
	err = sink.WriteFile(path, result.Image, opts.Format)
	hooks.OnStageComplete(ctx, observability.StageEncode, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	result.Path = path
	result.Stats.EncodeTime = time.Since(start)

	r.logger(opts).Debug("wrote image", "path", path, "format", opts.Format, "duration", result.Stats.EncodeTime)
	return result, nil
}

// releaseHandles drops the GEM handles created by the framebuffer query.
func (r *Runner) releaseHandles(desc *scanout.Descriptor) {
	if err := desc.ReleaseHandles(r.Device); err != nil {
		r.Logger.Warn("release framebuffer handles", "err", err)
	}
}

// logger returns the per-capture logger.
func (r *Runner) logger(opts Options) *log.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return r.Logger
}

func sizeString(d *scanout.Descriptor) string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}
