package bufimport

import (
	"io"

	"github.com/charmbracelet/log"

	kerrors "github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/scanout"
)

// Importer maps a resolved framebuffer using the cheapest strategy that
// applies.
type Importer struct {
	// Mapper performs direct dma-buf mappings.
	Mapper Mapper
	// Objects is the buffer-object layer; nil disables the single and
	// multi-plane strategies.
	Objects BufferObjects
	Logger  *log.Logger
}

// NewImporter creates an importer. A nil mapper selects DefaultMapper.
func NewImporter(m Mapper, objs BufferObjects, logger *log.Logger) *Importer {
	if m == nil {
		m = DefaultMapper()
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Importer{Mapper: m, Objects: objs, Logger: logger}
}

// needsMulti reports whether only the modifier-aware import can describe
// the buffer.
func needsMulti(desc *scanout.Descriptor, unique int) bool {
	return !desc.Linear() || unique > 1 || len(desc.Planes) > 1
}

// Plan returns the strategies to attempt, in order.
//
// Direct mapping is preferred for a single linear plane, with the
// single-plane import as fallback. A non-linear modifier, several planes, or
// several distinct handles require the multi-plane import.
func Plan(desc *scanout.Descriptor, unique int, haveObjects bool, forced Strategy) ([]Strategy, error) {
	multi := needsMulti(desc, unique)

	switch forced {
	case StrategyDirect, StrategySingle:
		if multi {
			return nil, kerrors.New(kerrors.ErrCodeInvalidInput,
				"%s strategy needs a single linear plane (planes=%d handles=%d modifier=%s)",
				forced, len(desc.Planes), unique, desc.ModifierName())
		}
		if forced == StrategySingle && !haveObjects {
			return nil, errNoObjects(forced)
		}
		return []Strategy{forced}, nil
	case StrategyMulti:
		if !haveObjects {
			return nil, errNoObjects(forced)
		}
		return []Strategy{StrategyMulti}, nil
	case StrategyAuto:
	default:
		return nil, kerrors.New(kerrors.ErrCodeInvalidInput, "unknown strategy %s", forced)
	}

	if multi {
		if !haveObjects {
			return nil, kerrors.New(kerrors.ErrCodeImportFailed,
				"framebuffer layout (planes=%d handles=%d modifier=%s) needs a buffer-object backend; build with -tags gbm",
				len(desc.Planes), unique, desc.ModifierName())
		}
		return []Strategy{StrategyMulti}, nil
	}
	if haveObjects {
		return []Strategy{StrategyDirect, StrategySingle}, nil
	}
	return []Strategy{StrategyDirect}, nil
}

func errNoObjects(s Strategy) error {
	return kerrors.New(kerrors.ErrCodeImportFailed, "%s strategy needs a buffer-object backend; build with -tags gbm", s)
}

// Import maps the framebuffer. On success the returned Source owns the
// mapping and must be released by the caller after the Region is no longer
// used; the ExportSet must outlive it. On failure nothing stays mapped.
//
// A failed direct or single-plane attempt falls through to the next planned
// strategy. A failed multi-plane attempt aborts, since composed planes are
// not recoverable one by one.
func (im *Importer) Import(desc *scanout.Descriptor, exports *ExportSet, forced Strategy) (Source, *Region, error) {
	plan, err := Plan(desc, exports.Len(), im.Objects != nil, forced)
	if err != nil {
		return nil, nil, err
	}

	var lastErr error
	for _, s := range plan {
		src := im.source(s, desc, exports)
		region, err := src.Map()
		if err == nil {
			im.Logger.Debug("mapped framebuffer", "strategy", s, "stride", region.Stride, "bytes", len(region.Data))
			return src, region, nil
		}
		if rerr := src.Release(); rerr != nil {
			im.Logger.Warn("release after failed map", "strategy", s, "err", rerr)
		}
		if s == StrategyMulti {
			return nil, nil, err
		}
		im.Logger.Debug("strategy failed", "strategy", s, "err", err)
		lastErr = err
	}
	return nil, nil, lastErr
}

func (im *Importer) source(s Strategy, desc *scanout.Descriptor, exports *ExportSet) Source {
	switch s {
	case StrategyDirect:
		p := desc.Planes[0]
		d := NewDirectRegion(im.Mapper, exports.FD(0), p.Offset, p.Stride, desc.Height)
		d.OnSyncError = func(err error) {
			im.Logger.Debug("dma-buf sync unavailable", "err", err)
		}
		return d
	case StrategySingle:
		p := desc.Planes[0]
		return NewSingleForeignBuffer(im.Objects, desc.Width, desc.Height, desc.Format,
			PlaneImport{FD: exports.FD(0), Stride: p.Stride, Offset: p.Offset})
	default:
		req := ImportRequest{
			Width:       desc.Width,
			Height:      desc.Height,
			Format:      desc.Format,
			Modifier:    desc.Modifier,
			HasModifier: desc.HasModifier,
			Planes:      make([]PlaneImport, len(desc.Planes)),
		}
		for i, p := range desc.Planes {
			req.Planes[i] = PlaneImport{FD: exports.FD(i), Stride: p.Stride, Offset: p.Offset}
		}
		return NewMultiPlaneForeignBuffer(im.Objects, req)
	}
}
