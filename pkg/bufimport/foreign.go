package bufimport

import (
	"errors"

	kerrors "github.com/matzehuels/kmsgrab/pkg/errors"
)

// BufferObjects is the device's buffer-object layer (libgbm on Linux).
type BufferObjects interface {
	Import(req ImportRequest) (BufferObject, error)
}

// BufferObject is an imported buffer.
type BufferObject interface {
	// Map returns a CPU mapping of the width×height surface, detiled by the
	// driver when the layout is not linear.
	Map(width, height uint32) (Mapping, error)
	Destroy() error
}

// Mapping is a CPU view handed out by a BufferObject.
type Mapping interface {
	Bytes() []byte
	// Stride is the row pitch of Bytes, authoritative for row addressing.
	Stride() int
	Unmap() error
}

// PlaneImport describes one plane handed to the buffer-object layer.
type PlaneImport struct {
	FD     int
	Stride uint32
	Offset uint32
}

// ImportRequest describes a buffer to import.
type ImportRequest struct {
	Width       uint32
	Height      uint32
	Format      uint32
	Modifier    uint64
	HasModifier bool
	Planes      []PlaneImport
}

// foreignBuffer holds the import→map lifecycle shared by the two
// buffer-object strategies.
type foreignBuffer struct {
	objects  BufferObjects
	req      ImportRequest
	strategy Strategy

	bo      BufferObject
	mapping Mapping
}

func (f *foreignBuffer) Strategy() Strategy { return f.strategy }

func (f *foreignBuffer) Map() (*Region, error) {
	if f.bo != nil {
		return nil, kerrors.New(kerrors.ErrCodeInternal, "%s buffer already imported", f.strategy)
	}

	bo, err := f.objects.Import(f.req)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeImportFailed, err, "%s import of %d plane(s)", f.strategy, len(f.req.Planes))
	}
	f.bo = bo

	m, err := bo.Map(f.req.Width, f.req.Height)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeMapFailed, err, "%s map %dx%d", f.strategy, f.req.Width, f.req.Height)
	}
	f.mapping = m

	return &Region{
		Data:     m.Bytes(),
		Stride:   m.Stride(),
		Strategy: f.strategy,
	}, nil
}

// Release unmaps, then destroys the buffer object.
func (f *foreignBuffer) Release() error {
	var errs []error
	if f.mapping != nil {
		if err := f.mapping.Unmap(); err != nil {
			errs = append(errs, kerrors.Wrap(kerrors.ErrCodeMapFailed, err, "unmap"))
		}
		f.mapping = nil
	}
	if f.bo != nil {
		if err := f.bo.Destroy(); err != nil {
			errs = append(errs, kerrors.Wrap(kerrors.ErrCodeImportFailed, err, "destroy buffer object"))
		}
		f.bo = nil
	}
	return errors.Join(errs...)
}

// SingleForeignBuffer imports one plane through the buffer-object layer.
type SingleForeignBuffer struct {
	foreignBuffer
}

// NewSingleForeignBuffer prepares a single-plane import. The modifier is not
// passed; the layer treats the buffer as linear.
func NewSingleForeignBuffer(objs BufferObjects, width, height, format uint32, plane PlaneImport) *SingleForeignBuffer {
	return &SingleForeignBuffer{foreignBuffer{
		objects:  objs,
		strategy: StrategySingle,
		req: ImportRequest{
			Width:  width,
			Height: height,
			Format: format,
			Planes: []PlaneImport{plane},
		},
	}}
}

// MultiPlaneForeignBuffer imports every plane plus the layout modifier in
// one call.
type MultiPlaneForeignBuffer struct {
	foreignBuffer
}

// NewMultiPlaneForeignBuffer prepares a modifier-aware multi-plane import.
func NewMultiPlaneForeignBuffer(objs BufferObjects, req ImportRequest) *MultiPlaneForeignBuffer {
	return &MultiPlaneForeignBuffer{foreignBuffer{
		objects:  objs,
		strategy: StrategyMulti,
		req:      req,
	}}
}

var (
	_ Source = (*DirectRegion)(nil)
	_ Source = (*SingleForeignBuffer)(nil)
	_ Source = (*MultiPlaneForeignBuffer)(nil)
)
