package bufimport

import (
	"errors"
	"os"

	kerrors "github.com/matzehuels/kmsgrab/pkg/errors"
)

// Mapper maps dma-buf descriptors into the process.
type Mapper interface {
	Mmap(fd int, offset int64, length int) ([]byte, error)
	Munmap(b []byte) error
}

// Syncer brackets CPU access to a dma-buf. Mappers may implement it.
type Syncer interface {
	BeginCPUAccess(fd int) error
	EndCPUAccess(fd int) error
}

// DirectRegion maps a single linear plane straight from its dma-buf.
type DirectRegion struct {
	mapper Mapper
	fd     int
	offset int64
	length int
	stride int

	mem    []byte
	synced bool

	// OnSyncError, if set, receives non-fatal dma-buf sync failures.
	OnSyncError func(error)
}

// NewDirectRegion prepares a read-only mapping of height×stride bytes of fd
// starting at offset.
func NewDirectRegion(m Mapper, fd int, offset, stride, height uint32) *DirectRegion {
	return &DirectRegion{
		mapper: m,
		fd:     fd,
		offset: int64(offset),
		length: int(stride) * int(height),
		stride: int(stride),
	}
}

// Strategy returns StrategyDirect.
func (d *DirectRegion) Strategy() Strategy { return StrategyDirect }

// Map maps the plane. mmap needs a page-aligned offset, so the mapping starts
// at the aligned-down offset and the region is sliced from there.
func (d *DirectRegion) Map() (*Region, error) {
	if d.mem != nil {
		return nil, kerrors.New(kerrors.ErrCodeInternal, "direct region already mapped")
	}
	if d.length <= 0 {
		return nil, kerrors.New(kerrors.ErrCodeMapFailed, "empty plane (stride %d)", d.stride)
	}

	page := int64(os.Getpagesize())
	skew := d.offset % page
	mem, err := d.mapper.Mmap(d.fd, d.offset-skew, d.length+int(skew))
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeMapFailed, err, "mmap %d bytes at offset %d", d.length, d.offset)
	}
	d.mem = mem

	if s, ok := d.mapper.(Syncer); ok {
		if err := s.BeginCPUAccess(d.fd); err != nil {
			d.syncError(err)
		} else {
			d.synced = true
		}
	}

	return &Region{
		Data:     mem[skew : skew+int64(d.length)],
		Stride:   d.stride,
		Strategy: StrategyDirect,
	}, nil
}

// Release ends CPU access and unmaps. It is a no-op when nothing is mapped.
func (d *DirectRegion) Release() error {
	if d.mem == nil {
		return nil
	}
	if d.synced {
		if err := d.mapper.(Syncer).EndCPUAccess(d.fd); err != nil {
			d.syncError(err)
		}
		d.synced = false
	}
	err := d.mapper.Munmap(d.mem)
	d.mem = nil
	if err != nil {
		return kerrors.Wrap(kerrors.ErrCodeMapFailed, err, "munmap")
	}
	return nil
}

func (d *DirectRegion) syncError(err error) {
	if d.OnSyncError != nil {
		d.OnSyncError(err)
	}
}

// ErrNoMapper is returned when no platform mapper is available.
var ErrNoMapper = errors.New("memory mapping is not supported on this platform")
