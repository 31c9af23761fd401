package bufimport

import (
	"errors"
	"fmt"

	kerrors "github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/kms"
)

// Exporter turns GEM handles into transfer descriptors. *kms.Card
// implements it.
type Exporter interface {
	PrimeHandleToFD(handle uint32) (int, error)
	CloseFD(fd int) error
}

// PlaneTable maps framebuffer plane slots onto the distinct handles they
// reference. Several slots may share one entry when planes alias one
// allocation.
type PlaneTable struct {
	// Handles holds each distinct non-zero handle in first-seen order.
	Handles []uint32
	// First holds, for each entry of Handles, the first slot referencing it.
	First []int
	// Slots maps a plane slot to its index in Handles, -1 for empty slots.
	Slots [kms.MaxPlanes]int
}

// Dedupe builds the plane table for a framebuffer's handle slots. Zero
// handles mark absent planes.
func Dedupe(handles [kms.MaxPlanes]uint32) PlaneTable {
	var t PlaneTable
	index := make(map[uint32]int, kms.MaxPlanes)
	for slot, h := range handles {
		t.Slots[slot] = -1
		if h == 0 {
			continue
		}
		i, ok := index[h]
		if !ok {
			i = len(t.Handles)
			index[h] = i
			t.Handles = append(t.Handles, h)
			t.First = append(t.First, slot)
		}
		t.Slots[slot] = i
	}
	return t
}

// ExportSet owns one transfer descriptor per distinct handle.
type ExportSet struct {
	Table PlaneTable
	// FDs is parallel to Table.Handles.
	FDs []int

	exp    Exporter
	closed bool
}

// ExportHandles exports every distinct handle exactly once. If any export
// fails, descriptors already exported are closed before returning.
func ExportHandles(exp Exporter, handles [kms.MaxPlanes]uint32) (*ExportSet, error) {
	set := &ExportSet{Table: Dedupe(handles), exp: exp}
	if len(set.Table.Handles) == 0 {
		return nil, kerrors.New(kerrors.ErrCodeHandleExportFailed, "framebuffer has no handles to export")
	}

	set.FDs = make([]int, 0, len(set.Table.Handles))
	for _, h := range set.Table.Handles {
		fd, err := exp.PrimeHandleToFD(h)
		if err != nil {
			cerr := set.Close()
			return nil, kerrors.Wrap(kerrors.ErrCodeHandleExportFailed, errors.Join(err, cerr), "export handle %d", h)
		}
		set.FDs = append(set.FDs, fd)
	}
	return set, nil
}

// FD returns the descriptor backing plane slot, or -1 for an empty slot.
func (s *ExportSet) FD(slot int) int {
	if slot < 0 || slot >= kms.MaxPlanes {
		return -1
	}
	i := s.Table.Slots[slot]
	if i < 0 || i >= len(s.FDs) {
		return -1
	}
	return s.FDs[i]
}

// Len returns the number of exported descriptors.
func (s *ExportSet) Len() int { return len(s.FDs) }

// Close closes every exported descriptor once. It is safe to call twice.
func (s *ExportSet) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for i, fd := range s.FDs {
		if err := s.exp.CloseFD(fd); err != nil {
			errs = append(errs, fmt.Errorf("close fd for handle %d: %w", s.Table.Handles[i], err))
		}
	}
	return errors.Join(errs...)
}
