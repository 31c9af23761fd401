//go:build !linux

package bufimport

type noMapper struct{}

// DefaultMapper returns the platform mapper.
func DefaultMapper() Mapper { return noMapper{} }

func (noMapper) Mmap(int, int64, int) ([]byte, error) { return nil, ErrNoMapper }
func (noMapper) Munmap([]byte) error                  { return nil }
