//go:build linux

package bufimport

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	dmaBufSyncRead  = 1 << 0
	dmaBufSyncStart = 0 << 2
	dmaBufSyncEnd   = 1 << 2

	// _IOW('b', 0, struct dma_buf_sync)
	ioctlDmaBufSync = 1<<30 | 8<<16 | 'b'<<8 | 0
)

type dmaBufSync struct {
	flags uint64
}

// unixMapper maps dma-bufs with mmap(2) and brackets access with
// DMA_BUF_IOCTL_SYNC.
type unixMapper struct{}

// DefaultMapper returns the platform mapper.
func DefaultMapper() Mapper { return unixMapper{} }

func (unixMapper) Mmap(fd int, offset int64, length int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, unix.PROT_READ, unix.MAP_SHARED)
}

func (unixMapper) Munmap(b []byte) error {
	return unix.Munmap(b)
}

func (unixMapper) BeginCPUAccess(fd int) error {
	return dmaBufIoctlSync(fd, dmaBufSyncStart|dmaBufSyncRead)
}

func (unixMapper) EndCPUAccess(fd int) error {
	return dmaBufIoctlSync(fd, dmaBufSyncEnd|dmaBufSyncRead)
}

func dmaBufIoctlSync(fd int, flags uint64) error {
	arg := &dmaBufSync{flags: flags}
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlDmaBufSync, uintptr(unsafe.Pointer(arg)))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}
