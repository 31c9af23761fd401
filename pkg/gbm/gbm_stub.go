//go:build !(linux && cgo && gbm)

package gbm

import "github.com/matzehuels/kmsgrab/pkg/bufimport"

// Device is unavailable in this build.
type Device struct{}

// Open always fails with ErrUnavailable.
func Open(fd int) (*Device, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (d *Device) Close() error { return nil }

// Import always fails with ErrUnavailable.
func (d *Device) Import(bufimport.ImportRequest) (bufimport.BufferObject, error) {
	return nil, ErrUnavailable
}

var _ bufimport.BufferObjects = (*Device)(nil)
