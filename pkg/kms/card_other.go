//go:build !linux

package kms

import (
	"runtime"

	kerrors "github.com/matzehuels/kmsgrab/pkg/errors"
)

// Card is an open DRM primary node. DRM is only available on Linux.
type Card struct{}

// Open always fails on platforms without DRM.
func Open(path string) (*Card, error) {
	return nil, kerrors.New(kerrors.ErrCodeDeviceOpenFailed, "open %s: DRM is not supported on %s", path, runtime.GOOS)
}

func (c *Card) Path() string                             { return "" }
func (c *Card) Fd() int                                  { return -1 }
func (c *Card) Close() error                             { return nil }
func (c *Card) ConnectorIDs() ([]uint32, error)          { return nil, errUnsupported }
func (c *Card) Connector(uint32) (*Connector, error)     { return nil, errUnsupported }
func (c *Card) Encoder(uint32) (*Encoder, error)         { return nil, errUnsupported }
func (c *Card) Crtc(uint32) (*Crtc, error)               { return nil, errUnsupported }
func (c *Card) Framebuffer(uint32) (*Framebuffer, error) { return nil, errUnsupported }
func (c *Card) PrimeHandleToFD(uint32) (int, error)      { return -1, errUnsupported }
func (c *Card) CloseFD(int) error                        { return errUnsupported }
func (c *Card) CloseHandle(uint32) error                 { return errUnsupported }

var errUnsupported = kerrors.New(kerrors.ErrCodeDeviceOpenFailed, "DRM is not supported on %s", runtime.GOOS)
