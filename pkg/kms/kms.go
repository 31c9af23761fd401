// Package kms is a thin binding to the Linux DRM/KMS mode-setting ioctls that
// kmsgrab needs: enumerating connectors, following a connector to its encoder
// and CRTC, reading the framebuffer a CRTC scans out, and exporting the
// framebuffer's GEM handles as PRIME (dma-buf) file descriptors.
//
// The types here are plain value snapshots; nothing returned by [Card] holds a
// kernel reference except the GEM handles inside a [Framebuffer] (release them
// with [Card.CloseHandle]) and the descriptors returned by
// [Card.PrimeHandleToFD] (release them with [Card.CloseFD]).
package kms

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Connection states reported for a connector.
const (
	Connected         uint32 = 1
	Disconnected      uint32 = 2
	UnknownConnection uint32 = 3
)

// FBModifiers is set in [Framebuffer.Flags] when the framebuffer carries a
// format modifier.
const FBModifiers uint32 = 1 << 1

// MaxPlanes is the number of plane slots a framebuffer can declare.
const MaxPlanes = 4

// DefaultCardGlob matches the primary DRM nodes.
const DefaultCardGlob = "/dev/dri/card*"

// Connector is a snapshot of a display connector.
type Connector struct {
	ID         uint32
	EncoderID  uint32 // currently bound encoder, 0 if none
	Type       uint32
	TypeID     uint32
	Connection uint32
	ModeCount  int
	MMWidth    uint32
	MMHeight   uint32
}

// IsConnected reports whether a sink is attached to the connector.
func (c *Connector) IsConnected() bool {
	return c.Connection == Connected
}

// Name returns the conventional connector name, e.g. "HDMI-A-1".
func (c *Connector) Name() string {
	return fmt.Sprintf("%s-%d", ConnectorTypeName(c.Type), c.TypeID)
}

// Encoder is a snapshot of an encoder.
type Encoder struct {
	ID     uint32
	Type   uint32
	CrtcID uint32 // currently bound CRTC, 0 if none
}

// Crtc is a snapshot of a display controller.
type Crtc struct {
	ID            uint32
	BufferID      uint32 // framebuffer being scanned out, 0 if none
	X, Y          uint32
	Width, Height uint32 // active mode size
	ModeValid     bool
}

// Framebuffer is the metadata returned by the GETFB2 ioctl.
//
// Handles are GEM handles created for the caller by the query; a zero handle
// ends the plane list. Handles may repeat across planes when planes share an
// allocation.
type Framebuffer struct {
	ID          uint32
	Width       uint32
	Height      uint32
	PixelFormat uint32
	Flags       uint32
	Handles     [MaxPlanes]uint32
	Pitches     [MaxPlanes]uint32
	Offsets     [MaxPlanes]uint32
	Modifiers   [MaxPlanes]uint64
}

// HasModifier reports whether the framebuffer was created with a modifier.
func (fb *Framebuffer) HasModifier() bool {
	return fb.Flags&FBModifiers != 0
}

var connectorTypeNames = map[uint32]string{
	0:  "Unknown",
	1:  "VGA",
	2:  "DVI-I",
	3:  "DVI-D",
	4:  "DVI-A",
	5:  "Composite",
	6:  "SVIDEO",
	7:  "LVDS",
	8:  "Component",
	9:  "DIN",
	10: "DP",
	11: "HDMI-A",
	12: "HDMI-B",
	13: "TV",
	14: "eDP",
	15: "Virtual",
	16: "DSI",
	17: "DPI",
	18: "Writeback",
	19: "SPI",
	20: "USB",
}

// ConnectorTypeName returns the kernel's short name for a connector type.
func ConnectorTypeName(typ uint32) string {
	if name, ok := connectorTypeNames[typ]; ok {
		return name
	}
	return "Unknown"
}

// Cards lists DRM primary nodes matching pattern (DefaultCardGlob if empty),
// ordered by card number so card2 sorts before card10.
func Cards(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultCardGlob
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Slice(paths, func(i, j int) bool {
		ni, nj := cardNumber(paths[i]), cardNumber(paths[j])
		if ni != nj {
			return ni < nj
		}
		return paths[i] < paths[j]
	})
	return paths, nil
}

func cardNumber(path string) int {
	base := filepath.Base(path)
	n, err := strconv.Atoi(strings.TrimLeft(base, "abcdefghijklmnopqrstuvwxyz"))
	if err != nil {
		return -1
	}
	return n
}
