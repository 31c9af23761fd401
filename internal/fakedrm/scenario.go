package fakedrm

import (
	"github.com/matzehuels/kmsgrab/pkg/kms"
)

// IDs used by the scenarios.
const (
	ConnectorID   uint32 = 40
	EncoderID     uint32 = 41
	CrtcID        uint32 = 42
	FramebufferID uint32 = 90
	Handle        uint32 = 7
)

// Pixel returns the XRGB8888 memory bytes (B, G, R, X) of the test pattern
// at x, y.
func Pixel(x, y int) [4]byte {
	return [4]byte{byte(x), byte(y), byte(x + y), 0xff}
}

// Pattern fills a width×height XRGB8888 plane with the test pattern, rows
// stride bytes apart starting at offset. Padding bytes are 0xee.
func Pattern(width, height, stride, offset int) []byte {
	mem := make([]byte, offset+stride*height)
	for i := range mem {
		mem[i] = 0xee
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := Pixel(x, y)
			copy(mem[offset+y*stride+x*4:], px[:])
		}
	}
	return mem
}

// NewXRGB returns a card with one connected HDMI output scanning out a
// single linear XRGB8888 plane filled with the test pattern.
func NewXRGB(width, height, stride int) *Card {
	return &Card{
		Connectors: []kms.Connector{
			{ID: 30, Type: 10, TypeID: 1, Connection: kms.Disconnected},
			{ID: ConnectorID, EncoderID: EncoderID, Type: 11, TypeID: 1, Connection: kms.Connected, ModeCount: 3},
		},
		Encoders: map[uint32]kms.Encoder{
			EncoderID: {ID: EncoderID, Type: 2, CrtcID: CrtcID},
		},
		Crtcs: map[uint32]kms.Crtc{
			CrtcID: {ID: CrtcID, BufferID: FramebufferID, Width: uint32(width), Height: uint32(height), ModeValid: true},
		},
		Buffers: map[uint32]kms.Framebuffer{
			FramebufferID: {
				ID:          FramebufferID,
				Width:       uint32(width),
				Height:      uint32(height),
				PixelFormat: kms.FormatXRGB8888,
				Handles:     [kms.MaxPlanes]uint32{Handle},
				Pitches:     [kms.MaxPlanes]uint32{uint32(stride)},
			},
		},
		Memory: map[uint32][]byte{
			Handle: Pattern(width, height, stride, 0),
		},
	}
}

// SetFramebuffer replaces the scanned-out framebuffer's metadata.
func (c *Card) SetFramebuffer(fn func(fb *kms.Framebuffer)) {
	fb := c.Buffers[FramebufferID]
	fn(&fb)
	c.Buffers[FramebufferID] = fb
}
