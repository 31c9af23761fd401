// Package pixel converts a mapped XRGB8888 framebuffer into a packed 24-bit
// raster.
//
// The output keeps the first three bytes of every 4-byte source pixel in
// source order (B, G, R for XRGB8888 in memory) and stores rows bottom-up:
// output row 0 is the last source row. That is the row order and channel
// order of an uncompressed 24-bit BMP.
package pixel

import (
	"image"

	"github.com/matzehuels/kmsgrab/pkg/bufimport"
	"github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/kms"
)

const (
	// SourceBytesPerPixel is the size of an XRGB8888 pixel.
	SourceBytesPerPixel = 4
	// BytesPerPixel is the size of a packed output pixel.
	BytesPerPixel = 3
)

// Image is a packed bottom-up raster, Width×Height×3 bytes.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// Row returns output row i.
func (m *Image) Row(i int) []byte {
	w := m.Width * BytesPerPixel
	return m.Pix[i*w : (i+1)*w]
}

// Flip returns a copy with rows reversed. Flipping an extracted image yields
// the source's top-to-bottom order.
func (m *Image) Flip() *Image {
	out := &Image{Width: m.Width, Height: m.Height, Pix: make([]byte, len(m.Pix))}
	for i := 0; i < m.Height; i++ {
		copy(out.Row(m.Height-1-i), m.Row(i))
	}
	return out
}

// RGBA converts to a top-down, opaque *image.RGBA.
func (m *Image) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		src := m.Row(m.Height - 1 - y)
		dst := img.Pix[y*img.Stride : y*img.Stride+m.Width*4]
		for x := 0; x < m.Width; x++ {
			s := src[x*BytesPerPixel : x*BytesPerPixel+BytesPerPixel]
			d := dst[x*4 : x*4+4]
			d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xff
		}
	}
	return img
}

// Diagnostic describes a non-fatal inconsistency found during extraction.
type Diagnostic struct {
	Message      string
	RowBytesRead int // bytes consumed per source row
	Stride       int // effective stride of the region
}

// Option configures Extract.
type Option func(*extractor)

type extractor struct {
	diag func(Diagnostic)
}

// WithDiagnostic registers a callback for non-fatal diagnostics.
func WithDiagnostic(fn func(Diagnostic)) Option {
	return func(e *extractor) { e.diag = fn }
}

// CheckFormat fails with ErrCodeUnsupportedFormat unless format is XRGB8888.
func CheckFormat(format uint32) error {
	if format != kms.FormatXRGB8888 {
		return errors.New(errors.ErrCodeUnsupportedFormat,
			"unsupported pixel format %s (only %s is supported)", kms.FormatName(format), kms.FormatName(kms.FormatXRGB8888))
	}
	return nil
}

// Extract packs the region into a bottom-up 24-bit raster. Rows are addressed
// with region.Stride, never the stride declared by the framebuffer.
func Extract(region *bufimport.Region, width, height int, format uint32, opts ...Option) (*Image, error) {
	if err := CheckFormat(format); err != nil {
		return nil, err
	}
	var e extractor
	for _, opt := range opts {
		opt(&e)
	}

	if width <= 0 || height <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "invalid dimensions %dx%d", width, height)
	}
	rowBytes := width * SourceBytesPerPixel
	stride := region.Stride
	if stride < rowBytes {
		return nil, errors.New(errors.ErrCodeMapFailed, "stride %d is shorter than a %d pixel row", stride, width)
	}
	if need := (height-1)*stride + rowBytes; len(region.Data) < need {
		return nil, errors.New(errors.ErrCodeMapFailed, "mapping holds %d bytes, need %d for %dx%d at stride %d",
			len(region.Data), need, width, height, stride)
	}

	if stride != rowBytes && e.diag != nil {
		e.diag(Diagnostic{
			Message:      "row pitch differs from bytes read per row",
			RowBytesRead: rowBytes,
			Stride:       stride,
		})
	}

	out := &Image{Width: width, Height: height, Pix: make([]byte, width*height*BytesPerPixel)}
	for y := 0; y < height; y++ {
		src := region.Data[y*stride : y*stride+rowBytes]
		dst := out.Row(height - 1 - y)
		for x := 0; x < width; x++ {
			copy(dst[x*BytesPerPixel:x*BytesPerPixel+BytesPerPixel], src[x*SourceBytesPerPixel:])
		}
	}
	return out, nil
}
