package kms

import "fmt"

// FourCC builds a DRM format code from its four characters.
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Pixel formats kmsgrab knows by name.
var (
	// FormatXRGB8888 is [31:0] x:R:G:B 8:8:8:8 little endian, so the bytes of
	// a pixel in memory are B, G, R, X.
	FormatXRGB8888 = FourCC('X', 'R', '2', '4')
	FormatARGB8888 = FourCC('A', 'R', '2', '4')
	FormatXBGR8888 = FourCC('X', 'B', '2', '4')
	FormatRGB565   = FourCC('R', 'G', '1', '6')
	FormatNV12     = FourCC('N', 'V', '1', '2')
)

// Format modifiers.
const (
	ModLinear  uint64 = 0
	ModInvalid uint64 = 0x00ffffffffffffff
)

// FormatName renders a fourcc code as its four characters, e.g. "XR24".
func FormatName(format uint32) string {
	b := []byte{byte(format), byte(format >> 8), byte(format >> 16), byte(format >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", format)
		}
	}
	return string(b)
}

// ModifierVendor returns the vendor byte of a modifier.
func ModifierVendor(mod uint64) uint8 {
	return uint8(mod >> 56)
}

var modifierVendors = map[uint8]string{
	0x00: "none",
	0x01: "intel",
	0x02: "amd",
	0x03: "nvidia",
	0x04: "samsung",
	0x05: "qcom",
	0x06: "vivante",
	0x07: "broadcom",
	0x08: "arm",
	0x09: "allwinner",
	0x0a: "amlogic",
}

// ModifierName describes a modifier for logs.
func ModifierName(mod uint64) string {
	switch mod {
	case ModLinear:
		return "linear"
	case ModInvalid:
		return "invalid"
	}
	vendor, ok := modifierVendors[ModifierVendor(mod)]
	if !ok {
		vendor = "unknown"
	}
	return fmt.Sprintf("%s:0x%014x", vendor, mod&0x00ffffffffffffff)
}
