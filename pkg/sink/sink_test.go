package sink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	kerrors "github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/pixel"
)

// testImage is a 2x2 bottom-up raster (row 0 is the bottom row).
func testImage() *pixel.Image {
	return &pixel.Image{
		Width:  2,
		Height: 2,
		Pix: []byte{
			70, 80, 90, 100, 110, 120,
			10, 20, 30, 40, 50, 60,
		},
	}
}

func TestEncodeBMPMatchesPackedRows(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, testImage(), FormatBMP); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	data := buf.Bytes()

	if string(data[:2]) != "BM" {
		t.Fatalf("missing BM magic: %q", data[:2])
	}
	offset := binary.LittleEndian.Uint32(data[10:14])
	bpp := binary.LittleEndian.Uint16(data[28:30])
	if bpp != 24 {
		t.Errorf("bits per pixel = %d, want 24", bpp)
	}

	// 24-bit BMP rows are bottom-up BGR padded to 4 bytes: exactly the packed raster
	pixels := data[offset:]
	want := []byte{
		70, 80, 90, 100, 110, 120, 0, 0,
		10, 20, 30, 40, 50, 60, 0, 0,
	}
	if !bytes.Equal(pixels, want) {
		t.Errorf("pixel data = %v, want %v", pixels, want)
	}
}

func TestEncodePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, testImage(), FormatPNG); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode() error: %v", err)
	}
	r, g, b, _ := img.At(0, 0).RGBA()
	if r>>8 != 30 || g>>8 != 20 || b>>8 != 10 {
		t.Errorf("top-left = (%d,%d,%d), want (30,20,10)", r>>8, g>>8, b>>8)
	}
}

func TestEncodeInvalidFormat(t *testing.T) {
	err := Encode(&bytes.Buffer{}, testImage(), "gif")
	if !kerrors.Is(err, kerrors.ErrCodeInvalidInput) {
		t.Errorf("Encode() error = %v, want INVALID_INPUT", err)
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.bmp")

	if err := WriteFile(path, testImage(), FormatBMP); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data[:2]) != "BM" {
		t.Error("written file is not a bitmap")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the output", len(entries))
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestEncodeWriterFailure(t *testing.T) {
	err := Encode(failingWriter{}, testImage(), FormatBMP)
	if !kerrors.Is(err, kerrors.ErrCodeEncodeFailed) {
		t.Errorf("Encode() error = %v, want ENCODE_FAILED", err)
	}
}

func TestWriteFileLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory at the destination makes the final rename fail
	// after the image has been encoded into the temp file.
	path := filepath.Join(dir, "shot.bmp")
	if err := os.MkdirAll(filepath.Join(path, "keep"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := WriteFile(path, testImage(), FormatBMP); !kerrors.Is(err, kerrors.ErrCodeEncodeFailed) {
		t.Fatalf("WriteFile() error = %v, want ENCODE_FAILED", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "shot.bmp" {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestWriteFileMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "shot.bmp")
	if err := WriteFile(path, testImage(), FormatBMP); !kerrors.Is(err, kerrors.ErrCodeEncodeFailed) {
		t.Errorf("WriteFile() error = %v, want ENCODE_FAILED", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("no file should exist after a failed write")
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]string{
		"out.png":   FormatPNG,
		"OUT.BMP":   FormatBMP,
		"shot.jpeg": FormatBMP,
		"noext":     FormatBMP,
	}
	for path, want := range tests {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
