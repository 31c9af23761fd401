// Package sink encodes packed captures into image files.
//
// BMP output goes through golang.org/x/image/bmp, which writes an opaque
// image as an uncompressed 24-bit bottom-up bitmap. PNG output uses the
// standard library encoder.
//
// [WriteFile] never leaves a partial image at the destination: the image is
// encoded into a temporary file next to it and renamed into place only after
// a successful encode and sync.
package sink

import (
	"bufio"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"

	"github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/pixel"
)

// Format constants for output formats.
const (
	FormatBMP = "bmp"
	FormatPNG = "png"
)

// DefaultFormat is the output format when none is given.
const DefaultFormat = FormatBMP

// ValidFormats is the set of supported output formats.
var ValidFormats = map[string]bool{
	FormatBMP: true,
	FormatPNG: true,
}

// ContentTypes maps formats to MIME types.
var ContentTypes = map[string]string{
	FormatBMP: "image/bmp",
	FormatPNG: "image/png",
}

// ValidateFormat checks that a format is valid.
func ValidateFormat(format string) error {
	if !ValidFormats[format] {
		return errors.New(errors.ErrCodeInvalidInput, "invalid format: %q (must be one of: bmp, png)", format)
	}
	return nil
}

// FormatFromPath infers the format from a file extension, falling back to
// DefaultFormat.
func FormatFromPath(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ValidFormats[ext] {
		return ext
	}
	return DefaultFormat
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img *pixel.Image, format string) error {
	if err := ValidateFormat(format); err != nil {
		return err
	}
	rgba := img.RGBA()

	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(w, rgba)
	default:
		err = bmp.Encode(w, rgba)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFailed, err, "encode %s", format)
	}
	return nil
}

// WriteFile atomically writes img to path.
func WriteFile(path string, img *pixel.Image, format string) (err error) {
	if err := ValidateFormat(format); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFailed, err, "create temp file in %s", dir)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = Encode(bw, img, format); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFailed, err, "write %s", tmp.Name())
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFailed, err, "sync %s", tmp.Name())
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFailed, err, "close %s", tmp.Name())
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFailed, err, "chmod %s", tmp.Name())
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(errors.ErrCodeEncodeFailed, err, "rename to %s", path)
	}
	return nil
}

// DefaultOutput returns the output path used when none is given.
func DefaultOutput(format string) string {
	return fmt.Sprintf("output.%s", format)
}
