package kms

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFormatName(t *testing.T) {
	tests := []struct {
		format uint32
		want   string
	}{
		{FormatXRGB8888, "XR24"},
		{FormatARGB8888, "AR24"},
		{FormatNV12, "NV12"},
		{0, "0x00000000"},
	}
	for _, tt := range tests {
		if got := FormatName(tt.format); got != tt.want {
			t.Errorf("FormatName(%#x) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestFormatXRGB8888Value(t *testing.T) {
	// DRM_FORMAT_XRGB8888 from drm_fourcc.h
	if FormatXRGB8888 != 0x34325258 {
		t.Errorf("FormatXRGB8888 = %#x, want 0x34325258", FormatXRGB8888)
	}
}

func TestModifierName(t *testing.T) {
	tests := []struct {
		mod  uint64
		want string
	}{
		{ModLinear, "linear"},
		{ModInvalid, "invalid"},
		{0x0100000000000001, "intel:0x00000000000001"}, // I915_FORMAT_MOD_X_TILED
	}
	for _, tt := range tests {
		if got := ModifierName(tt.mod); got != tt.want {
			t.Errorf("ModifierName(%#x) = %q, want %q", tt.mod, got, tt.want)
		}
	}
}

func TestConnectorName(t *testing.T) {
	c := Connector{Type: 11, TypeID: 1}
	if got := c.Name(); got != "HDMI-A-1" {
		t.Errorf("Name() = %q, want HDMI-A-1", got)
	}
	c = Connector{Type: 99, TypeID: 2}
	if got := c.Name(); got != "Unknown-2" {
		t.Errorf("Name() = %q, want Unknown-2", got)
	}
}

func TestFramebufferHasModifier(t *testing.T) {
	fb := Framebuffer{}
	if fb.HasModifier() {
		t.Error("zero flags should not report a modifier")
	}
	fb.Flags = FBModifiers
	if !fb.HasModifier() {
		t.Error("FBModifiers flag should report a modifier")
	}
}

func TestCardsOrdering(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"card10", "card2", "card0", "renderD128"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := Cards(filepath.Join(dir, "card*"))
	if err != nil {
		t.Fatalf("Cards() error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "card0"),
		filepath.Join(dir, "card2"),
		filepath.Join(dir, "card10"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Cards() = %v, want %v", got, want)
	}
}
