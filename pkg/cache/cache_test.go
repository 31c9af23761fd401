package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNullCache(t *testing.T) {
	ctx := context.Background()
	c := NewNullCache()
	defer c.Close()

	if err := c.Set(ctx, "key", []byte("value"), time.Hour); err != nil {
		t.Errorf("Set error: %v", err)
	}

	// Still a miss after Set
	data, hit, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if hit || data != nil {
		t.Error("NullCache should not store data")
	}

	if err := c.Delete(ctx, "key"); err != nil {
		t.Errorf("Delete error: %v", err)
	}
}

func TestFileCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(filepath.Join(t.TempDir(), "captures"))
	if err != nil {
		t.Fatalf("NewFileCache error: %v", err)
	}
	defer c.Close()

	key := CaptureKey("abc", "png")
	if _, hit, _ := c.Get(ctx, key); hit {
		t.Fatal("empty cache should miss")
	}

	want := []byte("\x89PNG data")
	if err := c.Set(ctx, key, want, time.Hour); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, hit, err := c.Get(ctx, key)
	if err != nil || !hit {
		t.Fatalf("Get = hit %v, err %v", hit, err)
	}
	if string(got) != string(want) {
		t.Errorf("Get = %q, want %q", got, want)
	}

	// Other formats of the same capture are separate entries
	if _, hit, _ := c.Get(ctx, CaptureKey("abc", "bmp")); hit {
		t.Error("bmp entry should miss")
	}

	if err := c.Set(ctx, key, []byte("second"), 0); err != nil {
		t.Fatalf("overwrite error: %v", err)
	}
	if got, _, _ := c.Get(ctx, key); string(got) != "second" {
		t.Errorf("after overwrite Get = %q", got)
	}

	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, hit, _ := c.Get(ctx, key); hit {
		t.Error("deleted entry should miss")
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Errorf("Delete of missing key error: %v", err)
	}
}

func TestFileCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "short", []byte("x"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "forever", []byte("y"), 0); err != nil {
		t.Fatal(err)
	}

	now = now.Add(30 * time.Second)
	if _, hit, _ := c.Get(ctx, "short"); !hit {
		t.Error("entry should live until its ttl")
	}

	now = now.Add(time.Hour)
	if _, hit, _ := c.Get(ctx, "short"); hit {
		t.Error("expired entry should miss")
	}
	if _, err := os.Stat(c.path("short")); !os.IsNotExist(err) {
		t.Error("expired entry should be removed")
	}
	if _, hit, _ := c.Get(ctx, "forever"); !hit {
		t.Error("entry without ttl should not expire")
	}
}

func TestFileCacheTruncatedEntry(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	path := c.path("key")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte{1, 2}, 0644); err != nil {
		t.Fatal(err)
	}

	if _, hit, err := c.Get(ctx, "key"); hit || err != nil {
		t.Errorf("truncated entry: hit %v, err %v", hit, err)
	}
}

func TestCaptureKey(t *testing.T) {
	if got := CaptureKey("id-1", "bmp"); got != "capture:id-1:bmp" {
		t.Errorf("CaptureKey = %q", got)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"", false},
		{"none", false},
		{"file", false},
		{"memcached://localhost", true},
		{"disk", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			c, err := Open(ctx, tt.spec, dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if err == nil {
				c.Close()
			}
			if Valid(tt.spec) == tt.wantErr {
				t.Errorf("Valid(%q) = %v", tt.spec, !tt.wantErr)
			}
		})
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		spec, want string
	}{
		{"", "none"},
		{"file", "file"},
		{"redis://:secret@cache:6379/0", "redis"},
		{"mongodb+srv://user:pw@cluster", "mongodb+srv"},
	}
	for _, tt := range tests {
		if got := Kind(tt.spec); got != tt.want {
			t.Errorf("Kind(%q) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}

func TestValidRemote(t *testing.T) {
	for _, spec := range []string{"redis://localhost:6379", "rediss://h:6380/1", "mongodb://localhost", "mongodb+srv://c"} {
		if !Valid(spec) {
			t.Errorf("Valid(%q) = false", spec)
		}
	}
}
