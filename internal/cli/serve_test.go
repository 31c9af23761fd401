package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmsgrab/internal/fakedrm"
	"github.com/matzehuels/kmsgrab/pkg/cache"
	"github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/kms"
	"github.com/matzehuels/kmsgrab/pkg/observability"
	"github.com/matzehuels/kmsgrab/pkg/pipeline"
	"github.com/matzehuels/kmsgrab/pkg/scanout"
)

func newTestServer(t *testing.T, card *fakedrm.Card) *httptest.Server {
	t.Helper()
	return newCachingTestServer(t, card, nil)
}

func newCachingTestServer(t *testing.T, card *fakedrm.Card, store cache.Cache) *httptest.Server {
	t.Helper()
	logger := log.NewWithOptions(io.Discard, log.Options{})
	runner := pipeline.NewRunner(card, card, nil, logger)
	srv := httptest.NewServer(newCaptureServer(runner, store, logger, DefaultConfig()).routes())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestServeHealthz(t *testing.T) {
	srv := newTestServer(t, fakedrm.NewXRGB(4, 2, 16))

	resp, body := get(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if string(body) != "ok\n" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestServeCapture(t *testing.T) {
	tests := []struct {
		query       string
		contentType string
		magic       []byte
	}{
		{"", "image/bmp", []byte("BM")},
		{"?format=bmp", "image/bmp", []byte("BM")},
		{"?format=png", "image/png", []byte("\x89PNG")},
		{"?format=png&strategy=direct", "image/png", []byte("\x89PNG")},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			card := fakedrm.NewXRGB(4, 2, 16)
			srv := newTestServer(t, card)

			resp, body := get(t, srv.URL+"/capture"+tt.query)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, body %s", resp.StatusCode, body)
			}
			if got := resp.Header.Get("Content-Type"); got != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", got, tt.contentType)
			}
			if resp.Header.Get(captureIDHeader) == "" {
				t.Errorf("missing %s header", captureIDHeader)
			}
			if !bytes.HasPrefix(body, tt.magic) {
				t.Errorf("body starts with %q, want %q", body[:min(len(body), 4)], tt.magic)
			}
			if leaks := card.Leaks(); leaks != nil {
				t.Errorf("leaks: %v", leaks)
			}
		})
	}
}

func TestServeCapturePNGDecodes(t *testing.T) {
	srv := newTestServer(t, fakedrm.NewXRGB(3, 2, 12))

	_, body := get(t, srv.URL+"/capture?format=png")
	img, err := png.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Errorf("bounds = %v, want 3x2", b)
	}

	// encoded images are top-down, in source row order
	px := fakedrm.Pixel(1, 1)
	r, g, b, _ := img.At(1, 1).RGBA()
	if uint8(r>>8) != px[2] || uint8(g>>8) != px[1] || uint8(b>>8) != px[0] {
		t.Errorf("pixel (1,1) = %d,%d,%d, want %v", r>>8, g>>8, b>>8, px)
	}
}

func TestServeCaptureErrors(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		setup  func(c *fakedrm.Card)
		status int
		code   errors.Code
	}{
		{"bad format", "?format=gif", nil, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"bad strategy", "?strategy=fast", nil, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{
			name: "unsupported pixel format",
			setup: func(c *fakedrm.Card) {
				c.SetFramebuffer(func(fb *kms.Framebuffer) { fb.PixelFormat = kms.FormatRGB565 })
			},
			status: http.StatusUnsupportedMediaType,
			code:   errors.ErrCodeUnsupportedFormat,
		},
		{
			name:   "no active output",
			setup:  func(c *fakedrm.Card) { c.Connectors = c.Connectors[:1] },
			status: http.StatusServiceUnavailable,
			code:   errors.ErrCodeNoActiveOutput,
		},
		{
			name:   "forced single without objects",
			query:  "?strategy=single",
			status: http.StatusServiceUnavailable,
			code:   errors.ErrCodeImportFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := fakedrm.NewXRGB(4, 2, 16)
			if tt.setup != nil {
				tt.setup(card)
			}
			srv := newTestServer(t, card)

			resp, body := get(t, srv.URL+"/capture"+tt.query)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.status, body)
			}
			var er errorResponse
			if err := json.Unmarshal(body, &er); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if er.Code != string(tt.code) {
				t.Errorf("code = %q, want %q", er.Code, tt.code)
			}
			if leaks := card.Leaks(); leaks != nil {
				t.Errorf("leaks: %v", leaks)
			}
		})
	}
}

func TestServeCachedCapture(t *testing.T) {
	store, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	card := fakedrm.NewXRGB(4, 2, 16)
	srv := newCachingTestServer(t, card, store)

	resp, first := get(t, srv.URL+"/capture?format=png")
	id := resp.Header.Get(captureIDHeader)
	if resp.StatusCode != http.StatusOK || id == "" {
		t.Fatalf("capture status %d, id %q", resp.StatusCode, id)
	}
	mapped := card.Count("mmap")

	resp, again := get(t, srv.URL+"/captures/"+id+"?format=png")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cached status = %d, body %s", resp.StatusCode, again)
	}
	if !bytes.Equal(first, again) {
		t.Error("cached capture differs from the original response")
	}
	if got := resp.Header.Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q", got)
	}
	if card.Count("mmap") != mapped {
		t.Error("cached fetch should not touch the device")
	}

	// only the served format is cached
	resp, body := get(t, srv.URL+"/captures/"+id+"?format=bmp")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("bmp status = %d, body %s", resp.StatusCode, body)
	}
}

func TestServeCachedCaptureMissing(t *testing.T) {
	srv := newTestServer(t, fakedrm.NewXRGB(4, 2, 16))

	resp, body := get(t, srv.URL+"/captures/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if er.Code != string(errors.ErrCodeNotFound) {
		t.Errorf("code = %q", er.Code)
	}
}

func TestServeScanout(t *testing.T) {
	card := fakedrm.NewXRGB(8, 4, 32)
	srv := newTestServer(t, card)

	resp, body := get(t, srv.URL+"/scanout")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var desc scanout.Descriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.Width != 8 || desc.Height != 4 || len(desc.Planes) != 1 {
		t.Errorf("descriptor = %+v", desc)
	}
	if card.Count("mmap") != 0 {
		t.Error("/scanout should not map the buffer")
	}
}

func TestServeConcurrentCaptures(t *testing.T) {
	card := fakedrm.NewXRGB(16, 16, 64)
	srv := newTestServer(t, card)

	var wg sync.WaitGroup
	statuses := make([]int, 8)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(srv.URL + "/capture")
			if err != nil {
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, s := range statuses {
		if s != http.StatusOK {
			t.Errorf("request %d status = %d", i, s)
		}
	}
	if leaks := card.Leaks(); leaks != nil {
		t.Errorf("leaks: %v", leaks)
	}
	if v := card.Violations(); v != nil {
		t.Errorf("violations: %v", v)
	}
}

type recordingHTTPHooks struct {
	observability.NoopHTTPHooks
	mu       sync.Mutex
	statuses map[string]int
}

func (h *recordingHTTPHooks) OnResponse(_ context.Context, _, path string, status int, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[path] = status
}

func TestServeReportsHTTPHooks(t *testing.T) {
	hooks := &recordingHTTPHooks{statuses: map[string]int{}}
	observability.SetHTTPHooks(hooks)
	t.Cleanup(observability.Reset)

	srv := newTestServer(t, fakedrm.NewXRGB(4, 2, 16))
	get(t, srv.URL+"/healthz")
	get(t, srv.URL+"/capture?format=gif")

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if hooks.statuses["/healthz"] != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", hooks.statuses["/healthz"])
	}
	if hooks.statuses["/capture"] != http.StatusBadRequest {
		t.Errorf("/capture status = %d, want 400", hooks.statuses["/capture"])
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		code errors.Code
		want int
	}{
		{errors.ErrCodeUnsupportedFormat, http.StatusUnsupportedMediaType},
		{errors.ErrCodeInvalidInput, http.StatusBadRequest},
		{errors.ErrCodeNotFound, http.StatusNotFound},
		{errors.ErrCodeNoActiveOutput, http.StatusServiceUnavailable},
		{errors.ErrCodeNoBufferBound, http.StatusServiceUnavailable},
		{errors.ErrCodeMapFailed, http.StatusServiceUnavailable},
		{errors.ErrCodeEncodeFailed, http.StatusInternalServerError},
		{errors.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := errorStatus(errors.New(tt.code, "x")); got != tt.want {
				t.Errorf("errorStatus(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}
