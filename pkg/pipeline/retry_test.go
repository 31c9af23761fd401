package pipeline_test

import (
	"context"
	stderrors "errors"
	"syscall"
	"testing"
	"time"

	"github.com/matzehuels/kmsgrab/internal/fakedrm"
	"github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/pipeline"
)

func TestRetry(t *testing.T) {
	always := func(error) bool { return true }
	never := func(error) bool { return false }
	boom := stderrors.New("boom")

	tests := []struct {
		name      string
		attempts  int
		retryable func(error) bool
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{"success first try", 3, always, 0, 1, false},
		{"success after retries", 3, always, 2, 3, false},
		{"exhausted", 3, always, 5, 3, true},
		{"not retryable", 3, never, 5, 1, true},
		{"zero attempts runs once", 0, always, 5, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := pipeline.Retry(context.Background(), tt.attempts, time.Millisecond, tt.retryable, func() error {
				calls++
				if calls <= tt.failures {
					return boom
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("Retry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := pipeline.Retry(ctx, 5, time.Hour, func(error) bool { return true }, func() error {
		calls++
		cancel()
		return stderrors.New("boom")
	})
	if err != context.Canceled {
		t.Errorf("Retry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"stale framebuffer", errors.Wrap(errors.ErrCodeBufferQueryFailed, syscall.ENOENT, "get framebuffer 9"), true},
		{"no buffer bound", errors.New(errors.ErrCodeNoBufferBound, "CRTC 1 scans out no framebuffer"), true},
		{"missing privilege", errors.New(errors.ErrCodeBufferQueryFailed, "no handles"), false},
		{"permission", errors.Wrap(errors.ErrCodeBufferQueryFailed, syscall.EACCES, "get framebuffer 9"), false},
		{"unsupported format", errors.New(errors.ErrCodeUnsupportedFormat, "ARGB8888"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pipeline.Transient(tt.err); got != tt.want {
				t.Errorf("Transient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCaptureRetriesStaleFramebuffer(t *testing.T) {
	card := fakedrm.NewXRGB(4, 2, 16)
	card.Fail.FramebufferTimes = 2
	card.Fail.FramebufferErr = syscall.ENOENT

	runner := pipeline.NewRunner(card, card, nil, nil)
	opts := pipeline.Options{Retries: 2, RetryDelay: time.Millisecond}

	result, err := runner.Capture(context.Background(), opts)
	if err != nil {
		t.Fatalf("Capture() error: %v", err)
	}
	if result.Image == nil {
		t.Fatal("Image should be set")
	}
	assertClean(t, card)
}

func TestCaptureWithoutRetriesFailsOnStaleFramebuffer(t *testing.T) {
	card := fakedrm.NewXRGB(4, 2, 16)
	card.Fail.FramebufferTimes = 1
	card.Fail.FramebufferErr = syscall.ENOENT

	_, err := pipeline.NewRunner(card, card, nil, nil).Capture(context.Background(), pipeline.Options{})
	if !errors.Is(err, errors.ErrCodeBufferQueryFailed) {
		t.Errorf("Capture() error = %v, want BUFFER_QUERY_FAILED", err)
	}
}

func TestCaptureRejectsNegativeRetries(t *testing.T) {
	card := fakedrm.NewXRGB(4, 2, 16)
	_, err := pipeline.NewRunner(card, card, nil, nil).Capture(context.Background(), pipeline.Options{Retries: -1})
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Capture() error = %v, want INVALID_INPUT", err)
	}
}
