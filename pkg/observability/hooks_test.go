package observability

import (
	"context"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	c := NoopCaptureHooks{}
	c.OnStageStart(ctx, StageResolve)
	c.OnStageComplete(ctx, StageResolve, time.Millisecond, nil)
	c.OnCapture(ctx, "direct", 1920, 1080, time.Second, nil)

	h := NoopHTTPHooks{}
	h.OnResponse(ctx, "GET", "/capture", 200, time.Second)
}

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()

	if _, ok := Capture().(NoopCaptureHooks); !ok {
		t.Error("Capture() should return NoopCaptureHooks by default")
	}
	if _, ok := HTTP().(NoopHTTPHooks); !ok {
		t.Error("HTTP() should return NoopHTTPHooks by default")
	}

	customCapture := &testCaptureHooks{}
	SetCaptureHooks(customCapture)
	if Capture() != customCapture {
		t.Error("SetCaptureHooks should set custom hooks")
	}

	customHTTP := &testHTTPHooks{}
	SetHTTPHooks(customHTTP)
	if HTTP() != customHTTP {
		t.Error("SetHTTPHooks should set custom hooks")
	}

	Reset()
	if _, ok := Capture().(NoopCaptureHooks); !ok {
		t.Error("Reset() should restore NoopCaptureHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()

	custom := &testCaptureHooks{}
	SetCaptureHooks(custom)
	SetCaptureHooks(nil)

	if Capture() != custom {
		t.Error("SetCaptureHooks(nil) should keep existing hooks")
	}
	Reset()
}

type testCaptureHooks struct {
	NoopCaptureHooks
}

type testHTTPHooks struct {
	NoopHTTPHooks
}
