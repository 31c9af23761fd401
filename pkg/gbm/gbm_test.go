//go:build !(linux && cgo && gbm)

package gbm

import (
	"errors"
	"testing"

	"github.com/matzehuels/kmsgrab/pkg/bufimport"
)

func TestOpenUnavailable(t *testing.T) {
	d, err := Open(3)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Open() error = %v, want ErrUnavailable", err)
	}
	if d != nil {
		t.Error("Open() should return a nil device")
	}

	var stub Device
	if _, err := stub.Import(bufimport.ImportRequest{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Import() error = %v, want ErrUnavailable", err)
	}
}
