// Package bufimport makes a scanout framebuffer readable by the CPU.
//
// A framebuffer reaches user space as GEM handles. [ExportHandles] turns each
// distinct handle into a dma-buf descriptor exactly once; an [Importer] then
// picks one of three strategies to map the pixels:
//
//   - [DirectRegion]: mmap the dma-buf at the plane offset. Only valid for a
//     single linear plane.
//   - [SingleForeignBuffer]: import one plane through the device's
//     buffer-object layer (libgbm) and map it there.
//   - [MultiPlaneForeignBuffer]: import all planes plus the layout modifier in
//     one call, for tiled or compressed layouts.
//
// Every strategy yields the same [Region]: a byte view plus the stride that
// must be used to address rows. The stride reported by the buffer-object
// layer can differ from the one declared by the framebuffer.
//
// Release order is strict: a mapping is unmapped before its buffer object is
// destroyed, and buffer objects are destroyed before the descriptors they were
// imported from are closed.
package bufimport

import (
	"fmt"
	"strings"

	kerrors "github.com/matzehuels/kmsgrab/pkg/errors"
)

// Strategy identifies how a framebuffer is mapped.
type Strategy int

const (
	StrategyAuto Strategy = iota
	StrategyDirect
	StrategySingle
	StrategyMulti
)

var strategyNames = map[Strategy]string{
	StrategyAuto:   "auto",
	StrategyDirect: "direct",
	StrategySingle: "single",
	StrategyMulti:  "multi",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy parses a strategy name. The empty string means auto.
func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StrategyAuto, nil
	}
	for st, name := range strategyNames {
		if name == s {
			return st, nil
		}
	}
	return StrategyAuto, kerrors.New(kerrors.ErrCodeInvalidInput,
		"invalid strategy: %q (must be one of: auto, direct, single, multi)", s)
}

// Region is a CPU-visible view of a mapped framebuffer.
type Region struct {
	Data     []byte
	Stride   int
	Strategy Strategy
}

// Source is a mapped or mappable framebuffer. Release must be called on every
// path once Map has been attempted, and the Region must not be used after.
type Source interface {
	Map() (*Region, error)
	Release() error
	Strategy() Strategy
}
