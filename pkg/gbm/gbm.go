// Package gbm is the buffer-object layer used to import scanout buffers that
// cannot be mapped directly: tiled or compressed layouts, and buffers whose
// planes live in several allocations.
//
// The libgbm binding needs cgo and the gbm development headers, and is only
// compiled with the "gbm" build tag:
//
//	go build -tags gbm ./cmd/kmsgrab
//
// Without the tag, [Open] returns [ErrUnavailable] and captures are limited
// to direct mapping of linear single-plane buffers.
package gbm

import "errors"

// ErrUnavailable is returned by Open when kmsgrab was built without libgbm.
var ErrUnavailable = errors.New("libgbm support not compiled in (build with -tags gbm)")
