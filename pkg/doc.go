// Package pkg provides the libraries behind kmsgrab, a screen grabber that
// reads the framebuffer scanned out by a DRM/KMS display controller.
//
// # Overview
//
// A capture flows through these packages:
//
//	[kms]        DRM device node, mode-setting queries, PRIME export
//	    ↓
//	[scanout]    active connector → encoder → CRTC → framebuffer descriptor
//	    ↓
//	[bufimport]  handle dedupe, PRIME fds, direct mmap or [gbm] import
//	    ↓
//	[pixel]      XRGB8888 → packed 24-bit rows
//	    ↓
//	[sink]       BMP or PNG, written atomically
//
// [pipeline] runs the stages in order and releases every kernel resource on
// every exit path. Supporting packages:
//   - [errors]: coded errors shared by the CLI and the HTTP server
//   - [observability]: stage and HTTP hooks
//   - [cache]: served captures by id (file, Redis, MongoDB)
//   - [buildinfo]: version metadata
//
// # Quick Start
//
//	card, err := kms.Open("/dev/dri/card0")
//	if err != nil {
//	    return err
//	}
//	defer card.Close()
//
//	runner := pipeline.NewRunner(card, nil, nil, logger)
//	result, err := runner.CaptureToFile(ctx, pipeline.Options{}, "output.bmp")
package pkg
