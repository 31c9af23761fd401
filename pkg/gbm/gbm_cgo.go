//go:build linux && cgo && gbm

package gbm

/*
#cgo pkg-config: gbm
#include <stdint.h>
#include <string.h>
#include <gbm.h>

static struct gbm_bo *import_single(struct gbm_device *dev, int fd,
		uint32_t width, uint32_t height, uint32_t stride, uint32_t format) {
	struct gbm_import_fd_data data;
	data.fd = fd;
	data.width = width;
	data.height = height;
	data.stride = stride;
	data.format = format;
	return gbm_bo_import(dev, GBM_BO_IMPORT_FD, &data, GBM_BO_USE_SCANOUT);
}

static struct gbm_bo *import_modifier(struct gbm_device *dev,
		uint32_t width, uint32_t height, uint32_t format, uint64_t modifier,
		uint32_t num_fds, const int *fds, const int *strides, const int *offsets) {
	struct gbm_import_fd_modifier_data data;
	memset(&data, 0, sizeof(data));
	data.width = width;
	data.height = height;
	data.format = format;
	data.modifier = modifier;
	data.num_fds = num_fds;
	for (uint32_t i = 0; i < num_fds && i < 4; i++) {
		data.fds[i] = fds[i];
		data.strides[i] = strides[i];
		data.offsets[i] = offsets[i];
	}
	return gbm_bo_import(dev, GBM_BO_IMPORT_FD_MODIFIER, &data, GBM_BO_USE_SCANOUT);
}

static void *map_read(struct gbm_bo *bo, uint32_t width, uint32_t height,
		uint32_t *stride, void **map_data) {
	return gbm_bo_map(bo, 0, 0, width, height, GBM_BO_TRANSFER_READ, stride, map_data);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"github.com/matzehuels/kmsgrab/pkg/bufimport"
	"github.com/matzehuels/kmsgrab/pkg/kms"
)

// Device is a libgbm device created on an open DRM card.
type Device struct {
	dev *C.struct_gbm_device
}

// Open creates a gbm device on the card descriptor fd. The descriptor must
// stay open until Close.
func Open(fd int) (*Device, error) {
	dev, err := C.gbm_create_device(C.int(fd))
	if dev == nil {
		if err == nil {
			err = syscall.ENODEV
		}
		return nil, fmt.Errorf("gbm_create_device: %w", err)
	}
	return &Device{dev: dev}, nil
}

// Close destroys the device.
func (d *Device) Close() error {
	if d.dev != nil {
		C.gbm_device_destroy(d.dev)
		d.dev = nil
	}
	return nil
}

// Import imports the request's planes. A request without a modifier and
// with one plane uses the plain descriptor import; anything else passes
// every plane and the modifier in one call.
func (d *Device) Import(req bufimport.ImportRequest) (bufimport.BufferObject, error) {
	if len(req.Planes) == 0 || len(req.Planes) > kms.MaxPlanes {
		return nil, fmt.Errorf("import: %d planes", len(req.Planes))
	}

	var bo *C.struct_gbm_bo
	var err error
	if !req.HasModifier && len(req.Planes) == 1 {
		p := req.Planes[0]
		if p.Offset != 0 {
			return nil, errors.New("import: single-plane import needs offset 0")
		}
		bo, err = C.import_single(d.dev, C.int(p.FD),
			C.uint32_t(req.Width), C.uint32_t(req.Height),
			C.uint32_t(p.Stride), C.uint32_t(req.Format))
	} else {
		var fds, strides, offsets [kms.MaxPlanes]C.int
		for i, p := range req.Planes {
			fds[i] = C.int(p.FD)
			strides[i] = C.int(p.Stride)
			offsets[i] = C.int(p.Offset)
		}
		modifier := req.Modifier
		if !req.HasModifier {
			modifier = kms.ModInvalid
		}
		bo, err = C.import_modifier(d.dev,
			C.uint32_t(req.Width), C.uint32_t(req.Height), C.uint32_t(req.Format),
			C.uint64_t(modifier), C.uint32_t(len(req.Planes)),
			&fds[0], &strides[0], &offsets[0])
	}
	if bo == nil {
		if err == nil {
			err = syscall.EINVAL
		}
		return nil, fmt.Errorf("gbm_bo_import: %w", err)
	}
	return &bufferObject{bo: bo}, nil
}

type bufferObject struct {
	bo *C.struct_gbm_bo
}

func (b *bufferObject) Map(width, height uint32) (bufimport.Mapping, error) {
	var stride C.uint32_t
	var mapData unsafe.Pointer
	ptr, err := C.map_read(b.bo, C.uint32_t(width), C.uint32_t(height), &stride, &mapData)
	if ptr == nil {
		if err == nil {
			err = syscall.EFAULT
		}
		return nil, fmt.Errorf("gbm_bo_map: %w", err)
	}
	size := int(stride) * int(height)
	return &mapping{
		bo:      b.bo,
		mapData: mapData,
		data:    unsafe.Slice((*byte)(ptr), size),
		stride:  int(stride),
	}, nil
}

func (b *bufferObject) Destroy() error {
	if b.bo != nil {
		C.gbm_bo_destroy(b.bo)
		b.bo = nil
	}
	return nil
}

type mapping struct {
	bo      *C.struct_gbm_bo
	mapData unsafe.Pointer
	data    []byte
	stride  int
}

func (m *mapping) Bytes() []byte { return m.data }
func (m *mapping) Stride() int   { return m.stride }

func (m *mapping) Unmap() error {
	if m.mapData != nil {
		C.gbm_bo_unmap(m.bo, m.mapData)
		m.mapData = nil
		m.data = nil
	}
	return nil
}

var _ bufimport.BufferObjects = (*Device)(nil)
