//go:build linux

package kms

import (
	"errors"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	kerrors "github.com/matzehuels/kmsgrab/pkg/errors"
)

type (
	sysCardRes struct {
		fbIDPtr         uint64
		crtcIDPtr       uint64
		connectorIDPtr  uint64
		encoderIDPtr    uint64
		countFbs        uint32
		countCrtcs      uint32
		countConnectors uint32
		countEncoders   uint32
		minWidth        uint32
		maxWidth        uint32
		minHeight       uint32
		maxHeight       uint32
	}

	sysGetConnector struct {
		encodersPtr   uint64
		modesPtr      uint64
		propsPtr      uint64
		propValuesPtr uint64

		countModes    uint32
		countProps    uint32
		countEncoders uint32

		encoderID       uint32
		connectorID     uint32
		connectorType   uint32
		connectorTypeID uint32

		connection        uint32
		mmWidth, mmHeight uint32
		subpixel          uint32
		pad               uint32
	}

	sysGetEncoder struct {
		encoderID      uint32
		encoderType    uint32
		crtcID         uint32
		possibleCrtcs  uint32
		possibleClones uint32
	}

	sysModeInfo struct {
		clock                                         uint32
		hdisplay, hsyncStart, hsyncEnd, htotal, hskew uint16
		vdisplay, vsyncStart, vsyncEnd, vtotal, vscan uint16
		vrefresh                                      uint32
		flags                                         uint32
		typ                                           uint32
		name                                          [32]byte
	}

	sysCrtc struct {
		setConnectorsPtr uint64
		countConnectors  uint32
		crtcID           uint32
		fbID             uint32
		x, y             uint32
		gammaSize        uint32
		modeValid        uint32
		mode             sysModeInfo
	}

	sysFBCmd2 struct {
		fbID        uint32
		width       uint32
		height      uint32
		pixelFormat uint32
		flags       uint32
		handles     [MaxPlanes]uint32
		pitches     [MaxPlanes]uint32
		offsets     [MaxPlanes]uint32
		modifier    [MaxPlanes]uint64
	}

	sysPrimeHandle struct {
		handle uint32
		flags  uint32
		fd     int32
	}

	sysGemClose struct {
		handle uint32
		pad    uint32
	}
)

const (
	ioctlBase = 'd'

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | typ<<8 | nr
}

func iowr(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, ioctlBase, nr, size) }
func iow(nr, size uintptr) uintptr  { return ioc(iocWrite, ioctlBase, nr, size) }

var (
	// DRM_IOWR(0xA0, struct drm_mode_card_res)
	ioctlModeGetResources = iowr(0xA0, unsafe.Sizeof(sysCardRes{}))

	// DRM_IOWR(0xA1, struct drm_mode_crtc)
	ioctlModeGetCrtc = iowr(0xA1, unsafe.Sizeof(sysCrtc{}))

	// DRM_IOWR(0xA6, struct drm_mode_get_encoder)
	ioctlModeGetEncoder = iowr(0xA6, unsafe.Sizeof(sysGetEncoder{}))

	// DRM_IOWR(0xA7, struct drm_mode_get_connector)
	ioctlModeGetConnector = iowr(0xA7, unsafe.Sizeof(sysGetConnector{}))

	// DRM_IOWR(0xCE, struct drm_mode_fb_cmd2)
	ioctlModeGetFB2 = iowr(0xCE, unsafe.Sizeof(sysFBCmd2{}))

	// DRM_IOWR(0x2d, struct drm_prime_handle)
	ioctlPrimeHandleToFD = iowr(0x2d, unsafe.Sizeof(sysPrimeHandle{}))

	// DRM_IOW(0x09, struct drm_gem_close)
	ioctlGemClose = iow(0x09, unsafe.Sizeof(sysGemClose{}))
)

// Card is an open DRM primary node.
type Card struct {
	file *os.File
	path string
}

// Open opens the DRM device node at path for mode queries.
func Open(path string) (*Card, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeDeviceOpenFailed, err, "open %s", path)
	}
	return &Card{file: f, path: path}, nil
}

// Path returns the device node path.
func (c *Card) Path() string { return c.path }

// Fd returns the device file descriptor.
func (c *Card) Fd() int { return int(c.file.Fd()) }

// Close closes the device node.
func (c *Card) Close() error { return c.file.Close() }

// ioctl issues a DRM ioctl, restarting on EINTR and EAGAIN like libdrm does.
func (c *Card) ioctl(req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, c.file.Fd(), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

// ConnectorIDs returns the connector object ids in device order.
func (c *Card) ConnectorIDs() ([]uint32, error) {
	// The connector count can change between the sizing call and the fill
	// call on hotplug; retry until both agree.
	for attempt := 0; attempt < 8; attempt++ {
		res := &sysCardRes{}
		if err := c.ioctl(ioctlModeGetResources, unsafe.Pointer(res)); err != nil {
			return nil, err
		}
		if res.countConnectors == 0 {
			return nil, nil
		}

		count := res.countConnectors
		ids := make([]uint32, count)
		*res = sysCardRes{
			countConnectors: count,
			connectorIDPtr:  uint64(uintptr(unsafe.Pointer(&ids[0]))),
		}
		err := c.ioctl(ioctlModeGetResources, unsafe.Pointer(res))
		runtime.KeepAlive(ids)
		if err != nil {
			return nil, err
		}
		if res.countConnectors <= count {
			return ids[:res.countConnectors], nil
		}
	}
	return nil, errors.New("connector list kept changing")
}

// Connector reads a connector's state. Passing zero array counts makes the
// kernel report counts without copying modes, encoders, or properties.
func (c *Card) Connector(id uint32) (*Connector, error) {
	conn := &sysGetConnector{connectorID: id}
	if err := c.ioctl(ioctlModeGetConnector, unsafe.Pointer(conn)); err != nil {
		return nil, err
	}
	return &Connector{
		ID:         conn.connectorID,
		EncoderID:  conn.encoderID,
		Type:       conn.connectorType,
		TypeID:     conn.connectorTypeID,
		Connection: conn.connection,
		ModeCount:  int(conn.countModes),
		MMWidth:    conn.mmWidth,
		MMHeight:   conn.mmHeight,
	}, nil
}

// Encoder reads an encoder's state.
func (c *Card) Encoder(id uint32) (*Encoder, error) {
	enc := &sysGetEncoder{encoderID: id}
	if err := c.ioctl(ioctlModeGetEncoder, unsafe.Pointer(enc)); err != nil {
		return nil, err
	}
	return &Encoder{
		ID:     enc.encoderID,
		Type:   enc.encoderType,
		CrtcID: enc.crtcID,
	}, nil
}

// Crtc reads a CRTC's state.
func (c *Card) Crtc(id uint32) (*Crtc, error) {
	crtc := &sysCrtc{crtcID: id}
	if err := c.ioctl(ioctlModeGetCrtc, unsafe.Pointer(crtc)); err != nil {
		return nil, err
	}
	return &Crtc{
		ID:        crtc.crtcID,
		BufferID:  crtc.fbID,
		X:         crtc.x,
		Y:         crtc.y,
		Width:     uint32(crtc.mode.hdisplay),
		Height:    uint32(crtc.mode.vdisplay),
		ModeValid: crtc.modeValid != 0,
	}, nil
}

// Framebuffer reads framebuffer metadata with GETFB2. The returned handles
// are new GEM references owned by the caller; they are zero unless the
// caller is DRM master or has CAP_SYS_ADMIN.
func (c *Card) Framebuffer(id uint32) (*Framebuffer, error) {
	cmd := &sysFBCmd2{fbID: id}
	if err := c.ioctl(ioctlModeGetFB2, unsafe.Pointer(cmd)); err != nil {
		return nil, err
	}
	return &Framebuffer{
		ID:          cmd.fbID,
		Width:       cmd.width,
		Height:      cmd.height,
		PixelFormat: cmd.pixelFormat,
		Flags:       cmd.flags,
		Handles:     cmd.handles,
		Pitches:     cmd.pitches,
		Offsets:     cmd.offsets,
		Modifiers:   cmd.modifier,
	}, nil
}

// PrimeHandleToFD exports a GEM handle as a dma-buf file descriptor.
func (c *Card) PrimeHandleToFD(handle uint32) (int, error) {
	args := &sysPrimeHandle{handle: handle, flags: unix.O_CLOEXEC}
	if err := c.ioctl(ioctlPrimeHandleToFD, unsafe.Pointer(args)); err != nil {
		return -1, err
	}
	return int(args.fd), nil
}

// CloseFD closes a descriptor returned by PrimeHandleToFD.
func (c *Card) CloseFD(fd int) error {
	return unix.Close(fd)
}

// CloseHandle drops a GEM handle reference returned by Framebuffer.
func (c *Card) CloseHandle(handle uint32) error {
	return c.ioctl(ioctlGemClose, unsafe.Pointer(&sysGemClose{handle: handle}))
}
