// Package scanout resolves which framebuffer a display is currently showing.
//
// Resolution walks the KMS object graph once: the first connected connector
// that advertises at least one mode, its bound encoder, that encoder's CRTC,
// and finally the framebuffer the CRTC scans out. The result is a
// [Descriptor] snapshot. Nothing re-validates the binding between reading the
// CRTC and querying the framebuffer; a page flip in between yields a query
// against a stale id, which surfaces as ErrCodeBufferQueryFailed.
package scanout

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/kms"
)

// Device is the subset of a DRM card needed to resolve the scanout buffer.
// *kms.Card implements it.
type Device interface {
	ConnectorIDs() ([]uint32, error)
	Connector(id uint32) (*kms.Connector, error)
	Encoder(id uint32) (*kms.Encoder, error)
	Crtc(id uint32) (*kms.Crtc, error)
	Framebuffer(id uint32) (*kms.Framebuffer, error)
}

// HandleCloser drops GEM handle references. *kms.Card implements it.
type HandleCloser interface {
	CloseHandle(handle uint32) error
}

// Plane is one memory region of a framebuffer.
type Plane struct {
	Handle uint32 `json:"handle"`
	Offset uint32 `json:"offset"`
	Stride uint32 `json:"stride"`
}

// Descriptor describes the buffer currently scanned out.
type Descriptor struct {
	FramebufferID uint32  `json:"framebuffer_id"`
	Width         uint32  `json:"width"`
	Height        uint32  `json:"height"`
	Format        uint32  `json:"format"`
	Modifier      uint64  `json:"modifier"`
	HasModifier   bool    `json:"has_modifier"`
	Planes        []Plane `json:"planes"`

	Connector kms.Connector `json:"connector"`
	CrtcID    uint32        `json:"crtc_id"`
}

// Linear reports whether the buffer uses a linear memory layout: either no
// modifier was declared or the declared modifier is LINEAR.
func (d *Descriptor) Linear() bool {
	return !d.HasModifier || d.Modifier == kms.ModLinear
}

// Handles returns the per-slot handle array, zero for absent planes.
func (d *Descriptor) Handles() [kms.MaxPlanes]uint32 {
	var h [kms.MaxPlanes]uint32
	for i, p := range d.Planes {
		h[i] = p.Handle
	}
	return h
}

// ReleaseHandles drops each distinct GEM handle once. It returns the first
// error but attempts every handle.
func (d *Descriptor) ReleaseHandles(c HandleCloser) error {
	var first error
	seen := make(map[uint32]bool, len(d.Planes))
	for _, p := range d.Planes {
		if p.Handle == 0 || seen[p.Handle] {
			continue
		}
		seen[p.Handle] = true
		if err := c.CloseHandle(p.Handle); err != nil && first == nil {
			first = fmt.Errorf("close handle %d: %w", p.Handle, err)
		}
	}
	return first
}

// Option configures Resolve.
type Option func(*resolver)

type resolver struct {
	logger *log.Logger
}

// WithLogger sets the logger used for per-object debug output.
func WithLogger(l *log.Logger) Option {
	return func(r *resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Resolve finds the active output and returns the descriptor of the buffer it
// scans out. On success the descriptor owns the framebuffer's GEM handles;
// release them with [Descriptor.ReleaseHandles].
func Resolve(dev Device, opts ...Option) (*Descriptor, error) {
	r := resolver{logger: log.NewWithOptions(io.Discard, log.Options{})}
	for _, opt := range opts {
		opt(&r)
	}

	conn, err := r.activeConnector(dev)
	if err != nil {
		return nil, err
	}

	if conn.EncoderID == 0 {
		return nil, errors.New(errors.ErrCodeNoEncoderBound, "connector %s has no encoder", conn.Name())
	}
	enc, err := dev.Encoder(conn.EncoderID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNoEncoderBound, err, "get encoder %d", conn.EncoderID)
	}
	if enc.CrtcID == 0 {
		return nil, errors.New(errors.ErrCodeNoEncoderBound, "encoder %d drives no CRTC", enc.ID)
	}

	crtc, err := dev.Crtc(enc.CrtcID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNoEncoderBound, err, "get CRTC %d", enc.CrtcID)
	}
	if crtc.BufferID == 0 {
		return nil, errors.New(errors.ErrCodeNoBufferBound, "CRTC %d scans out no framebuffer", crtc.ID)
	}
	r.logger.Debug("found scanout binding", "connector", conn.Name(), "encoder", enc.ID, "crtc", crtc.ID, "fb", crtc.BufferID)

	fb, err := dev.Framebuffer(crtc.BufferID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBufferQueryFailed, err, "get framebuffer %d", crtc.BufferID)
	}

	desc := &Descriptor{
		FramebufferID: fb.ID,
		Width:         fb.Width,
		Height:        fb.Height,
		Format:        fb.PixelFormat,
		HasModifier:   fb.HasModifier(),
		Connector:     *conn,
		CrtcID:        crtc.ID,
	}
	if desc.HasModifier {
		desc.Modifier = fb.Modifiers[0]
	}
	for i := 0; i < kms.MaxPlanes && fb.Handles[i] != 0; i++ {
		desc.Planes = append(desc.Planes, Plane{
			Handle: fb.Handles[i],
			Offset: fb.Offsets[i],
			Stride: fb.Pitches[i],
		})
	}
	if len(desc.Planes) == 0 {
		return nil, errors.New(errors.ErrCodeBufferQueryFailed,
			"framebuffer %d exposes no buffer handles (requires DRM master or CAP_SYS_ADMIN)", fb.ID)
	}

	r.logger.Debug("framebuffer",
		"id", desc.FramebufferID,
		"width", desc.Width,
		"height", desc.Height,
		"format", kms.FormatName(desc.Format),
		"modifier", desc.ModifierName(),
		"planes", len(desc.Planes))

	return desc, nil
}

// ModifierName describes the layout modifier, "none" when absent.
func (d *Descriptor) ModifierName() string {
	if !d.HasModifier {
		return "none"
	}
	return kms.ModifierName(d.Modifier)
}

// activeConnector returns the first connected connector with modes.
// Connectors that fail to query are skipped.
func (r *resolver) activeConnector(dev Device) (*kms.Connector, error) {
	ids, err := dev.ConnectorIDs()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNoActiveOutput, err, "list connectors")
	}

	for _, id := range ids {
		conn, err := dev.Connector(id)
		if err != nil {
			r.logger.Debug("skipping connector", "id", id, "err", err)
			continue
		}
		if conn.IsConnected() && conn.ModeCount > 0 {
			return conn, nil
		}
		r.logger.Debug("skipping connector", "name", conn.Name(), "connection", conn.Connection, "modes", conn.ModeCount)
	}
	return nil, errors.New(errors.ErrCodeNoActiveOutput, "no connected connector with modes among %d", len(ids))
}
