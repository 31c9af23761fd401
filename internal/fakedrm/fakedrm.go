// Package fakedrm is an in-memory DRM device for tests.
//
// A Card implements the device, mapper and buffer-object interfaces used by
// the capture pipeline. It counts every resource it hands out (GEM handle
// references, descriptors, mappings, buffer objects) so tests can assert that
// nothing is left behind, and it records release-order violations such as a
// descriptor closed while a buffer object imported from it is alive.
package fakedrm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/matzehuels/kmsgrab/pkg/bufimport"
	"github.com/matzehuels/kmsgrab/pkg/kms"
)

// ErrInjected is returned by injected failures.
var ErrInjected = errors.New("injected failure")

// Failures selects operations that fail.
type Failures struct {
	Connector   map[uint32]bool
	Framebuffer bool
	// FramebufferTimes fails the next n framebuffer queries with
	// FramebufferErr (ErrInjected when nil).
	FramebufferTimes int
	FramebufferErr   error
	// Export fails PrimeHandleToFD for the listed handles.
	Export  map[uint32]bool
	Mmap    bool
	Import  bool
	BOMap   bool
	Sync    bool
	Destroy bool
}

// Card is a fake DRM card. Configure the exported fields before use.
type Card struct {
	Connectors []kms.Connector
	Encoders   map[uint32]kms.Encoder
	Crtcs      map[uint32]kms.Crtc
	Buffers    map[uint32]kms.Framebuffer

	// Memory holds the backing bytes of each GEM handle.
	Memory map[uint32][]byte

	// BOStride, if non-zero, is the row pitch reported by buffer-object
	// mappings instead of the framebuffer's declared pitch.
	BOStride int

	Fail Failures

	mu       sync.Mutex
	handles  map[uint32]int
	fds      map[int]uint32
	nextFD   int
	bos      map[*bufferObject]bool
	mappings int
	calls    map[string]int
	imports  []bufimport.ImportRequest
	problems []string
}

// Count returns how often the named operation was called: "mmap", "import",
// "export", "closefd", "closehandle", "bomap".
func (c *Card) Count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Imports returns the requests received by the buffer-object layer.
func (c *Card) Imports() []bufimport.ImportRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bufimport.ImportRequest(nil), c.imports...)
}

// Leaks describes every resource still alive, nil when clean.
func (c *Card) Leaks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for h, n := range c.handles {
		if n > 0 {
			out = append(out, fmt.Sprintf("GEM handle %d (%d refs)", h, n))
		}
	}
	for fd, h := range c.fds {
		out = append(out, fmt.Sprintf("fd %d (handle %d)", fd, h))
	}
	if len(c.bos) > 0 {
		out = append(out, fmt.Sprintf("%d buffer object(s)", len(c.bos)))
	}
	if c.mappings > 0 {
		out = append(out, fmt.Sprintf("%d mapping(s)", c.mappings))
	}
	sort.Strings(out)
	return out
}

// Violations returns recorded release-order and misuse problems.
func (c *Card) Violations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.problems...)
}

func (c *Card) init() {
	if c.handles == nil {
		c.handles = make(map[uint32]int)
		c.fds = make(map[int]uint32)
		c.bos = make(map[*bufferObject]bool)
		c.calls = make(map[string]int)
		c.nextFD = 100
	}
}

func (c *Card) problem(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

// =============================================================================
// Mode-setting queries
// =============================================================================

func (c *Card) ConnectorIDs() ([]uint32, error) {
	ids := make([]uint32, len(c.Connectors))
	for i, conn := range c.Connectors {
		ids[i] = conn.ID
	}
	return ids, nil
}

func (c *Card) Connector(id uint32) (*kms.Connector, error) {
	if c.Fail.Connector[id] {
		return nil, ErrInjected
	}
	for _, conn := range c.Connectors {
		if conn.ID == id {
			conn := conn
			return &conn, nil
		}
	}
	return nil, fmt.Errorf("connector %d: not found", id)
}

func (c *Card) Encoder(id uint32) (*kms.Encoder, error) {
	enc, ok := c.Encoders[id]
	if !ok {
		return nil, fmt.Errorf("encoder %d: not found", id)
	}
	return &enc, nil
}

func (c *Card) Crtc(id uint32) (*kms.Crtc, error) {
	crtc, ok := c.Crtcs[id]
	if !ok {
		return nil, fmt.Errorf("crtc %d: not found", id)
	}
	return &crtc, nil
}

// Framebuffer returns the buffer and takes one reference per distinct
// handle, as the kernel does.
func (c *Card) Framebuffer(id uint32) (*kms.Framebuffer, error) {
	if c.Fail.Framebuffer {
		return nil, ErrInjected
	}
	if c.Fail.FramebufferTimes > 0 {
		c.Fail.FramebufferTimes--
		if c.Fail.FramebufferErr != nil {
			return nil, c.Fail.FramebufferErr
		}
		return nil, ErrInjected
	}
	fb, ok := c.Buffers[id]
	if !ok {
		return nil, fmt.Errorf("framebuffer %d: not found", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	seen := map[uint32]bool{}
	for _, h := range fb.Handles {
		if h != 0 && !seen[h] {
			seen[h] = true
			c.handles[h]++
		}
	}
	return &fb, nil
}

// =============================================================================
// Handles and descriptors
// =============================================================================

func (c *Card) CloseHandle(handle uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	c.calls["closehandle"]++
	if c.handles[handle] <= 0 {
		c.problem("close of unreferenced handle %d", handle)
		return fmt.Errorf("handle %d: not referenced", handle)
	}
	c.handles[handle]--
	for fd, h := range c.fds {
		if h == handle {
			c.problem("handle %d closed while fd %d is open", handle, fd)
		}
	}
	return nil
}

func (c *Card) PrimeHandleToFD(handle uint32) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	c.calls["export"]++
	if c.Fail.Export[handle] {
		return -1, ErrInjected
	}
	if c.handles[handle] <= 0 {
		return -1, fmt.Errorf("handle %d: not referenced", handle)
	}
	fd := c.nextFD
	c.nextFD++
	c.fds[fd] = handle
	return fd, nil
}

func (c *Card) CloseFD(fd int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	c.calls["closefd"]++
	if _, ok := c.fds[fd]; !ok {
		c.problem("close of unknown fd %d", fd)
		return fmt.Errorf("fd %d: not open", fd)
	}
	for bo := range c.bos {
		for _, p := range bo.req.Planes {
			if p.FD == fd {
				c.problem("fd %d closed while a buffer object imported from it is alive", fd)
			}
		}
	}
	if c.mappings > 0 {
		c.problem("fd %d closed while mapped", fd)
	}
	delete(c.fds, fd)
	return nil
}

// memory returns the backing bytes of the handle behind fd.
func (c *Card) memory(fd int) ([]byte, error) {
	h, ok := c.fds[fd]
	if !ok {
		return nil, fmt.Errorf("fd %d: not open", fd)
	}
	mem, ok := c.Memory[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: no backing memory", h)
	}
	return mem, nil
}

// =============================================================================
// Direct mapping
// =============================================================================

// Mmap copies length bytes at offset of the descriptor's backing memory.
func (c *Card) Mmap(fd int, offset int64, length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	c.calls["mmap"]++
	if c.Fail.Mmap {
		return nil, ErrInjected
	}
	mem, err := c.memory(fd)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset+int64(length) > int64(len(mem)) {
		return nil, fmt.Errorf("mmap [%d,%d) beyond %d bytes", offset, offset+int64(length), len(mem))
	}
	c.mappings++
	return append([]byte(nil), mem[offset:offset+int64(length)]...), nil
}

func (c *Card) Munmap(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mappings <= 0 {
		c.problem("munmap without mapping")
		return errors.New("not mapped")
	}
	c.mappings--
	return nil
}

func (c *Card) BeginCPUAccess(fd int) error {
	if c.Fail.Sync {
		return ErrInjected
	}
	return nil
}

func (c *Card) EndCPUAccess(fd int) error {
	if c.Fail.Sync {
		return ErrInjected
	}
	return nil
}

// =============================================================================
// Buffer objects
// =============================================================================

func (c *Card) Import(req bufimport.ImportRequest) (bufimport.BufferObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	c.calls["import"]++
	c.imports = append(c.imports, req)
	if c.Fail.Import {
		return nil, ErrInjected
	}
	if len(req.Planes) == 0 {
		return nil, errors.New("no planes")
	}
	for _, p := range req.Planes {
		if _, ok := c.fds[p.FD]; !ok {
			return nil, fmt.Errorf("plane fd %d: not open", p.FD)
		}
	}
	bo := &bufferObject{card: c, req: req}
	c.bos[bo] = true
	return bo, nil
}

type bufferObject struct {
	card   *Card
	req    bufimport.ImportRequest
	mapped bool
}

// Map repacks plane 0 into rows of the card's BOStride, or the declared
// stride when unset.
func (bo *bufferObject) Map(width, height uint32) (bufimport.Mapping, error) {
	c := bo.card
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["bomap"]++
	if c.Fail.BOMap {
		return nil, ErrInjected
	}
	p := bo.req.Planes[0]
	mem, err := c.memory(p.FD)
	if err != nil {
		return nil, err
	}

	stride := int(p.Stride)
	if c.BOStride > 0 {
		stride = c.BOStride
	}
	row := int(width) * 4
	if stride < row {
		return nil, fmt.Errorf("stride %d below row size %d", stride, row)
	}
	out := make([]byte, stride*int(height))
	for y := 0; y < int(height); y++ {
		src := int(p.Offset) + y*int(p.Stride)
		if src+row > len(mem) {
			return nil, fmt.Errorf("row %d beyond backing memory", y)
		}
		copy(out[y*stride:], mem[src:src+row])
	}
	bo.mapped = true
	c.mappings++
	return &mapping{bo: bo, data: out, stride: stride}, nil
}

func (bo *bufferObject) Destroy() error {
	c := bo.card
	c.mu.Lock()
	defer c.mu.Unlock()
	if bo.mapped {
		c.problem("buffer object destroyed while mapped")
	}
	delete(c.bos, bo)
	if c.Fail.Destroy {
		return ErrInjected
	}
	return nil
}

type mapping struct {
	bo     *bufferObject
	data   []byte
	stride int
}

func (m *mapping) Bytes() []byte { return m.data }
func (m *mapping) Stride() int   { return m.stride }

func (m *mapping) Unmap() error {
	c := m.bo.card
	c.mu.Lock()
	defer c.mu.Unlock()
	if !m.bo.mapped {
		c.problem("double unmap")
		return errors.New("not mapped")
	}
	m.bo.mapped = false
	c.mappings--
	return nil
}

var (
	_ bufimport.Exporter      = (*Card)(nil)
	_ bufimport.Mapper        = (*Card)(nil)
	_ bufimport.Syncer        = (*Card)(nil)
	_ bufimport.BufferObjects = (*Card)(nil)
)
