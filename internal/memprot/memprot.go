// Package memprot contains the platform-specific memory protection backends
// behind api.Protector. The mmap backend (Linux) revokes access at page
// level; the heap backend is portable and releases copies at protect time.
package memprot

import (
	"errors"
	"os"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/handle-guard/api"
)

var (
	// ErrRegionReleased is returned when a region is protected or freed twice.
	ErrRegionReleased = errors.New("memprot: region already released")
	// ErrForeignRegion is returned when a region is handed to a protector
	// that did not create it.
	ErrForeignRegion = errors.New("memprot: region belongs to another protector")
)

// region backs api.Region for both protectors.
type region struct {
	data      []byte
	size      int
	footprint int

	buf    *bytebufferpool.ByteBuffer // heap backend only
	mapped []byte                     // mmap backend only, full mapping

	protected bool
	released  bool
}

func (r *region) Bytes() []byte {
	if r.protected || r.released {
		return nil
	}
	return r.data
}

func (r *region) Size() int { return r.size }

func (r *region) Footprint() int { return r.footprint }

// PageRound rounds size up to the next multiple of the system page size.
func PageRound(size int) int {
	page := os.Getpagesize()
	return (size + page - 1) / page * page
}

// HeapProtector is the no-protection variant: copies live on the Go heap in
// pooled buffers and are released as soon as Protect runs, since the runtime
// offers no way to revoke access to heap memory. Write protection is not
// enforceable and is ignored.
type HeapProtector struct{}

// NewHeapProtector returns the portable heap-backed protector.
func NewHeapProtector() *HeapProtector { return &HeapProtector{} }

func (p *HeapProtector) Copy(data []byte, writeProtect bool) (api.Region, error) {
	buf := bytebufferpool.Get()
	_, _ = buf.Write(data)
	return &region{
		data:      buf.B[:len(data)],
		size:      len(data),
		footprint: len(data),
		buf:       buf,
	}, nil
}

func (p *HeapProtector) Protect(r api.Region) (bool, error) {
	reg, ok := r.(*region)
	if !ok {
		return false, ErrForeignRegion
	}
	if reg.released {
		return false, ErrRegionReleased
	}
	if reg.buf == nil {
		return false, ErrForeignRegion
	}
	reg.protected = true
	reg.released = true
	bytebufferpool.Put(reg.buf)
	reg.buf = nil
	reg.data = nil
	return false, nil
}

func (p *HeapProtector) Free(r api.Region) error {
	reg, ok := r.(*region)
	if !ok {
		return ErrForeignRegion
	}
	if reg.released {
		// Protect already gave the buffer back.
		return nil
	}
	reg.released = true
	if reg.buf != nil {
		bytebufferpool.Put(reg.buf)
		reg.buf = nil
	}
	reg.data = nil
	return nil
}
