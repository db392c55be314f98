package memprot

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srediag/handle-guard/api"
)

func TestPageRound(t *testing.T) {
	page := os.Getpagesize()
	assert.Equal(t, 0, PageRound(0))
	assert.Equal(t, page, PageRound(1))
	assert.Equal(t, page, PageRound(page))
	assert.Equal(t, 2*page, PageRound(page+1))
}

func TestHeapProtectorCopySemantics(t *testing.T) {
	p := NewHeapProtector()

	data := []byte("hello world")
	r, err := p.Copy(data, false)
	assert.Equal(t, nil, err)
	assert.Equal(t, data, r.Bytes())
	assert.Equal(t, len(data), r.Size())
	assert.Equal(t, len(data), r.Footprint())

	// The copy never aliases caller memory.
	data[0] = 'X'
	assert.Equal(t, byte('h'), r.Bytes()[0])

	retained, err := p.Protect(r)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, retained, "heap backend cannot revoke access")
	assert.Nil(t, r.Bytes())

	assert.Equal(t, nil, p.Free(r), "free after unretained protect is a no-op")
}

func TestHeapProtectorFreeWithoutProtect(t *testing.T) {
	p := NewHeapProtector()
	r, err := p.Copy([]byte("short lived"), false)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, p.Free(r))
	assert.Nil(t, r.Bytes())

	_, err = p.Protect(r)
	assert.Equal(t, ErrRegionReleased, err)
}

func TestHeapProtectorRejectsForeignRegions(t *testing.T) {
	p := NewHeapProtector()
	_, err := p.Protect(fakeRegion{})
	assert.Equal(t, ErrForeignRegion, err)
	assert.Equal(t, ErrForeignRegion, p.Free(fakeRegion{}))
}

type fakeRegion struct{}

func (fakeRegion) Bytes() []byte  { return nil }
func (fakeRegion) Size() int      { return 0 }
func (fakeRegion) Footprint() int { return 0 }

func TestMmapProtectorLifecycle(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("mmap backend is linux only")
	}
	p := Default()

	data := []byte("page protected payload")
	r, err := p.Copy(data, false)
	assert.Equal(t, nil, err)
	assert.Equal(t, data, r.Bytes())
	assert.Equal(t, len(data), r.Size())
	assert.Equal(t, PageRound(len(data)), r.Footprint(), "footprint is page rounded")

	retained, err := p.Protect(r)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, retained, "mmap backend retains until Free")
	assert.Nil(t, r.Bytes(), "no access to protected data")

	assert.Equal(t, nil, p.Free(r))
	assert.Equal(t, nil, p.Free(r), "double free is tolerated")
}

func TestMmapProtectorWriteProtect(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("mmap backend is linux only")
	}
	p := Default()

	r, err := p.Copy([]byte("read only copy"), true)
	assert.Equal(t, nil, err)
	assert.Equal(t, "read only copy", string(r.Bytes()))
	// Writing r.Bytes() here would SIGSEGV; reading is the supported path.
	assert.Equal(t, nil, p.Free(r))
}

func TestMmapProtectorEmptyData(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("mmap backend is linux only")
	}
	p := Default()

	r, err := p.Copy(nil, false)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, r.Size())
	assert.Equal(t, PageRound(1), r.Footprint(), "a mapping is never smaller than a page")
	assert.Equal(t, nil, p.Free(r))
}

// Both backends must agree on everything the budget bookkeeping observes;
// they may differ only in whether Protect retains.
func TestBackendBookkeepingParity(t *testing.T) {
	backends := []api.Protector{NewHeapProtector()}
	if runtime.GOOS == "linux" {
		backends = append(backends, Default())
	}
	for _, p := range backends {
		data := []byte("parity check data")
		r, err := p.Copy(data, false)
		assert.Equal(t, nil, err)
		assert.Equal(t, len(data), r.Size())
		assert.GreaterOrEqual(t, r.Footprint(), r.Size())

		retained, err := p.Protect(r)
		assert.Equal(t, nil, err)
		assert.Nil(t, r.Bytes())
		if retained {
			assert.Equal(t, nil, p.Free(r))
		}
	}
}
