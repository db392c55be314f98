//go:build linux

package memprot

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sys/unix"

	"github.com/srediag/handle-guard/api"
)

// MmapProtector copies raw data into anonymous page-granular mappings so
// that Protect can revoke access with mprotect(PROT_NONE). A use after
// protection faults immediately instead of reading stale bytes.
type MmapProtector struct{}

// NewMmapProtector returns the mmap-backed protector.
func NewMmapProtector() *MmapProtector { return &MmapProtector{} }

// canMapAnonymous reports whether size bytes of anonymous memory can be
// mapped without exhausting available memory. Best effort: probing failures
// never block the copy.
func canMapAnonymous(size int) bool {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return true
	}
	return uint64(size) <= vm.Available
}

func (p *MmapProtector) Copy(data []byte, writeProtect bool) (api.Region, error) {
	rounded := PageRound(len(data))
	if rounded == 0 {
		rounded = PageRound(1)
	}
	if !canMapAnonymous(rounded) {
		return nil, fmt.Errorf("memprot: no headroom for %d byte mapping", rounded)
	}
	mapped, err := unix.Mmap(-1, 0, rounded,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("memprot: mmap: %w", err)
	}
	copy(mapped, data)
	if writeProtect {
		if err := unix.Mprotect(mapped, unix.PROT_READ); err != nil {
			_ = unix.Munmap(mapped)
			return nil, fmt.Errorf("memprot: mprotect read-only: %w", err)
		}
	}
	return &region{
		data:      mapped[:len(data)],
		size:      len(data),
		footprint: rounded,
		mapped:    mapped,
	}, nil
}

func (p *MmapProtector) Protect(r api.Region) (bool, error) {
	reg, ok := r.(*region)
	if !ok {
		return false, ErrForeignRegion
	}
	if reg.released {
		return false, ErrRegionReleased
	}
	if reg.mapped == nil {
		return false, ErrForeignRegion
	}
	if err := unix.Mprotect(reg.mapped, unix.PROT_NONE); err != nil {
		// Cannot revoke access; release instead of handing out a live copy.
		reg.released = true
		mapped := reg.mapped
		reg.mapped = nil
		reg.data = nil
		if uerr := unix.Munmap(mapped); uerr != nil {
			return false, fmt.Errorf("memprot: munmap after failed mprotect: %w", uerr)
		}
		return false, fmt.Errorf("memprot: mprotect none: %w", err)
	}
	reg.protected = true
	reg.data = nil
	return true, nil
}

func (p *MmapProtector) Free(r api.Region) error {
	reg, ok := r.(*region)
	if !ok {
		return ErrForeignRegion
	}
	if reg.released {
		return nil
	}
	reg.released = true
	mapped := reg.mapped
	reg.mapped = nil
	reg.data = nil
	if mapped == nil {
		return nil
	}
	if err := unix.Munmap(mapped); err != nil {
		return fmt.Errorf("memprot: munmap: %w", err)
	}
	return nil
}

// Default returns the strongest protector available on this platform.
func Default() api.Protector { return NewMmapProtector() }
