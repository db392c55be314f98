// Package api defines the public contracts shared by the handle-guard core
// and its adapters: memory-protection backends, lifecycle event observers,
// and audit sinks.
package api

// Region is an owned copy of raw data whose accessibility is managed by a
// Protector. The accounted footprint may be larger than the logical size
// when the backend rounds allocations up (e.g. to page granularity).
type Region interface {
	// Bytes returns the copied data, or nil once the region has been
	// protected or released.
	Bytes() []byte

	// Size returns the logical size of the copied data.
	Size() int

	// Footprint returns the number of bytes accounted against the leak
	// budget for this region.
	Footprint() int
}

// Protector abstracts the platform mechanism used to revoke access to raw
// data once its owning handle is closed.
//
// Backends differ only in detection strength: a backend that cannot revoke
// access reports retained=false from Protect and releases the copy
// immediately, so budget bookkeeping stays identical across backends.
type Protector interface {
	// Copy makes an owned copy of data, optionally write-protected.
	// The copy never aliases caller memory.
	Copy(data []byte, writeProtect bool) (Region, error)

	// Protect makes a previously copied region inaccessible for both reads
	// and writes. It returns retained=true if the region still occupies
	// memory and must later be released with Free. If the backend cannot
	// enforce protection it releases the region and returns retained=false.
	Protect(r Region) (retained bool, err error)

	// Free releases whatever resources Protect retained. A non-nil error
	// denotes a leak, not a correctness violation.
	Free(r Region) error
}
