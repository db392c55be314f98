//go:build !linux

package memprot

import "github.com/srediag/handle-guard/api"

// Default returns the strongest protector available on this platform.
// Without page-level access revocation the heap variant is all we have.
func Default() api.Protector { return NewHeapProtector() }
