/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package guard

import "fmt"

// FaultKind classifies detected client misuse.
type FaultKind uint8

const (
	// FaultClosedHandle is an unwrap or attach through a closed handle.
	FaultClosedHandle FaultKind = iota
	// FaultStaleHandle is an access through a handle whose entity storage
	// was already reclaimed or never existed.
	FaultStaleHandle
	// FaultDoubleClose is a close of an already closed handle.
	FaultDoubleClose
	// FaultCloseCheck is a failed close-time invariant check.
	FaultCloseCheck
)

func (k FaultKind) String() string {
	switch k {
	case FaultClosedHandle:
		return "access to closed handle"
	case FaultStaleHandle:
		return "access to stale handle"
	case FaultDoubleClose:
		return "double close"
	case FaultCloseCheck:
		return "close check failed"
	}
	return "unknown fault"
}

// UsageFault reports client misuse of a handle: use-after-close, double
// close, or access through reclaimed storage. It is delivered to the
// session's OnInvalidAccess handler; the default handler logs it and panics
// with the fault so the embedding host can terminate or unwind the
// offending operation.
type UsageFault struct {
	Kind       FaultKind
	Session    string
	Handle     Handle
	Generation int64
	Detail     string
}

func (f *UsageFault) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("handle-guard: %s (session %s, handle %#x, generation %d): %s",
			f.Kind, f.Session, uint64(f.Handle), f.Generation, f.Detail)
	}
	return fmt.Sprintf("handle-guard: %s (session %s, handle %#x, generation %d)",
		f.Kind, f.Session, uint64(f.Handle), f.Generation)
}
