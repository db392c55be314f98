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

// Handle is the client-facing capability token standing for an underlying
// handle. It encodes an arena slot index and a per-slot reuse salt, shifted
// left by one so the low-order tag bit is always 0. Handle 0 is the null
// handle. Clients must treat the value as opaque.
type Handle uint64

// Underlying is the raw capability from the wrapped system. The core never
// interprets it; it is only stored, compared, and passed through. Underlying
// 0 is the null value. In host systems that guarantee it, the low-order tag
// bit of a non-null Underlying is 1 (the opposite of Handle), which is
// checked only under explicit verification configuration.
type Underlying uint64

const (
	handleSaltBits = 32
	handleSaltMask = 1<<handleSaltBits - 1
	// The slot index must fit the bits left after the salt and the tag bit.
	handleMaxSlot = 1<<(64-handleSaltBits-1) - 1
)

// packHandle builds the external handle value for a slot and its salt.
// The salt starts at 1, so a packed handle is never 0.
func packHandle(slot int32, salt uint32) Handle {
	return Handle((uint64(uint32(slot))<<handleSaltBits | uint64(salt)) << 1)
}

// unpackHandle splits a non-null handle into slot index and salt.
// The tag bit must already have been checked.
func unpackHandle(h Handle) (slot int32, salt uint32) {
	v := uint64(h) >> 1
	return int32(v >> handleSaltBits), uint32(v & handleSaltMask)
}

// sanityCheckHandle asserts that h is well-formed as a wrapped handle.
// The null handle passes trivially. A set tag bit means the two handle
// spaces were mixed up inside the library, which is unrecoverable.
func sanityCheckHandle(h Handle) {
	if uint64(h)&1 != 0 {
		panic("guard: underlying handle used where a wrapped handle was expected")
	}
}

// Raw converts the handle to a uintptr for passing across boundaries where
// no domain semantics apply. Pair with HandleFromRaw.
func (h Handle) Raw() uintptr {
	return uintptr(h)
}

// IsNull reports whether h is the null handle.
func (h Handle) IsNull() bool { return h == 0 }

// HandleFromRaw is the inverse of Handle.Raw.
func HandleFromRaw(p uintptr) Handle {
	h := Handle(p)
	sanityCheckHandle(h)
	return h
}

// Raw converts the underlying handle to a uintptr for passing across
// boundaries where no domain semantics apply. Pair with UnderlyingFromRaw.
func (u Underlying) Raw() uintptr {
	return uintptr(u)
}

// IsNull reports whether u is the null value.
func (u Underlying) IsNull() bool { return u == 0 }

// UnderlyingFromRaw is the inverse of Underlying.Raw.
func UnderlyingFromRaw(p uintptr) Underlying {
	return Underlying(p)
}
