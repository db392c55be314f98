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

// Package guard implements an embeddable debug mode for handle-based
// foreign-object APIs: every opaque handle crossing the language boundary is
// wrapped in a tracked entity so that use-after-close, double-close, and
// stale-pointer bugs in client code fault deterministically instead of
// corrupting memory silently.
//
// A Session owns the entity arena, the open and closed handle queues, the
// generation counter, and the raw-data leak budget. Dispatch code unwraps
// every wrapped handle argument through Session.Unwrap, performs the real
// operation against the underlying capability, and wraps results with
// Session.Open. Closed entities are kept in a bounded FIFO so stale accesses
// stay detectable for a while; memory never grows past open count plus the
// configured closed-queue capacity.
//
// Example usage:
//
//	s, err := guard.NewSession(guard.DefaultConfig())
//	// ...
//	h := s.Open(underlying)
//	u := s.Unwrap(h) // faults if h was closed
//	s.Close(h)
//	_ = s.Destroy()
package guard
