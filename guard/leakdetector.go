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

import (
	"fmt"
	"strings"
)

// LeakDetector flags handles opened during a window and never closed.
// StartLeakDetection bumps the session generation so every later Open is
// attributable to the window; Stop scans the open queue by generation.
type LeakDetector struct {
	s     *Session
	since int64
}

// LeakError lists the handles still open when a leak detection window
// closed.
type LeakError struct {
	Session string
	Handles []HandleInfo
}

func (e *LeakError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "handle-guard: session %s leaked %d handle(s):", e.Session, len(e.Handles))
	for _, h := range e.Handles {
		fmt.Fprintf(&b, "\n  handle %#x (underlying %#x, generation %d)",
			uint64(h.Handle), uint64(h.Underlying), h.Generation)
	}
	return b.String()
}

// StartLeakDetection opens a leak detection window on s.
func (s *Session) StartLeakDetection() *LeakDetector {
	ld := &LeakDetector{s: s, since: s.CurrentGeneration() + 1}
	s.BumpGeneration()
	return ld
}

// Stop closes the window. It returns a *LeakError when handles opened
// inside the window are still open, nil otherwise. The detector may be
// stopped repeatedly; each call re-scans.
func (ld *LeakDetector) Stop() error {
	leaked := ld.s.OpenHandles(ld.since)
	if len(leaked) == 0 {
		return nil
	}
	return &LeakError{Session: ld.s.ID(), Handles: leaked}
}
