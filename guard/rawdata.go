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

// AttachRawData copies data into a protected region owned by the entity
// behind h and returns the copy. The returned slice is the pointer meant to
// be handed to clients: its validity ends with the handle, and depending on
// the protector backend a use after close faults at access time.
//
// The copy never aliases data. Its accounted footprint (possibly rounded up
// to page granularity) is added to the session leaked-byte total. Attaching
// to a handle that already carries raw data replaces the old copy.
func (s *Session) AttachRawData(h Handle, data []byte, writeProtect bool) ([]byte, error) {
	if h.IsNull() {
		return nil, fmt.Errorf("attach raw data to null handle")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, ErrSessionDestroyed
	}
	e, slot := s.resolveLocked(h)
	if e == nil {
		return nil, fmt.Errorf("%w: stale handle", ErrRawDataCopy)
	}
	if e.closed {
		s.faultLocked(FaultClosedHandle, h, e.generation, "attach raw data")
		return nil, fmt.Errorf("%w: closed handle", ErrRawDataCopy)
	}
	if e.rawData != nil {
		s.reclaimLocked(slot, e)
	}
	region, err := s.protector.Copy(data, writeProtect)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRawDataCopy, err)
	}
	e.rawData = region
	s.leakedBytes += region.Footprint()
	gaugeLeakedBytes.Add(float64(region.Footprint()))
	return region.Bytes(), nil
}

// protectLocked runs the protect step when an entity closes. Under leak
// budget pressure the copy is reclaimed immediately instead of retained:
// bounded worst-case memory wins over use-after-close detectability for
// this particular handle.
func (s *Session) protectLocked(h Handle, e *entity) {
	if e.rawData == nil {
		return
	}
	if s.leakedBytes > s.conf.LeakBudget {
		internalLogger.debugf("session %s: leak budget exceeded (%d > %d), reclaiming handle %#x raw data now",
			s.id, s.leakedBytes, s.conf.LeakBudget, uint64(h))
		s.reclaimLocked(nilSlot, e)
		return
	}
	retained, err := s.protector.Protect(e.rawData)
	if err != nil {
		internalLogger.warnf("session %s: protect raw data of handle %#x: %v", s.id, uint64(h), err)
	}
	if !retained {
		// The backend released the copy; account for it right away.
		s.leakedBytes -= e.rawData.Footprint()
		gaugeLeakedBytes.Sub(float64(e.rawData.Footprint()))
		e.rawData = nil
	}
}

// reclaimLocked runs the reclaim step when an entity is freed or its raw
// data is replaced. A reclaim failure is a diagnosed leak, never an abort:
// the byte total stays elevated for the rest of the session.
func (s *Session) reclaimLocked(slot int32, e *entity) {
	if e.rawData == nil {
		return
	}
	if err := s.protector.Free(e.rawData); err != nil {
		s.reclaimFailures++
		metricReclaimFailures.Inc()
		internalLogger.warnf("session %s: reclaim raw data of slot %d failed, %d bytes leaked: %v",
			s.id, slot, e.rawData.Footprint(), err)
		e.rawData = nil
		return
	}
	s.leakedBytes -= e.rawData.Footprint()
	gaugeLeakedBytes.Sub(float64(e.rawData.Footprint()))
	e.rawData = nil
}
