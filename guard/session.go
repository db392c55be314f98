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
	"sync"

	"github.com/google/uuid"

	"github.com/srediag/handle-guard/api"
	"github.com/srediag/handle-guard/internal/memprot"
)

// Session is one debug handle lifecycle manager: the entity arena, the open
// and closed queues, the generation counter, and the raw-data leak budget.
// A session assumes one logical mutator at a time; a single mutex guards all
// state, and no finer-grained locking exists.
//
// Sessions never share entities. Create one per embedded context and tear it
// down with Destroy.
type Session struct {
	mu   sync.Mutex
	conf *Config
	id   string

	arena  entityArena
	open   handleQueue
	closed handleQueue

	generation  int64
	leakedBytes int

	created         uint64
	freed           uint64
	reclaimFailures uint64

	protector api.Protector
	onInvalid func(*UsageFault)
	observers []api.Observer

	destroyed bool
}

// HandleInfo is a point-in-time snapshot of one entity, used by the
// introspection queries and the leak detector.
type HandleInfo struct {
	Handle     Handle
	Underlying Underlying
	Generation int64
}

// SessionStats is a point-in-time snapshot of session counters.
type SessionStats struct {
	ID                  string
	OpenHandles         int
	ClosedHandles       int
	ClosedQueueCapacity int
	Created             uint64
	Freed               uint64
	Generation          int64
	LeakedBytes         int
	LeakBudget          int
	ReclaimFailures     uint64
}

// NewSession creates a session from conf. A nil conf selects DefaultConfig.
func NewSession(conf *Config) (*Session, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, fmt.Errorf("verify config failed, %w", err)
	}
	s := &Session{
		conf:      conf,
		id:        conf.Name,
		protector: conf.Protector,
		onInvalid: conf.OnInvalidAccess,
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.protector == nil {
		s.protector = memprot.Default()
	}
	if s.onInvalid == nil {
		s.onInvalid = defaultInvalidAccess
	}
	s.open = newHandleQueue(&s.arena, queueOpen)
	s.closed = newHandleQueue(&s.arena, queueClosed)
	internalLogger.infof("session %s created, closed queue capacity %d, leak budget %d",
		s.id, conf.ClosedQueueCapacity, conf.LeakBudget)
	return s, nil
}

// ID returns the session identifier used in logs and events.
func (s *Session) ID() string { return s.id }

// Subscribe registers an observer for lifecycle events. Observers run
// synchronously on the mutating goroutine and must not call back into the
// session.
func (s *Session) Subscribe(o api.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Unsubscribe removes a previously registered observer.
func (s *Session) Unsubscribe(o api.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, obs := range s.observers {
		if obs == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// Open wraps an underlying handle in a fresh entity and returns its wrapped
// handle. Wrapping is not idempotent: opening the same underlying twice
// yields two independent entities that must be closed independently.
//
// When the closed queue is at capacity, the oldest closed entity's storage
// is reused in place, keeping live allocations bounded by open count plus
// closed-queue capacity.
func (s *Session) Open(u Underlying) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		internalLogger.warnf("session %s: Open after Destroy", s.id)
		return 0
	}
	s.sanityCheckUnderlying(u)

	var idx int32
	recycled := false
	if s.conf.ClosedQueueCapacity > 0 && s.closed.size >= s.conf.ClosedQueueCapacity {
		idx = s.closed.popFront()
		gaugeClosedHandles.Dec()
		e := s.arena.at(idx)
		s.reclaimLocked(idx, e)
		// Invalidate every wrapped handle still referring to this slot.
		e.salt++
		recycled = true
	} else {
		idx = s.arena.alloc()
		s.created++
	}

	e := s.arena.at(idx)
	e.underlying = u
	e.generation = s.generation
	e.closed = false
	e.rawData = nil
	s.open.append(idx)

	h := packHandle(idx, e.salt)
	metricOpened.Inc()
	gaugeOpenHandles.Inc()
	if recycled {
		metricRecycled.Inc()
		s.notifyLocked(api.EventRecycled, h, e, "")
	}
	s.notifyLocked(api.EventOpened, h, e, "")
	return h
}

// Unwrap returns the underlying handle behind h. The null handle maps to
// the null underlying. Unwrapping a closed or stale handle triggers the
// invalid-access fault path and returns the null underlying if the fault
// handler returns. Repeated unwraps of the same open handle always return
// the identical underlying value.
func (s *Session) Unwrap(h Handle) Underlying {
	if h.IsNull() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		internalLogger.warnf("session %s: Unwrap after Destroy", s.id)
		return 0
	}
	e, _ := s.resolveLocked(h)
	if e == nil {
		return 0
	}
	if e.closed {
		s.faultLocked(FaultClosedHandle, h, e.generation, "")
		return 0
	}
	return e.underlying
}

// Close transitions h from the open to the closed queue. The null handle is
// a no-op. Closing a handle that is not currently open (double close,
// foreign or stale handle) is itself a detectable usage fault.
func (s *Session) Close(h Handle) {
	s.closeHandle(h, false)
}

// CloseAndCheck is Close plus the configured close-time invariant check,
// run against the underlying value before the close. A check failure is
// reported as a usage fault and the close still proceeds, so the entity
// always ends up closed.
func (s *Session) CloseAndCheck(h Handle) {
	s.closeHandle(h, true)
}

func (s *Session) closeHandle(h Handle, check bool) {
	if h.IsNull() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		internalLogger.warnf("session %s: Close after Destroy", s.id)
		return
	}
	e, idx := s.resolveLocked(h)
	if e == nil {
		return
	}
	if e.closed {
		s.faultLocked(FaultDoubleClose, h, e.generation, "")
		return
	}
	if check && s.conf.OnCloseCheck != nil {
		if err := s.conf.OnCloseCheck(e.underlying); err != nil {
			s.faultLocked(FaultCloseCheck, h, e.generation, err.Error())
		}
	}

	s.open.remove(idx)
	e.closed = true
	s.protectLocked(h, e)
	s.closed.append(idx)

	metricClosed.Inc()
	gaugeOpenHandles.Dec()
	gaugeClosedHandles.Inc()
	s.notifyLocked(api.EventClosed, h, e, "")

	for s.closed.size > s.conf.ClosedQueueCapacity {
		s.freeLocked(s.closed.popFront())
		gaugeClosedHandles.Dec()
	}
}

// freeLocked releases an entity already severed from its queue: raw data is
// reclaimed and the slot storage returns to the arena free list.
func (s *Session) freeLocked(idx int32) {
	e := s.arena.at(idx)
	h := packHandle(idx, e.salt)
	s.reclaimLocked(idx, e)
	s.notifyLocked(api.EventFreed, h, e, "")
	s.arena.release(idx)
	s.freed++
	metricFreed.Inc()
}

// resolveLocked maps a non-null wrapped handle to its entity. Stale handles
// (reclaimed slot, salt mismatch, out-of-range slot) take the fault path
// and resolve to nil.
func (s *Session) resolveLocked(h Handle) (*entity, int32) {
	sanityCheckHandle(h)
	slot, salt := unpackHandle(h)
	if slot < 0 || int(slot) >= len(s.arena.slots) {
		s.faultLocked(FaultStaleHandle, h, 0, "slot out of range")
		return nil, nilSlot
	}
	e := s.arena.at(slot)
	if !e.inUse || e.salt != salt {
		s.faultLocked(FaultStaleHandle, h, 0, "entity storage was reclaimed")
		return nil, nilSlot
	}
	return e, slot
}

func (s *Session) faultLocked(kind FaultKind, h Handle, generation int64, detail string) {
	f := &UsageFault{
		Kind:       kind,
		Session:    s.id,
		Handle:     h,
		Generation: generation,
		Detail:     detail,
	}
	metricUsageFaults.Inc()
	s.notifyLocked(api.EventFault, h, nil, f.Kind.String())
	s.onInvalid(f)
}

func defaultInvalidAccess(f *UsageFault) {
	internalLogger.errorf("%s", f.Error())
	panic(f)
}

// sanityCheckUnderlying asserts the best-effort tag-bit encoding of the
// underlying handle space. Disabled unless explicitly configured, because
// only specific host backends guarantee the encoding.
func (s *Session) sanityCheckUnderlying(u Underlying) {
	if !s.conf.CheckUnderlyingTag {
		return
	}
	if !u.IsNull() && uint64(u)&1 == 0 {
		panic("guard: wrapped handle used where an underlying handle was expected")
	}
}

func (s *Session) notifyLocked(t api.EventType, h Handle, e *entity, detail string) {
	if len(s.observers) == 0 {
		return
	}
	ev := api.Event{
		Type:    t,
		Session: s.id,
		Handle:  uint64(h),
		Detail:  detail,
	}
	if e != nil {
		ev.Underlying = uint64(e.underlying)
		ev.Generation = e.generation
	}
	for _, o := range s.observers {
		o.OnHandleEvent(ev)
	}
}

// BumpGeneration increments the session generation counter and returns the
// new value. The embedding system calls this between logical operations;
// the core itself only reads the counter at Open time.
func (s *Session) BumpGeneration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

// CurrentGeneration returns the generation that the next Open will stamp.
func (s *Session) CurrentGeneration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Generation returns the creation-time generation stamped on h.
func (s *Session) Generation(h Handle) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := s.resolveLocked(h)
	if e == nil {
		return 0
	}
	return e.generation
}

// OpenHandles returns the still-open handles stamped with generation >=
// since, in creation order. Queue order is creation order for the open
// queue, but the scan filters by generation regardless.
func (s *Session) OpenHandles(since int64) []HandleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return collectHandles(&s.open, since)
}

// ClosedHandles returns the closed-but-not-freed handles stamped with
// generation >= since. The closed queue is ordered by close time, not
// creation time, so the scan filters by generation.
func (s *Session) ClosedHandles(since int64) []HandleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return collectHandles(&s.closed, since)
}

func collectHandles(q *handleQueue, since int64) []HandleInfo {
	var out []HandleInfo
	q.each(func(idx int32, e *entity) bool {
		if e.generation >= since {
			out = append(out, HandleInfo{
				Handle:     packHandle(idx, e.salt),
				Underlying: e.underlying,
				Generation: e.generation,
			})
		}
		return true
	})
	return out
}

// LeakedBytes returns the bytes of raw data currently protected but not
// reclaimed.
func (s *Session) LeakedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leakedBytes
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		ID:                  s.id,
		OpenHandles:         s.open.size,
		ClosedHandles:       s.closed.size,
		ClosedQueueCapacity: s.conf.ClosedQueueCapacity,
		Created:             s.created,
		Freed:               s.freed,
		Generation:          s.generation,
		LeakedBytes:         s.leakedBytes,
		LeakBudget:          s.conf.LeakBudget,
		ReclaimFailures:     s.reclaimFailures,
	}
}

// Destroy tears the session down: every entity in both queues is freed and
// its raw data reclaimed. Handles from this session must not be used
// afterwards. Open handles at destroy time are a client leak and are logged.
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return ErrSessionDestroyed
	}
	if s.open.size > 0 {
		internalLogger.warnf("session %s destroyed with %d handles still open", s.id, s.open.size)
	}
	for idx := s.open.popFront(); idx != nilSlot; idx = s.open.popFront() {
		s.freeLocked(idx)
		gaugeOpenHandles.Dec()
	}
	for idx := s.closed.popFront(); idx != nilSlot; idx = s.closed.popFront() {
		s.freeLocked(idx)
		gaugeClosedHandles.Dec()
	}
	s.destroyed = true
	internalLogger.infof("session %s destroyed, %d reclaim failures, %d bytes still leaked",
		s.id, s.reclaimFailures, s.leakedBytes)
	return nil
}
