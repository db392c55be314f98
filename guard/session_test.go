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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/handle-guard/api"
	"github.com/srediag/handle-guard/internal/memprot"
)

// faultRecorder replaces the default panicking handler so tests can assert
// on the fault stream.
type faultRecorder struct {
	faults []*UsageFault
}

func (r *faultRecorder) handle(f *UsageFault) {
	r.faults = append(r.faults, f)
}

func (r *faultRecorder) kinds() []FaultKind {
	out := make([]FaultKind, 0, len(r.faults))
	for _, f := range r.faults {
		out = append(out, f.Kind)
	}
	return out
}

func testSession(t *testing.T, capacity int) (*Session, *faultRecorder) {
	t.Helper()
	rec := &faultRecorder{}
	conf := DefaultConfig()
	conf.Name = fmt.Sprintf("%s-session", t.Name())
	conf.ClosedQueueCapacity = capacity
	conf.Protector = memprot.NewHeapProtector()
	conf.OnInvalidAccess = rec.handle
	s, err := NewSession(conf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = s.Destroy()
	})
	return s, rec
}

type SessionTestSuite struct {
	suite.Suite
}

func (s *SessionTestSuite) TestOpenCloseBookkeeping() {
	session, rec := testSession(s.T(), 1024)

	var handles []Handle
	for i := 0; i < 10; i++ {
		handles = append(handles, session.Open(Underlying(0x1001+2*i)))
	}
	st := session.Stats()
	s.Require().Equal(10, st.OpenHandles)
	s.Require().Equal(0, st.ClosedHandles)

	for _, h := range handles[:4] {
		session.Close(h)
	}
	st = session.Stats()
	s.Require().Equal(6, st.OpenHandles)
	s.Require().Equal(4, st.ClosedHandles)

	// open + closed == created - freed, for every prefix of operations.
	s.Require().Equal(st.Created-st.Freed, uint64(st.OpenHandles+st.ClosedHandles))
	s.Require().Empty(rec.faults)
}

func (s *SessionTestSuite) TestUnwrapReferentialStability() {
	session, rec := testSession(s.T(), 1024)

	h := session.Open(Underlying(0xABC1))
	first := session.Unwrap(h)
	for i := 0; i < 100; i++ {
		s.Require().Equal(first, session.Unwrap(h))
	}
	s.Require().Equal(Underlying(0xABC1), first)
	s.Require().Empty(rec.faults)
}

func (s *SessionTestSuite) TestDoubleOpenIndependence() {
	session, rec := testSession(s.T(), 1024)

	u := Underlying(0x5001)
	h1 := session.Open(u)
	h2 := session.Open(u)
	s.Require().NotEqual(h1, h2, "wrapping is not idempotent")

	session.Close(h1)
	s.Require().Equal(u, session.Unwrap(h2), "closing one wrapping must not affect the other")
	s.Require().Empty(rec.faults)

	session.Close(h2)
	s.Require().Empty(rec.faults)
}

func (s *SessionTestSuite) TestUnwrapClosedHandleFaults() {
	session, rec := testSession(s.T(), 1024)

	h := session.Open(Underlying(0x7001))
	session.Close(h)

	s.Require().Equal(Underlying(0), session.Unwrap(h))
	s.Require().Equal([]FaultKind{FaultClosedHandle}, rec.kinds())

	// Never a stale value, on every retry.
	s.Require().Equal(Underlying(0), session.Unwrap(h))
	s.Require().Len(rec.faults, 2)
}

func (s *SessionTestSuite) TestDoubleCloseFaults() {
	session, rec := testSession(s.T(), 1024)

	h := session.Open(Underlying(0x7101))
	session.Close(h)
	session.Close(h)
	s.Require().Equal([]FaultKind{FaultDoubleClose}, rec.kinds())
}

func (s *SessionTestSuite) TestNullHandleIsNoOp() {
	session, rec := testSession(s.T(), 1024)

	s.Require().Equal(Underlying(0), session.Unwrap(0))
	session.Close(0)
	session.CloseAndCheck(0)
	s.Require().Empty(rec.faults)
}

// The capacity-2 scenario: Close C evicts A (least recently closed), and
// all three handles keep faulting without crashing.
func (s *SessionTestSuite) TestClosedQueueEviction() {
	session, rec := testSession(s.T(), 2)

	a := session.Open(Underlying(0x11))
	b := session.Open(Underlying(0x13))
	c := session.Open(Underlying(0x15))

	session.Close(a)
	session.Close(b)
	st := session.Stats()
	s.Require().Equal(2, st.ClosedHandles)
	s.Require().Equal(uint64(0), st.Freed)

	session.Close(c)
	st = session.Stats()
	s.Require().Equal(2, st.ClosedHandles, "capacity still enforced")
	s.Require().Equal(uint64(1), st.Freed, "exactly one free per overflowing close")

	s.Require().Equal(Underlying(0), session.Unwrap(a))
	s.Require().Equal(Underlying(0), session.Unwrap(b))
	s.Require().Equal(Underlying(0), session.Unwrap(c))
	s.Require().Equal([]FaultKind{FaultStaleHandle, FaultClosedHandle, FaultClosedHandle}, rec.kinds())
}

// FIFO eviction verified by creation-order tracking independent of the
// manager's internal order.
func (s *SessionTestSuite) TestEvictionIsLeastRecentlyClosed() {
	session, _ := testSession(s.T(), 3)

	var handles []Handle
	for i := 0; i < 8; i++ {
		handles = append(handles, session.Open(Underlying(0x21+2*i)))
	}
	// Close in reverse creation order; eviction must follow close order.
	for i := len(handles) - 1; i >= 0; i-- {
		session.Close(handles[i])
	}
	st := session.Stats()
	s.Require().Equal(3, st.ClosedHandles)
	s.Require().Equal(uint64(5), st.Freed)

	// Survivors are the last three closed, which are the first three created.
	infos := session.ClosedHandles(0)
	s.Require().Len(infos, 3)
	survivors := map[Underlying]bool{}
	for _, info := range infos {
		survivors[info.Underlying] = true
	}
	for i := 0; i < 3; i++ {
		s.Require().True(survivors[Underlying(0x21+2*i)])
	}
}

func (s *SessionTestSuite) TestOpenRecyclesOldestClosedSlot() {
	session, rec := testSession(s.T(), 2)

	a := session.Open(Underlying(0x31))
	b := session.Open(Underlying(0x33))
	session.Close(a)
	session.Close(b)

	before := session.Stats()
	s.Require().Equal(uint64(2), before.Created)

	// Closed queue is at capacity: this Open reuses A's storage in place.
	c := session.Open(Underlying(0x35))
	after := session.Stats()
	s.Require().Equal(before.Created, after.Created, "no fresh allocation")
	s.Require().Equal(1, after.ClosedHandles)
	s.Require().Equal(Underlying(0x35), session.Unwrap(c))

	// A's storage was reused, so A is stale now, not merely closed.
	s.Require().Equal(Underlying(0), session.Unwrap(a))
	s.Require().Equal([]FaultKind{FaultStaleHandle}, rec.kinds())
}

func (s *SessionTestSuite) TestCloseAndCheckReportsAndStillCloses() {
	rec := &faultRecorder{}
	conf := DefaultConfig()
	conf.ClosedQueueCapacity = 16
	conf.Protector = memprot.NewHeapProtector()
	conf.OnInvalidAccess = rec.handle
	conf.OnCloseCheck = func(u Underlying) error {
		if u == Underlying(0x41) {
			return fmt.Errorf("reference count is not 1")
		}
		return nil
	}
	session, err := NewSession(conf)
	s.Require().Nil(err)
	defer func() {
		_ = session.Destroy()
	}()

	bad := session.Open(Underlying(0x41))
	good := session.Open(Underlying(0x43))

	session.CloseAndCheck(good)
	s.Require().Empty(rec.faults)

	session.CloseAndCheck(bad)
	s.Require().Equal([]FaultKind{FaultCloseCheck}, rec.kinds())
	// The entity still ended up closed.
	s.Require().Equal(Underlying(0), session.Unwrap(bad))
	s.Require().Equal([]FaultKind{FaultCloseCheck, FaultClosedHandle}, rec.kinds())
}

func (s *SessionTestSuite) TestGenerationStamping() {
	session, _ := testSession(s.T(), 1024)

	h0 := session.Open(Underlying(0x51))
	session.BumpGeneration()
	h1 := session.Open(Underlying(0x53))
	session.BumpGeneration()
	h2 := session.Open(Underlying(0x55))

	s.Require().Equal(int64(0), session.Generation(h0))
	s.Require().Equal(int64(1), session.Generation(h1))
	s.Require().Equal(int64(2), session.Generation(h2))

	// Scanning filters by generation, not queue position.
	infos := session.OpenHandles(1)
	s.Require().Len(infos, 2)
	s.Require().Equal(Underlying(0x53), infos[0].Underlying)
	s.Require().Equal(Underlying(0x55), infos[1].Underlying)
}

func (s *SessionTestSuite) TestDestroyedSessionRefusesWork() {
	session, rec := testSession(s.T(), 1024)
	h := session.Open(Underlying(0x61))

	s.Require().Nil(session.Destroy())
	s.Require().Equal(ErrSessionDestroyed, session.Destroy())

	s.Require().Equal(Handle(0), session.Open(Underlying(0x63)))
	s.Require().Equal(Underlying(0), session.Unwrap(h))
	session.Close(h)
	s.Require().Empty(rec.faults, "destroyed session work is refused, not faulted")
}

func (s *SessionTestSuite) TestDefaultFaultHandlerPanics() {
	conf := DefaultConfig()
	conf.Protector = memprot.NewHeapProtector()
	session, err := NewSession(conf)
	s.Require().Nil(err)
	defer func() {
		_ = session.Destroy()
	}()

	h := session.Open(Underlying(0x71))
	session.Close(h)

	defer func() {
		f, ok := recover().(*UsageFault)
		s.Require().True(ok, "panic value is the usage fault")
		s.Require().Equal(FaultClosedHandle, f.Kind)
		s.Require().Equal(h, f.Handle)
	}()
	session.Unwrap(h)
}

func (s *SessionTestSuite) TestObserverEventStream() {
	session, _ := testSession(s.T(), 1)

	var events []api.Event
	obs := observerFunc(func(e api.Event) { events = append(events, e) })
	session.Subscribe(obs)

	a := session.Open(Underlying(0x81))
	b := session.Open(Underlying(0x83))
	session.Close(a)
	session.Close(b) // evicts a

	types := make([]api.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	s.Require().Equal([]api.EventType{
		api.EventOpened,
		api.EventOpened,
		api.EventClosed,
		api.EventClosed,
		api.EventFreed,
	}, types)

	session.Unsubscribe(obs)
	session.Open(Underlying(0x85))
	s.Require().Len(events, 5, "no events after unsubscribe")
}

type observerFunc func(api.Event)

func (f observerFunc) OnHandleEvent(e api.Event) { f(e) }

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func TestHandleInfoSnapshotOrder(t *testing.T) {
	session, _ := testSession(t, 1024)

	for i := 0; i < 5; i++ {
		session.Open(Underlying(0x91 + 2*i))
		session.BumpGeneration()
	}
	infos := session.OpenHandles(0)
	assert.Equal(t, 5, len(infos))
	for i := 1; i < len(infos); i++ {
		assert.Less(t, infos[i-1].Generation, infos[i].Generation, "open queue is creation ordered")
	}
}
