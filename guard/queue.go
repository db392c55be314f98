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
	"github.com/srediag/handle-guard/api"
)

const nilSlot = int32(-1)

// queueID identifies which queue an entity currently belongs to.
type queueID uint8

const (
	queueNone queueID = iota
	queueOpen
	queueClosed
)

func (id queueID) String() string {
	switch id {
	case queueOpen:
		return "open"
	case queueClosed:
		return "closed"
	}
	return "none"
}

// entity is the lifecycle record backing one wrapped handle. Entities live
// in the session arena and link into queues by slot index, never by Go
// pointer, so slot reuse can never dangle.
type entity struct {
	underlying Underlying
	generation int64
	closed     bool

	// Owned copy of any raw data scoped to the handle's lifetime.
	rawData api.Region

	prev, next int32
	queue      queueID
	salt       uint32
	inUse      bool
}

// entityArena owns entity storage. Slots are stable; a freed slot goes on
// the free list and its salt is bumped so stale handles to it are
// detectable instead of aliasing the next occupant.
type entityArena struct {
	slots []entity
	free  []int32
}

func (a *entityArena) alloc() int32 {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx].inUse = true
		return idx
	}
	if len(a.slots) > handleMaxSlot {
		panic("guard: entity arena exhausted")
	}
	a.slots = append(a.slots, entity{salt: 1, inUse: true, prev: nilSlot, next: nilSlot})
	return int32(len(a.slots) - 1)
}

func (a *entityArena) release(idx int32) {
	e := a.at(idx)
	if e.queue != queueNone {
		panic("guard: releasing entity still linked into the " + e.queue.String() + " queue")
	}
	e.salt++
	e.inUse = false
	e.underlying = 0
	e.rawData = nil
	a.free = append(a.free, idx)
}

func (a *entityArena) at(idx int32) *entity {
	return &a.slots[idx]
}

// live returns the number of in-use slots.
func (a *entityArena) live() int {
	return len(a.slots) - len(a.free)
}

// handleQueue is an intrusive doubly linked FIFO over arena slots with O(1)
// append, pop-front, and removal of a known member. Size is tracked
// incrementally.
type handleQueue struct {
	arena      *entityArena
	id         queueID
	head, tail int32
	size       int
}

func newHandleQueue(arena *entityArena, id queueID) handleQueue {
	return handleQueue{arena: arena, id: id, head: nilSlot, tail: nilSlot}
}

func (q *handleQueue) append(idx int32) {
	e := q.arena.at(idx)
	if e.queue != queueNone {
		panic("guard: entity already belongs to the " + e.queue.String() + " queue")
	}
	e.queue = q.id
	e.prev = q.tail
	e.next = nilSlot
	if q.tail == nilSlot {
		q.head = idx
	} else {
		q.arena.at(q.tail).next = idx
	}
	q.tail = idx
	q.size++
}

// popFront removes and returns the oldest member, or nilSlot when empty.
func (q *handleQueue) popFront() int32 {
	idx := q.head
	if idx == nilSlot {
		return nilSlot
	}
	q.remove(idx)
	return idx
}

func (q *handleQueue) remove(idx int32) {
	e := q.arena.at(idx)
	if e.queue != q.id {
		panic("guard: entity removed from the " + q.id.String() +
			" queue but belongs to the " + e.queue.String() + " queue")
	}
	if e.prev == nilSlot {
		q.head = e.next
	} else {
		q.arena.at(e.prev).next = e.next
	}
	if e.next == nilSlot {
		q.tail = e.prev
	} else {
		q.arena.at(e.next).prev = e.prev
	}
	e.prev = nilSlot
	e.next = nilSlot
	e.queue = queueNone
	q.size--
}

// each walks the queue front to back; the walker returns false to stop.
// The queue must not be mutated during the walk.
func (q *handleQueue) each(fn func(idx int32, e *entity) bool) {
	for idx := q.head; idx != nilSlot; {
		e := q.arena.at(idx)
		next := e.next
		if !fn(idx, e) {
			return
		}
		idx = next
	}
}

// sanityCheck verifies link symmetry, membership tags, and the tracked size.
func (q *handleQueue) sanityCheck() {
	if q.head == nilSlot || q.tail == nilSlot {
		if q.head != q.tail || q.size != 0 {
			panic("guard: queue head/tail/size inconsistent on empty queue")
		}
		return
	}
	if q.arena.at(q.head).prev != nilSlot || q.arena.at(q.tail).next != nilSlot {
		panic("guard: queue boundary links inconsistent")
	}
	n := 0
	for idx := q.head; idx != nilSlot; idx = q.arena.at(idx).next {
		e := q.arena.at(idx)
		if e.queue != q.id {
			panic("guard: queue member carries wrong membership tag")
		}
		if e.next != nilSlot && q.arena.at(e.next).prev != idx {
			panic("guard: queue links not symmetric")
		}
		n++
		if n > q.size {
			break
		}
	}
	if n != q.size {
		panic("guard: queue size does not match link walk")
	}
}
