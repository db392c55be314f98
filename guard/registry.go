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
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry tracks named sessions so diagnostics surfaces (health checks,
// dump tooling) can reach every live session. Sessions do not require a
// registry; embedders with a single context can hold the Session directly.
type Registry struct {
	sessions cmap.ConcurrentMap[string, *Session]
}

// RegistryStats aggregates counters across all registered sessions.
type RegistryStats struct {
	Sessions        int
	OpenHandles     int
	ClosedHandles   int
	LeakedBytes     int
	ReclaimFailures uint64
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: cmap.New[*Session]()}
}

// Create builds a session from conf and registers it under its ID. An empty
// conf.Name gets a generated UUID. Creating a second session under an
// already registered name fails.
func (r *Registry) Create(conf *Config) (*Session, error) {
	s, err := NewSession(conf)
	if err != nil {
		return nil, err
	}
	if !r.sessions.SetIfAbsent(s.id, s) {
		return nil, ErrSessionExisted
	}
	return s, nil
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

// Destroy tears down the session registered under id and removes it.
func (r *Registry) Destroy(id string) error {
	s, ok := r.sessions.Pop(id)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Destroy()
}

// Range calls fn for every registered session.
func (r *Registry) Range(fn func(s *Session)) {
	for item := range r.sessions.IterBuffered() {
		fn(item.Val)
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return r.sessions.Count()
}

// Stats aggregates counters across all registered sessions.
func (r *Registry) Stats() RegistryStats {
	var out RegistryStats
	r.Range(func(s *Session) {
		st := s.Stats()
		out.Sessions++
		out.OpenHandles += st.OpenHandles
		out.ClosedHandles += st.ClosedHandles
		out.LeakedBytes += st.LeakedBytes
		out.ReclaimFailures += st.ReclaimFailures
	})
	return out
}

// DestroyAll tears down and removes every registered session. The first
// teardown error is returned; remaining sessions are still destroyed.
func (r *Registry) DestroyAll() error {
	var first error
	for item := range r.sessions.IterBuffered() {
		r.sessions.Remove(item.Key)
		if err := item.Val.Destroy(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
