/*
Copyright 2024 The Waterflow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package window

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Session is a correlation scope binding exactly one Window. It carries the ordering policy and two
// independent key/value stores, one visible to user functions and one internal to the engine.
type Session struct {
	id        string
	preserved bool
	// opts are applied to the window created by Begin
	opts        []Option
	accumulator *atomic.Bool

	lock       sync.RWMutex
	window     *Window
	keyBy      any
	state      map[string]any
	innerState map[string]any
}

// NewSession returns a session without a window, the window is created on the first Begin.
func NewSession(preserved bool, opts ...Option) *Session {
	return &Session{
		id:          uuid.New().String(),
		preserved:   preserved,
		opts:        opts,
		accumulator: atomic.NewBool(false),
		state:       make(map[string]any),
		innerState:  make(map[string]any),
	}
}

// DeriveSession starts a new scope chained to parent: the state is copied, a new window is begun and
// registered as a listener of the parent's window, so completion keeps propagating.
func DeriveSession(parent *Session, opts ...Option) *Session {
	s := parent.clone(opts...)
	w := s.Begin()
	w.SetFrom(parent.Begin())
	return s
}

// deriveInto binds a specialised window to a session derived from parent and chains it behind from.
func deriveInto(parent *Session, w *Window, from *Window) *Session {
	s := parent.clone()
	s.bind(w)
	w.SetFrom(from)
	return s
}

func (s *Session) clone(opts ...Option) *Session {
	s.lock.RLock()
	defer s.lock.RUnlock()
	merged := make([]Option, 0, len(s.opts)+len(opts))
	merged = append(merged, s.opts...)
	merged = append(merged, opts...)
	c := NewSession(s.preserved, merged...)
	c.keyBy = s.keyBy
	for k, v := range s.state {
		c.state[k] = v
	}
	for k, v := range s.innerState {
		c.innerState[k] = v
	}
	return c
}

func (s *Session) ID() string {
	return s.id
}

// Preserved reports whether the windows of this session must reconstruct the global order.
func (s *Session) Preserved() bool {
	return s.preserved
}

// Begin returns the bound window, creating it on first use.
func (s *Session) Begin() *Window {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.window == nil {
		w := newWindow(Plain, s.opts...)
		// w is not shared yet, no need for its lock
		w.session = s
		s.window = w
	}
	return s.window
}

// Window returns the bound window, nil if the session was never begun.
func (s *Session) Window() *Window {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.window
}

// bind makes w the window of s and s the session of w.
func (s *Session) bind(w *Window) {
	w.lock.Lock()
	old := w.session
	w.session = s
	w.lock.Unlock()

	if old != nil && old != s {
		old.lock.Lock()
		if old.window == w {
			old.window = nil
		}
		old.lock.Unlock()
	}

	s.lock.Lock()
	s.window = w
	s.lock.Unlock()
}

func (s *Session) KeyBy() any {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.keyBy
}

func (s *Session) SetKeyBy(key any) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.keyBy = key
}

// SetAccumulator marks the session as owned by a reduce operator, its window will fire the completion hook.
func (s *Session) SetAccumulator(accumulator bool) {
	s.accumulator.Store(accumulator)
}

func (s *Session) IsAccumulator() bool {
	return s.accumulator.Load()
}

// GetState reads the user visible state.
func (s *Session) GetState(key string) (any, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// SetState writes the user visible state.
func (s *Session) SetState(key string, value any) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.state[key] = value
}

// GetInnerState reads the engine internal state.
func (s *Session) GetInnerState(key string) (any, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	v, ok := s.innerState[key]
	return v, ok
}

// SetInnerState writes the engine internal state.
func (s *Session) SetInnerState(key string, value any) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.innerState[key] = value
}
