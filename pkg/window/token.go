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
	"go.uber.org/atomic"
)

// TokenState is the consumption state of a Token. States only move forward.
type TokenState int32

const (
	Initialized TokenState = iota
	Consuming
	Consumed
)

func (s TokenState) String() string {
	switch s {
	case Initialized:
		return "Initialized"
	case Consuming:
		return "Consuming"
	case Consumed:
		return "Consumed"
	default:
		return "Unknown"
	}
}

// Token is a single consumption permit for one data item in one Window.
type Token struct {
	window  *Window
	state   *atomic.Int32
	reduced *atomic.Bool
	// item is the data released by this token, only set on tokens created by a flat-map source.
	item Indexable
}

func newToken(w *Window, item Indexable) *Token {
	return &Token{
		window:  w,
		state:   atomic.NewInt32(int32(Initialized)),
		reduced: atomic.NewBool(false),
		item:    item,
	}
}

// Window returns the window owning the token.
func (t *Token) Window() *Window {
	return t.window
}

// Item returns the data released by the token, nil for plain tokens.
func (t *Token) Item() Indexable {
	return t.item
}

// State returns the current state.
func (t *Token) State() TokenState {
	return TokenState(t.state.Load())
}

// BeginConsume moves an Initialized or Consuming token to Consuming. A Consumed token is left untouched.
func (t *Token) BeginConsume() {
	t.state.CompareAndSwap(int32(Initialized), int32(Consuming))
}

// FinishConsume marks the token Consumed, it is idempotent.
func (t *Token) FinishConsume() {
	t.state.Store(int32(Consumed))
}

func (t *Token) IsInitialized() bool {
	return t.State() == Initialized
}

func (t *Token) IsConsuming() bool {
	return t.State() == Consuming
}

func (t *Token) IsConsumed() bool {
	return t.State() == Consumed
}

// IsReduced reports whether the token has been folded into an accepted window.
func (t *Token) IsReduced() bool {
	return t.reduced.Load()
}

// Reduce marks the token reduced. It only happens once and only after consumption has begun.
// Returns true if this call flipped the flag.
func (t *Token) Reduce() bool {
	if t.IsInitialized() {
		return false
	}
	return t.reduced.CompareAndSwap(false, true)
}

// Accepted tells the owning window that the item behind this token has been processed,
// so the window can re-evaluate its completion.
func (t *Token) Accepted() {
	t.window.recheck()
}

// tryBeginConsume flips an Initialized token to Consuming, returns false if someone else won.
func (t *Token) tryBeginConsume() bool {
	return t.state.CompareAndSwap(int32(Initialized), int32(Consuming))
}
