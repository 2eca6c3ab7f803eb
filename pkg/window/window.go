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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCycle is raised when linking two windows would make a window its own transitive listener.
	ErrCycle = errors.New("window link would create a cycle")
	// ErrNoSession is raised when an ordering sensitive operation runs on a window without a session.
	ErrNoSession = errors.New("window has no bound session")
)

// Kind tags the specialisation of a Window.
type Kind int

const (
	Plain Kind = iota
	FlatMapSource
	FlatMapArm
	Match
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "Plain"
	case FlatMapSource:
		return "FlatMapSource"
	case FlatMapArm:
		return "FlatMapArm"
	case Match:
		return "Match"
	default:
		return "Unknown"
	}
}

// Indexable is a data item which can be ordered by a flat-map source window.
type Indexable interface {
	GetID() string
	GetIndex() int64
	SetIndex(index int64)
	// BindToken associates the downstream token releasing the item.
	BindToken(t *Token)
}

// IndexStore persists index assignments. Calls must be synchronous, the in-memory state only moves on
// once the store returned.
type IndexStore interface {
	// UpdateIndex records the index of every item in the batch.
	UpdateIndex(ctx context.Context, items []Indexable) error
	// Update records the whole item, used when no order is preserved.
	Update(ctx context.Context, items []Indexable) error
}

// Window is the aggregation and ordering boundary of a stage. All the mutable state is guarded by lock,
// a Window never calls into another window while holding its own lock, except a FlatMapSource reading
// the upstream windows of its arms.
type Window struct {
	id   string
	kind Kind
	opts *options

	lock     sync.Mutex
	session  *Session
	tokens   []*Token
	peekFrom int
	tos      []*Window
	toIDs    map[string]struct{}
	// notified holds the listeners which already received the completion
	notified map[string]struct{}
	from     *Window
	complete bool
	hook     func()
	// hookFired makes sure the completion hook is invoked at most once
	hookFired  bool
	acc        any
	lastAccept time.Time

	flatMap *flatMapSource
	arm     *flatMapArm
	match   *matchArm
}

func newWindow(kind Kind, opts ...Option) *Window {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return &Window{
		id:         uuid.New().String(),
		kind:       kind,
		opts:       o,
		tokens:     make([]*Token, 0),
		tos:        make([]*Window, 0),
		toIDs:      make(map[string]struct{}),
		notified:   make(map[string]struct{}),
		lastAccept: o.clock(),
	}
}

func (w *Window) ID() string {
	return w.id
}

func (w *Window) Kind() Kind {
	return w.kind
}

// Key is the identity downstream consumers group windows by. Arms share the key of their source.
func (w *Window) Key() string {
	if w.kind == FlatMapArm {
		return w.arm.owner.Key()
	}
	return w.id
}

// Session returns the bound session. Arms report the session of their flat-map source.
func (w *Window) Session() *Session {
	if w.kind == FlatMapArm {
		return w.arm.owner.Session()
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.session
}

// SetSession binds the window and the session to each other.
func (w *Window) SetSession(s *Session) {
	s.bind(w)
}

func (w *Window) mustSession() *Session {
	s := w.Session()
	if s == nil {
		panic(ErrNoSession)
	}
	return s
}

// From returns the upstream window, nil for a root window.
func (w *Window) From() *Window {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.from
}

// Tos returns the downstream listeners in registration order.
func (w *Window) Tos() []*Window {
	w.lock.Lock()
	defer w.lock.Unlock()
	tos := make([]*Window, len(w.tos))
	copy(tos, w.tos)
	return tos
}

// AddTo registers a downstream listener, registering the same listener twice is a no-op.
// It panics with ErrCycle if the listener already reaches w.
func (w *Window) AddTo(to *Window) {
	if to == w || to.reaches(w) {
		w.opts.log.Errorw("Rejecting cyclic window link", "from", w.id, "to", to.id)
		panic(ErrCycle)
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	if _, ok := w.toIDs[to.id]; ok {
		return
	}
	w.toIDs[to.id] = struct{}{}
	w.tos = append(w.tos, to)
}

// SetFrom chains the window behind from and registers it as a listener of from.
func (w *Window) SetFrom(from *Window) {
	if from == w || w.reaches(from) {
		w.opts.log.Errorw("Rejecting cyclic window link", "from", from.id, "to", w.id)
		panic(ErrCycle)
	}
	w.lock.Lock()
	w.from = from
	w.lock.Unlock()
	from.AddTo(w)
}

// reaches reports whether target is w or one of its transitive listeners. An arm forwards its completion to
// its flat-map source, so the owner counts as a listener of the arm.
func (w *Window) reaches(target *Window) bool {
	visited := make(map[string]struct{})
	stack := []*Window{w}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if _, ok := visited[cur.id]; ok {
			continue
		}
		visited[cur.id] = struct{}{}
		stack = append(stack, cur.Tos()...)
		if cur.kind == FlatMapArm {
			stack = append(stack, cur.arm.owner)
		}
	}
	return false
}

// CreateToken appends a new Initialized token.
func (w *Window) CreateToken() *Token {
	if w.kind == FlatMapArm {
		return w.arm.owner.CreateToken()
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.createTokenLocked(nil)
}

func (w *Window) createTokenLocked(item Indexable) *Token {
	t := newToken(w, item)
	w.tokens = append(w.tokens, t)
	tokensCreated.WithLabelValues(w.opts.pipelineName, w.kind.String()).Inc()
	return t
}

// AcceptToken propagates one upstream token into one token of this window. The source token,
// if given, is finished and accepted.
func (w *Window) AcceptToken(source *Token) *Token {
	t := w.CreateToken()
	if source != nil {
		source.FinishConsume()
		source.Accepted()
	}
	return t
}

// PeekAndConsume returns the first Initialized token flipped to Consuming, or nil if there is none.
func (w *Window) PeekAndConsume() *Token {
	if w.kind == FlatMapArm {
		return w.arm.owner.PeekAndConsume()
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	for i := w.peekFrom; i < len(w.tokens); i++ {
		t := w.tokens[i]
		if t.tryBeginConsume() {
			w.advancePeek()
			return t
		}
	}
	w.advancePeek()
	return nil
}

// advancePeek skips the leading tokens that can never be Initialized again.
func (w *Window) advancePeek() {
	for w.peekFrom < len(w.tokens) && !w.tokens[w.peekFrom].IsInitialized() {
		w.peekFrom++
	}
}

// Tokens returns a copy of the tokens in emission order.
func (w *Window) Tokens() []*Token {
	w.lock.Lock()
	defer w.lock.Unlock()
	tokens := make([]*Token, len(w.tokens))
	copy(tokens, w.tokens)
	return tokens
}

// TokenCount returns the number of tokens ever created in the window.
func (w *Window) TokenCount() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return len(w.tokens)
}

func (w *Window) snapshotLocked() Snapshot {
	pending := 0
	for _, t := range w.tokens {
		if !t.IsInitialized() && !t.IsReduced() {
			pending++
		}
	}
	return Snapshot{
		Complete: w.complete,
		Total:    len(w.tokens),
		Pending:  pending,
		Elapsed:  w.opts.clock().Sub(w.lastAccept),
	}
}

// Fulfilled evaluates the condition of the window. A window which is about to finish is always fulfilled,
// so the last item is never stranded.
func (w *Window) Fulfilled() bool {
	switch w.kind {
	case FlatMapArm:
		return w.arm.owner.Fulfilled()
	case Match:
		from := w.From()
		return from != nil && from.IsComplete() && from.IsOngoing()
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.isOngoingLocked() {
		return true
	}
	return w.opts.condition != nil && w.opts.condition(w.snapshotLocked())
}

// Accept is the boundary check an aggregation polls before emitting a result. When the window is
// fulfilled it stamps the accept time, reduces every token and returns true.
func (w *Window) Accept() bool {
	if w.kind == FlatMapArm {
		return w.arm.owner.Accept()
	}
	if !w.Fulfilled() {
		return false
	}
	w.lock.Lock()
	w.lastAccept = w.opts.clock()
	tokens := make([]*Token, len(w.tokens))
	copy(tokens, w.tokens)
	w.lock.Unlock()
	for _, t := range tokens {
		t.Reduce()
	}
	return true
}

// Complete marks the window as complete, fires the completion hook once the window drained,
// and notifies the listeners. Each listener is notified once, listeners added later are notified by the
// next call. Calling it again re-evaluates the window and lets the flat-map arms behind it make progress.
func (w *Window) Complete() {
	switch w.kind {
	case FlatMapSource:
		w.completeSource()
	case FlatMapArm:
		w.completeBase()
		w.arm.owner.Complete()
	default:
		w.completeBase()
	}
}

func (w *Window) completeBase() {
	w.lock.Lock()
	first := !w.complete
	w.complete = true
	var hook func()
	if w.hook != nil && !w.hookFired && w.session != nil && w.session.IsAccumulator() && w.isDoneLocked() {
		w.hookFired = true
		hook = w.hook
	}
	tos := make([]*Window, 0, len(w.tos))
	for _, to := range w.tos {
		if _, ok := w.notified[to.id]; !ok {
			w.notified[to.id] = struct{}{}
			tos = append(tos, to)
		} else if to.kind == FlatMapArm {
			// an arm orders what its upstream emitted, it needs every state change
			tos = append(tos, to)
		}
	}
	w.lock.Unlock()

	if first {
		windowsCompleted.WithLabelValues(w.opts.pipelineName, w.kind.String()).Inc()
		w.opts.log.Debugw("Window completed", "window", w.id, "kind", w.kind.String())
	}
	if hook != nil {
		hook()
	}
	for _, to := range tos {
		to.Complete()
	}
}

// recheck re-evaluates a completed window after one of its tokens has been accepted.
func (w *Window) recheck() {
	if w.IsComplete() {
		w.Complete()
	}
}

// OnComplete binds the completion hook, fired once the window is complete and drained and its session is an
// accumulator.
func (w *Window) OnComplete(hook func()) {
	w.lock.Lock()
	w.hook = hook
	w.hookFired = false
	w.lock.Unlock()
	w.recheck()
}

// IsComplete reports whether the window will receive no more tokens.
func (w *Window) IsComplete() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.complete
}

// IsDone reports that the window is complete and nothing is left to consume, ever.
func (w *Window) IsDone() bool {
	if w.kind == FlatMapArm {
		return w.arm.owner.IsDone()
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.isDoneLocked()
}

func (w *Window) isDoneLocked() bool {
	if !w.complete {
		return false
	}
	for _, t := range w.tokens {
		if !t.IsConsumed() {
			return false
		}
	}
	return true
}

// IsOngoing reports that the window is complete and at most its very last item is still being processed.
func (w *Window) IsOngoing() bool {
	if w.kind == FlatMapArm {
		return w.arm.owner.IsOngoing()
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.isOngoingLocked()
}

func (w *Window) isOngoingLocked() bool {
	if !w.complete {
		return false
	}
	consuming := 0
	for _, t := range w.tokens {
		switch t.State() {
		case Initialized:
			return false
		case Consuming:
			consuming++
		}
	}
	return consuming <= 1
}

// Acc returns the accumulator value.
func (w *Window) Acc() any {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.acc
}

// SetAcc sets the accumulator value, only the reduce operator holding the window's session may call it.
func (w *Window) SetAcc(acc any) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.acc = acc
}

// GenerateIndex orders an item produced through a flat-map arm. It is a no-op for other kinds.
func (w *Window) GenerateIndex(ctx context.Context, item Indexable) error {
	if w.kind != FlatMapArm {
		return nil
	}
	return w.arm.owner.generateIndex(ctx, item, w)
}
