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

package flow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/modelengine/waterflow/pkg/window"
)

// Context is the envelope of one data item. The id is process unique and never changes, the session is shared
// with every context of the same correlation scope.
type Context[T any] struct {
	id       string
	streamID string
	rootID   string
	session  *window.Session

	lock     sync.RWMutex
	traceIDs map[string]struct{}
	data     T
	position string
	status   Status
	// parallel and parallelMode tag the contexts produced by a parallel node
	parallel     string
	parallelMode string
	previous     string
	batchID      string
	toBatch      string
	createdAt    time.Time
	updatedAt    time.Time
	archivedAt   time.Time
	token        *window.Token
	index        int64
	keyBy        any
}

var _ window.Indexable = (*Context[any])(nil)

// NewContext creates the root context of a data path. The context is its own root.
func NewContext[T any](streamID string, position string, data T, session *window.Session) *Context[T] {
	now := time.Now()
	id := uuid.New().String()
	return &Context[T]{
		id:        id,
		streamID:  streamID,
		rootID:    id,
		session:   session,
		traceIDs:  make(map[string]struct{}),
		data:      data,
		position:  position,
		status:    StatusReady,
		createdAt: now,
		updatedAt: now,
		index:     window.IndexUnconfirmed,
	}
}

// derive copies everything a child inherits from c: stream, root, traces, session, ordering token and key.
func derive[T, R any](c *Context[T], id string, data R) *Context[R] {
	c.lock.RLock()
	defer c.lock.RUnlock()
	now := time.Now()
	child := &Context[R]{
		id:           id,
		streamID:     c.streamID,
		rootID:       c.rootID,
		session:      c.session,
		traceIDs:     make(map[string]struct{}, len(c.traceIDs)),
		data:         data,
		position:     c.position,
		status:       c.status,
		parallel:     c.parallel,
		parallelMode: c.parallelMode,
		batchID:      c.batchID,
		toBatch:      c.toBatch,
		createdAt:    now,
		updatedAt:    now,
		token:        c.token,
		index:        c.index,
		keyBy:        c.keyBy,
	}
	for t := range c.traceIDs {
		child.traceIDs[t] = struct{}{}
	}
	return child
}

// Generate derives the context produced by a stage from its parent: a new id at the given position, pointing
// back to the parent.
func Generate[T, R any](parent *Context[T], data R, position string) *Context[R] {
	child := derive(parent, uuid.New().String(), data)
	child.position = position
	child.status = StatusReady
	child.previous = parent.id
	child.batchID = ""
	child.toBatch = ""
	return child
}

// ConvertData replaces the payload of c within the same stage. The result keeps the position, the status and the
// lineage of c under the given id.
func ConvertData[T, R any](c *Context[T], data R, id string) *Context[R] {
	child := derive(c, id, data)
	c.lock.RLock()
	child.previous = c.previous
	child.createdAt = c.createdAt
	c.lock.RUnlock()
	return child
}

func (c *Context[T]) GetID() string {
	return c.id
}

func (c *Context[T]) StreamID() string {
	return c.streamID
}

func (c *Context[T]) RootID() string {
	return c.rootID
}

// Session returns the shared session of the context.
func (c *Context[T]) Session() *window.Session {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.session
}

func (c *Context[T]) Data() T {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.data
}

func (c *Context[T]) Position() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.position
}

func (c *Context[T]) SetPosition(position string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.position = position
	c.updatedAt = time.Now()
}

func (c *Context[T]) Status() Status {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.status
}

func (c *Context[T]) SetStatus(status Status) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.status = status
	c.updatedAt = time.Now()
}

// Archive marks the context as consumed by its terminal stage.
func (c *Context[T]) Archive() {
	c.lock.Lock()
	defer c.lock.Unlock()
	now := time.Now()
	c.status = StatusArchived
	c.updatedAt = now
	c.archivedAt = now
}

// TraceIDs returns the sorted causal paths the context belongs to.
func (c *Context[T]) TraceIDs() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	ids := make([]string, 0, len(c.traceIDs))
	for id := range c.traceIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddTrace adds the context to more causal paths.
func (c *Context[T]) AddTrace(ids ...string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, id := range ids {
		c.traceIDs[id] = struct{}{}
	}
}

func (c *Context[T]) Previous() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.previous
}

// SetParallel tags the context with the parallel node that produced it.
func (c *Context[T]) SetParallel(parallel string, mode string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.parallel = parallel
	c.parallelMode = mode
}

func (c *Context[T]) Parallel() (string, string) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.parallel, c.parallelMode
}

// SetBatch records the batch the context was read in and the batch it is written to.
func (c *Context[T]) SetBatch(batchID string, toBatch string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.batchID = batchID
	c.toBatch = toBatch
}

func (c *Context[T]) Batch() (string, string) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.batchID, c.toBatch
}

func (c *Context[T]) CreatedAt() time.Time {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.createdAt
}

func (c *Context[T]) UpdatedAt() time.Time {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.updatedAt
}

// ArchivedAt returns the archive time, zero if the context is not archived.
func (c *Context[T]) ArchivedAt() time.Time {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.archivedAt
}

func (c *Context[T]) KeyBy() any {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.keyBy
}

func (c *Context[T]) SetKeyBy(key any) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.keyBy = key
}

// Token returns the ordering token the context was released with, nil if none.
func (c *Context[T]) Token() *window.Token {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.token
}

func (c *Context[T]) BindToken(t *window.Token) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.token = t
}

func (c *Context[T]) GetIndex() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.index
}

func (c *Context[T]) SetIndex(index int64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.index = index
	c.updatedAt = time.Now()
}

func (c *Context[T]) String() string {
	return fmt.Sprintf("Context{id: %s, position: %s, status: %s, index: %d}", c.id, c.Position(), c.Status(), c.GetIndex())
}

// record is the persisted form of a Context.
type record struct {
	ID           string    `json:"id"`
	StreamID     string    `json:"streamId"`
	RootID       string    `json:"rootId"`
	TraceIDs     []string  `json:"traceIds,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	Data         any       `json:"data"`
	Position     string    `json:"position"`
	Status       Status    `json:"status"`
	Parallel     string    `json:"parallel,omitempty"`
	ParallelMode string    `json:"parallelMode,omitempty"`
	Previous     string    `json:"previous,omitempty"`
	BatchID      string    `json:"batchId,omitempty"`
	ToBatch      string    `json:"toBatch,omitempty"`
	Index        int64     `json:"index"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	ArchivedAt   time.Time `json:"archivedAt,omitempty"`
}

// MarshalJSON encodes the persisted form of the context, the session and token references are reduced to ids.
func (c *Context[T]) MarshalJSON() ([]byte, error) {
	r := record{
		ID:       c.id,
		StreamID: c.streamID,
		RootID:   c.rootID,
		TraceIDs: c.TraceIDs(),
	}
	c.lock.RLock()
	if c.session != nil {
		r.SessionID = c.session.ID()
	}
	r.Data = c.data
	r.Position = c.position
	r.Status = c.status
	r.Parallel = c.parallel
	r.ParallelMode = c.parallelMode
	r.Previous = c.previous
	r.BatchID = c.batchID
	r.ToBatch = c.toBatch
	r.Index = c.index
	r.CreatedAt = c.createdAt
	r.UpdatedAt = c.updatedAt
	r.ArchivedAt = c.archivedAt
	c.lock.RUnlock()
	return json.Marshal(r)
}

// SetSession moves the context into another correlation scope, used when a stage releases it through a derived window.
func (c *Context[T]) SetSession(s *window.Session) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.session = s
}
