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

package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/modelengine/waterflow/pkg/window"
)

const memoryRepo = "memory"

// MemoryRepo keeps the records in memory, it also remembers every batch passed to UpdateIndex.
type MemoryRepo struct {
	lock    sync.RWMutex
	records map[string]*Record
	batches [][]string
	seq     int64
	closed  *atomic.Bool
	// failNext makes the next n writes fail, used by tests
	failNext int
}

var _ ContextRepo = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		records: make(map[string]*Record),
		batches: make([][]string, 0),
		closed:  atomic.NewBool(false),
	}
}

// UpdateIndex records the index of every item in the batch.
func (m *MemoryRepo) UpdateIndex(_ context.Context, items []window.Indexable) error {
	start := time.Now()
	return observe(memoryRepo, "update_index", start, m.write(items, false))
}

// Update records the index and the payload of every item in the batch.
func (m *MemoryRepo) Update(_ context.Context, items []window.Indexable) error {
	start := time.Now()
	return observe(memoryRepo, "update", start, m.write(items, true))
}

func (m *MemoryRepo) write(items []window.Indexable, payload bool) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(items) == 0 {
		return nil
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return fmt.Errorf("injected failure writing %d items", len(items))
	}
	// encode everything first so a failed batch leaves no partial write
	payloads := make([][]byte, len(items))
	if payload {
		for i, item := range items {
			b, err := encode(item)
			if err != nil {
				return fmt.Errorf("failed to encode context %s, %w", item.GetID(), err)
			}
			payloads[i] = b
		}
	}
	now := time.Now()
	batch := make([]string, 0, len(items))
	for i, item := range items {
		m.seq++
		r, ok := m.records[item.GetID()]
		if !ok {
			r = &Record{ID: item.GetID()}
			m.records[item.GetID()] = r
		}
		r.Index = item.GetIndex()
		r.Seq = m.seq
		r.UpdatedAt = now
		if payload {
			r.Payload = payloads[i]
		}
		batch = append(batch, item.GetID())
	}
	if !payload {
		m.batches = append(m.batches, batch)
	}
	return nil
}

func (m *MemoryRepo) Get(_ context.Context, id string) (*Record, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("failed to get %s, %w", id, ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (m *MemoryRepo) Ordered(_ context.Context) ([]*Record, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	records := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if r.Index >= 0 {
			c := *r
			records = append(records, &c)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Index < records[j].Index
	})
	return records, nil
}

// Batches returns the ids of every UpdateIndex batch in the order they were persisted.
func (m *MemoryRepo) Batches() [][]string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	batches := make([][]string, len(m.batches))
	for i, b := range m.batches {
		batches[i] = append([]string(nil), b...)
	}
	return batches
}

// FailNext makes the next n writes fail.
func (m *MemoryRepo) FailNext(n int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.failNext = n
}

func (m *MemoryRepo) IsHealthy(_ context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (m *MemoryRepo) Close() error {
	m.closed.Store(true)
	return nil
}
