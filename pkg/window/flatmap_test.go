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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatMapFixture is one origin window expanded through one arm per origin token.
type flatMapFixture struct {
	ctx      context.Context
	registry *Registry
	store    *testStore
	origin   *Window
	source   *Window
	emitters []*Window
	arms     []*Window
	items    map[string]*testItem
}

func newFlatMapFixture(t *testing.T, preserved bool, arms int) *flatMapFixture {
	ctx := context.Background()
	f := &flatMapFixture{
		ctx:      ctx,
		registry: NewRegistry(ctx, "test"),
		store:    &testStore{},
		origin:   NewSession(preserved).Begin(),
		items:    make(map[string]*testItem),
	}
	f.source = f.registry.FlatMapSource(ctx, f.origin, f.store)
	for i := 0; i < arms; i++ {
		f.origin.CreateToken()
		emitter := NewSession(preserved).Begin()
		f.emitters = append(f.emitters, emitter)
		f.arms = append(f.arms, f.registry.FlatMapArm(f.source, emitter))
	}
	t.Cleanup(f.registry.Release)
	return f
}

// emit pushes one item through the arm, the way an expanding operator does.
func (f *flatMapFixture) emit(arm int, id string) error {
	item := newTestItem(id)
	f.items[id] = item
	tok := f.emitters[arm].CreateToken()
	tok.BeginConsume()
	err := f.arms[arm].GenerateIndex(f.ctx, item)
	tok.FinishConsume()
	return err
}

func (f *flatMapFixture) finish(arm int) {
	f.emitters[arm].Complete()
}

func (f *flatMapFixture) index(id string) int64 {
	return f.items[id].GetIndex()
}

// drain pulls the released items in token order.
func (f *flatMapFixture) drain() []string {
	var ids []string
	for tok := f.source.PeekAndConsume(); tok != nil; tok = f.source.PeekAndConsume() {
		ids = append(ids, tok.Item().GetID())
		tok.FinishConsume()
	}
	return ids
}

func TestFlatMap_PreservedOrder(t *testing.T) {
	f := newFlatMapFixture(t, true, 3)
	require.NoError(t, f.emit(2, "d"))
	require.NoError(t, f.emit(1, "c"))
	assert.Equal(t, IndexUnconfirmed, f.index("d"))
	assert.Equal(t, IndexUnconfirmed, f.index("c"))

	require.NoError(t, f.emit(0, "a"))
	require.NoError(t, f.emit(0, "b"))
	assert.Equal(t, int64(0), f.index("a"))
	assert.Equal(t, int64(1), f.index("b"))
	assert.Equal(t, IndexUnconfirmed, f.index("c"), "arm 1 is still producing")

	f.finish(1)
	assert.Equal(t, IndexUnconfirmed, f.index("c"), "arm 0 is not drained")
	f.finish(0)
	assert.Equal(t, int64(2), f.index("c"))
	assert.Equal(t, int64(3), f.index("d"))

	require.NoError(t, f.emit(2, "e"))
	assert.Equal(t, int64(4), f.index("e"))
	f.finish(2)
	assert.False(t, f.source.IsComplete(), "the origin is still open")

	f.origin.Complete()
	assert.True(t, f.source.IsComplete())
	assert.Equal(t, int64(5), f.source.Cursor())
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}}, f.store.indexedBatches())
	assert.Empty(t, f.store.updatedBatches())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, f.drain())
	assert.True(t, f.source.IsDone())
	for id, item := range f.items {
		require.NotNil(t, item.Token(), id)
		assert.Same(t, f.source, item.Token().Window())
	}
}

func TestFlatMap_PreservedOrderBatches(t *testing.T) {
	f := newFlatMapFixture(t, true, 2)
	require.NoError(t, f.emit(1, "c"))
	require.NoError(t, f.emit(1, "d"))
	f.finish(1)
	require.NoError(t, f.emit(0, "a"))
	f.finish(0)
	// arm 1 waited for arm 0, its whole slot is confirmed in one batch
	assert.Equal(t, [][]string{{"a"}, {"c", "d"}}, f.store.indexedBatches())
	f.origin.Complete()
	assert.Equal(t, []string{"a", "c", "d"}, f.drain())
}

func TestFlatMap_EmptyArm(t *testing.T) {
	f := newFlatMapFixture(t, true, 3)
	require.NoError(t, f.emit(2, "c"))
	f.finish(1)
	assert.Equal(t, IndexUnconfirmed, f.index("c"))
	require.NoError(t, f.emit(0, "a"))
	f.finish(0)
	assert.Equal(t, int64(0), f.index("a"))
	assert.Equal(t, int64(1), f.index("c"))
	f.finish(2)
	f.origin.Complete()
	assert.True(t, f.source.IsComplete())
	assert.Equal(t, []string{"a", "c"}, f.drain())
}

func TestFlatMap_AllArmsEmpty(t *testing.T) {
	f := newFlatMapFixture(t, true, 2)
	f.finish(0)
	f.finish(1)
	f.origin.Complete()
	assert.True(t, f.source.IsComplete())
	assert.True(t, f.source.IsDone())
	assert.Empty(t, f.drain())
}

func TestFlatMap_WaitsForEveryArm(t *testing.T) {
	f := newFlatMapFixture(t, true, 2)
	require.NoError(t, f.emit(0, "a"))
	f.finish(0)
	f.origin.Complete()
	assert.False(t, f.source.IsComplete())
	require.NoError(t, f.emit(1, "b"))
	assert.False(t, f.source.IsComplete())
	f.finish(1)
	assert.True(t, f.source.IsComplete())
}

func TestFlatMap_NoOrder(t *testing.T) {
	f := newFlatMapFixture(t, false, 3)
	require.NoError(t, f.emit(2, "d"))
	require.NoError(t, f.emit(0, "a"))
	require.NoError(t, f.emit(1, "c"))
	require.NoError(t, f.emit(0, "b"))
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, IndexNotPreserved, f.index(id), id)
		assert.NotNil(t, f.items[id].Token(), id)
	}
	// released the instant they arrived
	assert.Equal(t, 4, f.source.TokenCount())
	assert.Equal(t, [][]string{{"d"}, {"a"}, {"c"}, {"b"}}, f.store.updatedBatches())
	assert.Empty(t, f.store.indexedBatches())
	assert.Equal(t, int64(0), f.source.Cursor())

	for i := range f.emitters {
		f.finish(i)
	}
	f.origin.Complete()
	assert.True(t, f.source.IsComplete())
	assert.Equal(t, []string{"d", "a", "c", "b"}, f.drain())
}

func TestFlatMap_StoreFailureRollsBack(t *testing.T) {
	f := newFlatMapFixture(t, true, 1)
	require.NoError(t, f.emit(0, "a"))
	f.store.fail(1)
	err := f.emit(0, "b")
	require.Error(t, err)
	assert.Equal(t, IndexUnconfirmed, f.index("b"))
	assert.Equal(t, int64(1), f.source.Cursor())
	assert.Equal(t, 1, f.source.TokenCount())
	assert.Nil(t, f.items["b"].Token())

	// the next pass retries the pending item
	f.finish(0)
	assert.Equal(t, int64(1), f.index("b"))
	assert.Equal(t, 2, f.source.TokenCount())
	f.origin.Complete()
	assert.True(t, f.source.IsComplete())
	assert.Equal(t, []string{"a", "b"}, f.drain())
}

func TestFlatMap_NoOrderStoreFailure(t *testing.T) {
	f := newFlatMapFixture(t, false, 1)
	f.store.fail(1)
	require.Error(t, f.emit(0, "a"))
	assert.Equal(t, IndexUnconfirmed, f.index("a"))
	assert.Equal(t, 0, f.source.TokenCount())
	require.NoError(t, f.emit(0, "b"))
	// the failed item is retried with the next one
	assert.Equal(t, IndexNotPreserved, f.index("a"))
	assert.Equal(t, [][]string{{"a", "b"}}, f.store.updatedBatches())
}

func TestFlatMap_ArmDelegates(t *testing.T) {
	f := newFlatMapFixture(t, true, 1)
	arm := f.arms[0]
	assert.Equal(t, FlatMapArm, arm.Kind())
	assert.Equal(t, f.source.Key(), arm.Key())
	assert.Same(t, f.source.Session(), arm.Session())
	assert.Same(t, f.source, arm.Owner())
	assert.Same(t, f.emitters[0], arm.ArmSource())
	assert.Same(t, f.emitters[0], arm.From())
	assert.Equal(t, []*Window{arm}, f.source.Arms())
	assert.Nil(t, f.source.Owner())
	assert.Nil(t, f.emitters[0].Arms())

	require.NoError(t, f.emit(0, "a"))
	assert.Equal(t, 1, f.source.TokenCount())
	tok := arm.PeekAndConsume()
	require.NotNil(t, tok)
	assert.Same(t, f.source, tok.Window())

	// registering the same arm twice is a no-op
	f.source.AddFlatMapWindow(arm)
	assert.Len(t, f.source.Arms(), 1)
}

func TestFlatMap_SourceSession(t *testing.T) {
	f := newFlatMapFixture(t, true, 0)
	s := f.source.Session()
	require.NotNil(t, s)
	assert.Same(t, f.source, s.Window())
	assert.True(t, s.Preserved())
	assert.NotSame(t, f.origin.Session(), s)
	assert.Same(t, f.origin, f.source.From())
	assert.Same(t, f.source, f.registry.FlatMapSource(f.ctx, f.origin, f.store))
}

func TestFlatMap_Panics(t *testing.T) {
	f := newFlatMapFixture(t, true, 1)
	plain := NewSession(true).Begin()
	assert.Panics(t, func() { plain.NewFlatMapArm(plain) })
	assert.Panics(t, func() { f.source.AddFlatMapWindow(plain) })

	// an arm which was never registered cannot produce
	stray := newWindow(FlatMapArm)
	stray.arm = &flatMapArm{owner: f.source, source: plain}
	assert.Panics(t, func() { _ = stray.GenerateIndex(f.ctx, newTestItem("x")) })

	assert.PanicsWithError(t, ErrNoSession.Error(), func() {
		f.registry.FlatMapSource(f.ctx, newWindow(Plain), f.store)
	})
}

func TestFlatMap_RejectsEmitterBehindSource(t *testing.T) {
	f := newFlatMapFixture(t, true, 0)
	emitter := DeriveSession(f.source.Session()).Begin()
	assert.PanicsWithError(t, ErrCycle.Error(), func() { f.registry.FlatMapArm(f.source, emitter) })
	assert.Empty(t, f.source.Arms())
	assert.Empty(t, emitter.Tos())

	f.origin.Complete()
	emitter.Complete()
	assert.True(t, f.source.IsComplete())
	assert.True(t, emitter.IsComplete())
}

func TestFlatMap_ArmReachesItsSource(t *testing.T) {
	f := newFlatMapFixture(t, true, 1)
	assert.True(t, f.arms[0].reaches(f.source))
	assert.True(t, f.emitters[0].reaches(f.source))
	assert.False(t, f.source.reaches(f.emitters[0]))
	// the source cannot feed the emitter of its own arm
	assert.PanicsWithError(t, ErrCycle.Error(), func() { f.source.AddTo(f.emitters[0]) })
	assert.PanicsWithError(t, ErrCycle.Error(), func() { f.emitters[0].SetFrom(f.source) })
}

func TestFlatMap_ProgressAfterEmitterCompleted(t *testing.T) {
	f := newFlatMapFixture(t, true, 1)
	t1 := f.emitters[0].CreateToken()
	t2 := f.emitters[0].CreateToken()
	t1.BeginConsume()
	t2.BeginConsume()
	require.NoError(t, f.arms[0].GenerateIndex(f.ctx, newTestItem("a")))
	require.NoError(t, f.arms[0].GenerateIndex(f.ctx, newTestItem("b")))
	f.origin.Complete()
	f.finish(0)
	assert.False(t, f.source.IsComplete(), "two items are still being expanded")

	// the emitter was already complete, finishing an item still reaches the source
	t1.FinishConsume()
	t1.Accepted()
	assert.True(t, f.source.IsComplete())
	assert.Equal(t, []string{"a", "b"}, f.drain())
}

func TestUnconfirmedIndexSlot_IsDone(t *testing.T) {
	tests := []struct {
		name     string
		states   []TokenState
		complete bool
		ordered  int
		want     bool
	}{
		{name: "emitter open", states: []TokenState{Consumed}, ordered: 1, want: false},
		{name: "drained", states: []TokenState{Consumed, Consumed}, complete: true, ordered: 2, want: true},
		{name: "not all ordered", states: []TokenState{Consumed, Consumed}, complete: true, ordered: 1, want: false},
		{name: "last item in flight", states: []TokenState{Consumed, Consuming}, complete: true, ordered: 2, want: true},
		{name: "two items in flight", states: []TokenState{Consuming, Consuming}, complete: true, ordered: 2, want: false},
		{name: "item not started", states: []TokenState{Consumed, Initialized}, complete: true, ordered: 2, want: false},
		{name: "empty and complete", complete: true, ordered: 0, want: true},
		{name: "empty and open", ordered: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFlatMapFixture(t, true, 1)
			emitter := f.emitters[0]
			for _, s := range tt.states {
				tok := emitter.CreateToken()
				switch s {
				case Consuming:
					tok.BeginConsume()
				case Consumed:
					consume(tok)
				}
			}
			if tt.complete {
				emitter.Complete()
			}
			slot := &unconfirmedIndexSlot{arm: f.arms[0], ordered: tt.ordered}
			assert.Equal(t, tt.want, slot.isDone())
		})
	}
}

func TestFlatMap_Concurrent(t *testing.T) {
	const (
		arms    = 8
		perArm  = 25
		workers = 4
	)
	ctx := context.Background()
	registry := NewRegistry(ctx, "test")
	defer registry.Release()
	store := &testStore{}
	origin := NewSession(true).Begin()
	source := registry.FlatMapSource(ctx, origin, store)
	emitters := make([]*Window, arms)
	armWindows := make([]*Window, arms)
	for i := 0; i < arms; i++ {
		origin.CreateToken()
		emitters[i] = NewSession(true).Begin()
		armWindows[i] = registry.FlatMapArm(source, emitters[i])
	}
	origin.Complete()

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				for j := 0; j < perArm; j++ {
					tok := emitters[i].CreateToken()
					tok.BeginConsume()
					assert.NoError(t, armWindows[i].GenerateIndex(ctx, newTestItem(fmt.Sprintf("%d-%d", i, j))))
					tok.FinishConsume()
				}
				emitters[i].Complete()
			}
		}()
	}
	// arms are handed out in reverse so the later arms usually finish first
	for i := arms - 1; i >= 0; i-- {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	assert.True(t, source.IsComplete())
	var ids []string
	for tok := source.PeekAndConsume(); tok != nil; tok = source.PeekAndConsume() {
		assert.Equal(t, int64(len(ids)), tok.Item().GetIndex())
		ids = append(ids, tok.Item().GetID())
		tok.FinishConsume()
	}
	require.Len(t, ids, arms*perArm)
	for i := 0; i < arms; i++ {
		for j := 0; j < perArm; j++ {
			assert.Equal(t, fmt.Sprintf("%d-%d", i, j), ids[i*perArm+j])
		}
	}
	assert.True(t, source.IsDone())
}
