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

func TestMatch_GetOrCreate(t *testing.T) {
	registry := NewRegistry(context.Background(), "test")
	defer registry.Release()
	source := NewSession(true).Begin()
	source.CreateToken()

	item := newTestItem("a")
	yes, tok := registry.Match(source, "yes", item)
	assert.Equal(t, Match, yes.Kind())
	assert.Equal(t, "yes", yes.BranchID())
	assert.Same(t, tok, item.Token())
	assert.True(t, tok.IsConsumed())
	assert.Same(t, source, yes.From())
	assert.NotSame(t, source.Session(), yes.Session())
	assert.Same(t, yes, yes.Session().Window())

	again, _ := registry.Match(source, "yes", nil)
	assert.Same(t, yes, again)
	assert.Equal(t, 2, yes.TokenCount())
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, "", source.BranchID())
	assert.Nil(t, source.Siblings())
}

func TestMatch_Siblings(t *testing.T) {
	registry := NewRegistry(context.Background(), "test")
	defer registry.Release()
	source := NewSession(true).Begin()
	other := NewSession(true).Begin()
	source.CreateToken()
	other.CreateToken()

	yes, _ := registry.Match(source, "yes", nil)
	no, _ := registry.Match(source, "no", nil)
	elsewhere, _ := registry.Match(other, "elsewhere", nil)
	assert.Equal(t, []*Window{yes, no}, yes.Siblings())
	assert.Equal(t, []*Window{yes, no}, no.Siblings())
	assert.Equal(t, []*Window{elsewhere}, elsewhere.Siblings())
}

func TestMatch_ShortCircuit(t *testing.T) {
	registry := NewRegistry(context.Background(), "test")
	defer registry.Release()
	source := NewSession(true).Begin()
	t1 := source.CreateToken()
	t1.BeginConsume()

	yes, _ := registry.Match(source, "yes", newTestItem("a"))
	assert.False(t, yes.IsComplete())
	assert.False(t, yes.Fulfilled())

	t1.FinishConsume()
	t1.Accepted()
	assert.False(t, yes.IsComplete(), "the source is still open")

	source.Complete()
	assert.True(t, yes.IsComplete())
	assert.True(t, yes.Fulfilled())

	// a branch first visited once the source drained is completed right away
	no, tok := registry.Match(source, "no", nil)
	require.NotNil(t, tok)
	assert.True(t, no.IsComplete())
	assert.True(t, no.IsDone())
	assert.True(t, no.Fulfilled())
}

func TestMatch_ShortCircuitOnLastItem(t *testing.T) {
	registry := NewRegistry(context.Background(), "test")
	defer registry.Release()
	source := NewSession(true).Begin()
	t1 := source.CreateToken()
	t2 := source.CreateToken()

	consume(t1)
	yes, _ := registry.Match(source, "yes", nil)
	t2.BeginConsume()
	source.Complete()
	// the last item is still being routed, the source is ongoing
	no, _ := registry.Match(source, "no", nil)
	t2.FinishConsume()
	assert.True(t, yes.IsComplete())
	assert.True(t, no.IsComplete())
}

func TestMatch_ArmSource(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(ctx, "test")
	defer registry.Release()
	origin := NewSession(true).Begin()
	origin.CreateToken()
	source := registry.FlatMapSource(ctx, origin, &testStore{})
	emitter := NewSession(true).Begin()
	arm := registry.FlatMapArm(source, emitter)
	require.NotSame(t, arm, arm.Session().Window())

	first, _ := registry.Match(arm, "first", nil)
	assert.Same(t, arm, first.From())
	assert.Equal(t, []*Window{first}, first.Siblings())
	assert.False(t, first.IsComplete())

	emitter.Complete()
	origin.Complete()
	assert.True(t, source.IsDone())
	assert.True(t, first.IsComplete())

	// the arm is about to finish, a late branch is short circuited with its siblings
	late, _ := registry.Match(arm, "late", nil)
	assert.True(t, late.IsComplete())
	assert.Equal(t, []*Window{first, late}, first.Siblings())
	assert.Equal(t, []*Window{first, late}, late.Siblings())
}

func TestMatch_ConcurrentGetOrCreate(t *testing.T) {
	const (
		branches = 4
		calls    = 64
	)
	registry := NewRegistry(context.Background(), "test")
	defer registry.Release()
	source := NewSession(true).Begin()
	source.CreateToken()

	var windows sync.Map
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, _ := registry.Match(source, fmt.Sprintf("b%d", i%branches), nil)
			windows.Store(w.ID(), w)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, branches, registry.Len())
	all := make([]*Window, 0, branches)
	tokens := 0
	windows.Range(func(_, v any) bool {
		w := v.(*Window)
		all = append(all, w)
		tokens += w.TokenCount()
		return true
	})
	require.Len(t, all, branches)
	assert.Equal(t, calls, tokens)
	for _, w := range all {
		assert.ElementsMatch(t, all, w.Siblings(), w.BranchID())
	}
}

func TestRegistry_Release(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(ctx, "test")
	origin := NewSession(true).Begin()
	store := &testStore{}
	first := registry.FlatMapSource(ctx, origin, store)
	registry.Match(origin, "branch", nil)
	assert.Equal(t, 2, registry.Len())

	registry.Release()
	assert.Equal(t, 0, registry.Len())
	second := registry.FlatMapSource(ctx, origin, store)
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, registry.Len())
	registry.Release()
}

func TestRegistry_Options(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(ctx, "test", WithCondition(CountCondition(1)))
	defer registry.Release()
	origin := NewSession(true).Begin()
	source := registry.FlatMapSource(ctx, origin, &testStore{})
	emitter := NewSession(true).Begin()
	arm := registry.FlatMapArm(source, emitter)
	require.NoError(t, arm.GenerateIndex(ctx, newTestItem("a")))
	tok := source.PeekAndConsume()
	require.NotNil(t, tok)
	// the registry condition reached the source window
	assert.True(t, source.Fulfilled())
	assert.True(t, arm.Accept())
	assert.True(t, tok.IsReduced())
}
