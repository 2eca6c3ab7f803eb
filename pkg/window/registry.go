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
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/modelengine/waterflow/pkg/shared/logging"
)

// Registry keeps the flat-map sources and match windows of one pipeline execution, so that every
// lookup with the same key returns the same window. It is released together with the execution.
type Registry struct {
	pipelineName string
	opts         []Option
	log          *zap.SugaredLogger

	lock sync.Mutex
	// sources are keyed by the id of their origin window
	sources map[string]*Window
	// matches are keyed by branch id, matchOrder keeps the creation order
	matches    map[string]*Window
	matchOrder []*Window
}

// NewRegistry returns an empty registry, opts are applied to every window it creates.
func NewRegistry(ctx context.Context, pipelineName string, opts ...Option) *Registry {
	log := logging.FromContext(ctx).With("pipeline", pipelineName)
	all := make([]Option, 0, len(opts)+2)
	all = append(all, WithLogger(log), WithPipelineName(pipelineName))
	all = append(all, opts...)
	return &Registry{
		pipelineName: pipelineName,
		opts:         all,
		log:          log,
		sources:      make(map[string]*Window),
		matches:      make(map[string]*Window),
	}
}

// FlatMapSource returns the flat-map source window of origin, creating it on first use. A new source is bound
// to a session derived from the session of origin and listens to origin.
func (r *Registry) FlatMapSource(ctx context.Context, origin *Window, store IndexStore) *Window {
	r.lock.Lock()
	defer r.lock.Unlock()
	if w, ok := r.sources[origin.ID()]; ok {
		return w
	}
	parent := origin.mustSession()
	w := newWindow(FlatMapSource, r.opts...)
	w.flatMap = &flatMapSource{
		ctx:    ctx,
		origin: origin,
		store:  store,
		cursor: atomic.NewInt64(0),
		arms:   make([]*Window, 0),
		slots:  make(map[string]*unconfirmedIndexSlot),
	}
	deriveInto(parent, w, origin)
	r.sources[origin.ID()] = w
	registryEntries.WithLabelValues(r.pipelineName, FlatMapSource.String()).Set(float64(len(r.sources)))
	r.log.Debugw("Created flat-map source window", "window", w.ID(), "origin", origin.ID())
	return w
}

// FlatMapArm registers a new arm of source fed by the emitter window. Arms are ordered by registration.
func (r *Registry) FlatMapArm(source *Window, emitter *Window) *Window {
	arm := source.NewFlatMapArm(emitter)
	r.log.Debugw("Registered flat-map arm", "window", arm.ID(), "source", source.ID(), "emitter", emitter.ID())
	return arm
}

// Match returns the match window of branchID behind source, creating it on first use, and registers item
// on it. A new match window listens to source itself, even when source is not the bound window of its
// session. Every sibling learns about the full sibling set, and if source is already about to finish all the
// siblings are completed, so branches that were never taken do not block the aggregation downstream.
func (r *Registry) Match(source *Window, branchID string, item Indexable) (*Window, *Token) {
	parent := source.mustSession()
	r.lock.Lock()
	w, ok := r.matches[branchID]
	if !ok {
		w = newWindow(Match, r.opts...)
		w.match = &matchArm{branchID: branchID}
		deriveInto(parent, w, source)
		r.matches[branchID] = w
		r.matchOrder = append(r.matchOrder, w)
		registryEntries.WithLabelValues(r.pipelineName, Match.String()).Set(float64(len(r.matches)))
	}
	siblings := make([]*Window, 0)
	for _, m := range r.matchOrder {
		if m.From() == source {
			siblings = append(siblings, m)
		}
	}
	for _, s := range siblings {
		s.setSiblings(siblings)
	}
	r.lock.Unlock()

	t := w.CreateToken()
	if item != nil {
		item.BindToken(t)
	}
	t.BeginConsume()
	t.FinishConsume()

	if source.IsOngoing() {
		for _, s := range siblings {
			s.Complete()
		}
	}
	return w, t
}

// Len returns the number of windows held by the registry.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.sources) + len(r.matches)
}

// Release drops every window, it is called when the pipeline execution ends.
func (r *Registry) Release() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.log.Debugw("Releasing window registry", "sources", len(r.sources), "matches", len(r.matches))
	r.sources = make(map[string]*Window)
	r.matches = make(map[string]*Window)
	r.matchOrder = nil
	registryEntries.WithLabelValues(r.pipelineName, FlatMapSource.String()).Set(0)
	registryEntries.WithLabelValues(r.pipelineName, Match.String()).Set(0)
}
