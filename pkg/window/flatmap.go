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

	"go.uber.org/atomic"
)

const (
	// IndexUnconfirmed is stamped on an item as soon as it reaches a flat-map source.
	IndexUnconfirmed int64 = -1
	// IndexNotPreserved is assigned when the session does not preserve the order.
	IndexNotPreserved int64 = -2
)

// flatMapSource is the reordering state of a FlatMapSource window.
type flatMapSource struct {
	// ctx is used for the persistence calls triggered by completion
	ctx    context.Context
	origin *Window
	store  IndexStore
	// cursor is the next index to assign, shared by all the arms
	cursor *atomic.Int64
	// arms in registration order, the tie-break of the global order
	arms  []*Window
	slots map[string]*unconfirmedIndexSlot
}

// flatMapArm is the state of a FlatMapArm window.
type flatMapArm struct {
	// owner is the flat-map source the arm delegates to
	owner *Window
	// source is the upstream emitter of the one expanded item behind the arm
	source *Window
}

// unconfirmedIndexSlot holds the items of one arm which have no index yet.
type unconfirmedIndexSlot struct {
	arm     *Window
	pending []Indexable
	ordered int
}

// isDone reports that every item the arm's upstream ever emitted has been ordered, and the upstream is
// ongoing (complete, with at most its last item still in flight).
func (s *unconfirmedIndexSlot) isDone() bool {
	upstream := s.arm.arm.source
	return s.ordered == upstream.TokenCount() && upstream.IsOngoing()
}

// confirmOrder assigns sequential indices to the pending items and persists them as one batch.
// On a failed write the indices and the cursor are rolled back and the items stay pending.
func (s *unconfirmedIndexSlot) confirmOrder(ctx context.Context, cursor *atomic.Int64, store IndexStore) ([]Indexable, error) {
	if len(s.pending) == 0 {
		return nil, nil
	}
	start := cursor.Load()
	for _, item := range s.pending {
		item.SetIndex(cursor.Inc() - 1)
	}
	if err := store.UpdateIndex(ctx, s.pending); err != nil {
		for _, item := range s.pending {
			item.SetIndex(IndexUnconfirmed)
		}
		cursor.Store(start)
		return nil, fmt.Errorf("failed to persist the order of %d items, %w", len(s.pending), err)
	}
	confirmed := s.pending
	s.pending = nil
	s.ordered += len(confirmed)
	return confirmed, nil
}

// confirmRandom marks the pending items as not ordered and persists them.
func (s *unconfirmedIndexSlot) confirmRandom(ctx context.Context, store IndexStore) ([]Indexable, error) {
	if len(s.pending) == 0 {
		return nil, nil
	}
	for _, item := range s.pending {
		item.SetIndex(IndexNotPreserved)
	}
	if err := store.Update(ctx, s.pending); err != nil {
		for _, item := range s.pending {
			item.SetIndex(IndexUnconfirmed)
		}
		return nil, fmt.Errorf("failed to persist %d unordered items, %w", len(s.pending), err)
	}
	confirmed := s.pending
	s.pending = nil
	s.ordered += len(confirmed)
	return confirmed, nil
}

// settledEmpty reports that the arm finished without emitting anything.
func (a *flatMapArm) settledEmpty() bool {
	return a.source.TokenCount() == 0 && a.source.IsComplete() && a.source.IsOngoing()
}

// NewFlatMapArm registers a new arm behind the upstream window source. Arms must be registered in the
// order of the items they expand, that order decides the global order.
func (w *Window) NewFlatMapArm(source *Window) *Window {
	if w.kind != FlatMapSource {
		panic(fmt.Sprintf("cannot add a flat-map arm to a %s window", w.kind))
	}
	arm := newWindow(FlatMapArm, optionsOf(w)...)
	arm.arm = &flatMapArm{owner: w, source: source}
	arm.SetFrom(source)
	w.AddFlatMapWindow(arm)
	return arm
}

// AddFlatMapWindow appends an arm, keeping the registration order.
func (w *Window) AddFlatMapWindow(arm *Window) {
	if w.kind != FlatMapSource || arm.kind != FlatMapArm {
		panic(fmt.Sprintf("cannot add a %s window as arm of a %s window", arm.kind, w.kind))
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	for _, a := range w.flatMap.arms {
		if a == arm {
			return
		}
	}
	w.flatMap.arms = append(w.flatMap.arms, arm)
}

// Arms returns the registered arms of a flat-map source.
func (w *Window) Arms() []*Window {
	if w.kind != FlatMapSource {
		return nil
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	arms := make([]*Window, len(w.flatMap.arms))
	copy(arms, w.flatMap.arms)
	return arms
}

// ArmSource returns the upstream emitter of an arm.
func (w *Window) ArmSource() *Window {
	if w.kind != FlatMapArm {
		return nil
	}
	return w.arm.source
}

// Owner returns the flat-map source of an arm.
func (w *Window) Owner() *Window {
	if w.kind != FlatMapArm {
		return nil
	}
	return w.arm.owner
}

func (w *Window) generateIndex(ctx context.Context, item Indexable, arm *Window) error {
	preserved := w.mustSession().Preserved()

	w.lock.Lock()
	fm := w.flatMap
	registered := false
	for _, a := range fm.arms {
		if a == arm {
			registered = true
			break
		}
	}
	if !registered {
		w.lock.Unlock()
		panic(fmt.Sprintf("arm %s is not registered with flat-map source %s", arm.id, w.id))
	}
	item.SetIndex(IndexUnconfirmed)
	slot, ok := fm.slots[arm.id]
	if !ok {
		slot = &unconfirmedIndexSlot{arm: arm}
		fm.slots[arm.id] = slot
	}
	slot.pending = append(slot.pending, item)

	var released []Indexable
	var err error
	if preserved {
		released, err = w.preserveIndexesLocked(ctx)
	} else {
		released, err = slot.confirmRandom(ctx, fm.store)
	}
	w.releaseLocked(released, preserved)
	w.lock.Unlock()

	if err != nil {
		w.opts.log.Errorw("Failed to confirm indexes", "window", w.id, "error", err)
		return err
	}
	w.Complete()
	return nil
}

// preserveIndexesLocked walks the arms in registration order and assigns indices to everything which can
// safely be ordered now. It stops at the first arm which may still produce items before the pending ones
// of the next arms.
func (w *Window) preserveIndexesLocked(ctx context.Context) ([]Indexable, error) {
	fm := w.flatMap
	var released []Indexable
	for _, arm := range fm.arms {
		slot, ok := fm.slots[arm.id]
		if !ok {
			if arm.arm.settledEmpty() {
				continue
			}
			break
		}
		confirmed, err := slot.confirmOrder(ctx, fm.cursor, fm.store)
		released = append(released, confirmed...)
		if err != nil {
			return released, err
		}
		if !slot.isDone() {
			break
		}
	}
	return released, nil
}

// releaseLocked creates one downstream token per released item.
func (w *Window) releaseLocked(released []Indexable, preserved bool) {
	if len(released) == 0 {
		return
	}
	mode := "preserved"
	if !preserved {
		mode = "random"
	}
	for _, item := range released {
		item.BindToken(w.createTokenLocked(item))
	}
	indexesAssigned.WithLabelValues(w.opts.pipelineName, mode).Add(float64(len(released)))
	w.opts.log.Debugw("Released items", "window", w.id, "count", len(released), "mode", mode)
}

// completeSource makes progress on the order, and finalizes the source once the origin and every arm drained.
func (w *Window) completeSource() {
	preserved := w.mustSession().Preserved()

	w.lock.Lock()
	var released []Indexable
	var err error
	if preserved {
		released, err = w.preserveIndexesLocked(w.flatMap.ctx)
	}
	w.releaseLocked(released, preserved)
	ready := err == nil && w.drainedLocked()
	w.lock.Unlock()

	if err != nil {
		w.opts.log.Errorw("Failed to confirm indexes on completion", "window", w.id, "error", err)
		return
	}
	if ready {
		w.completeBase()
	}
}

// drainedLocked reports that the origin is complete, every item of the origin registered an arm, and every
// arm emitted everything it will ever emit and got it ordered.
func (w *Window) drainedLocked() bool {
	fm := w.flatMap
	if !fm.origin.IsComplete() {
		return false
	}
	if len(fm.arms) != fm.origin.TokenCount() {
		return false
	}
	for _, arm := range fm.arms {
		slot, ok := fm.slots[arm.id]
		if !ok {
			if arm.arm.settledEmpty() {
				continue
			}
			return false
		}
		if len(slot.pending) > 0 || !slot.isDone() {
			return false
		}
	}
	return true
}

// Cursor returns the next index a flat-map source will assign.
func (w *Window) Cursor() int64 {
	if w.kind != FlatMapSource {
		return 0
	}
	return w.flatMap.cursor.Load()
}

func optionsOf(w *Window) []Option {
	o := w.opts
	return []Option{
		WithCondition(o.condition),
		WithClock(o.clock),
		WithLogger(o.log),
		WithPipelineName(o.pipelineName),
	}
}
