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

package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/modelengine/waterflow/pkg/flow"
	"github.com/modelengine/waterflow/pkg/window"
)

// ExpandFunc expands one context into any number of items, emitted in order.
type ExpandFunc[T, R any] func(ctx context.Context, in *flow.Context[T], emit func(R)) error

// FlatMap expands every input through its own flat-map arm. Inputs are expanded concurrently on the worker pool,
// the result lists the produced contexts in release order: input order then emission order when the session of
// origin preserves the order, arrival order otherwise. origin must be a fresh session.
func FlatMap[T, R any](ctx context.Context, e *Execution, origin *window.Session, in []*flow.Context[T], expand ExpandFunc[T, R]) ([]*flow.Context[R], error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	ow, err := fresh(origin)
	if err != nil {
		return nil, err
	}
	source := e.registry.FlatMapSource(ctx, ow, e.repo)
	scope := source.Session()

	tokens := make([]*window.Token, len(in))
	emitters := make([]*window.Window, len(in))
	arms := make([]*window.Window, len(in))
	for i := range in {
		tokens[i] = ow.CreateToken()
		emitters[i] = window.NewSession(origin.Preserved()).Begin()
		arms[i] = e.registry.FlatMapArm(source, emitters[i])
	}
	// every arm is registered, nothing else comes in
	ow.Complete()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.workers)
	for i := range in {
		i := i
		g.Go(func() error {
			tok, emitter, arm := tokens[i], emitters[i], arms[i]
			tok.BeginConsume()
			defer func() {
				tok.FinishConsume()
				emitter.Complete()
			}()
			var emitErr error
			err := expand(gctx, in[i], func(r R) {
				if emitErr != nil {
					return
				}
				child := flow.Generate(in[i], r, OperatorFlatMap)
				child.SetSession(scope)
				et := emitter.CreateToken()
				et.BeginConsume()
				emitErr = arm.GenerateIndex(gctx, child)
				et.FinishConsume()
			})
			itemsProcessed.WithLabelValues(e.name, OperatorFlatMap).Inc()
			if err != nil {
				operatorErrors.WithLabelValues(e.name, OperatorFlatMap, "expand").Inc()
				return fmt.Errorf("failed to expand context %s, %w", in[i].GetID(), err)
			}
			if emitErr != nil {
				operatorErrors.WithLabelValues(e.name, OperatorFlatMap, "repo").Inc()
				return fmt.Errorf("failed to order the output of context %s, %w", in[i].GetID(), emitErr)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.log.Errorw("Flat-map failed", "window", source.ID(), "error", err)
		return nil, err
	}
	if !source.IsComplete() {
		return nil, fmt.Errorf("flat-map source %s did not drain", source.ID())
	}

	out := make([]*flow.Context[R], 0, source.TokenCount())
	for tok := source.PeekAndConsume(); tok != nil; tok = source.PeekAndConsume() {
		c, ok := tok.Item().(*flow.Context[R])
		if !ok {
			return nil, fmt.Errorf("unexpected item %T released by flat-map source %s", tok.Item(), source.ID())
		}
		out = append(out, c)
		tok.FinishConsume()
	}
	itemsReleased.WithLabelValues(e.name, OperatorFlatMap).Add(float64(len(out)))
	e.log.Debugw("Flat-map done", "window", source.ID(), "in", len(in), "out", len(out))
	return out, nil
}
