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

// RouteFunc picks the branch of one payload.
type RouteFunc[T any] func(data T) string

// Match routes every input to one of the declared branches. Every branch gets a match window behind the window
// of source, so the branches nobody took are completed as soon as the source drained. The contexts of a branch
// keep the input order and are moved into the session of their match window. source must be a fresh session.
func Match[T any](ctx context.Context, e *Execution, source *window.Session, in []*flow.Context[T], route RouteFunc[T], branches []string) (map[string][]*flow.Context[T], error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	declared := make(map[string]struct{}, len(branches))
	for _, b := range branches {
		declared[b] = struct{}{}
	}
	sw, err := fresh(source)
	if err != nil {
		return nil, err
	}

	// routing runs user code, it is spread over the worker pool
	routes := make([]string, len(in))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.workers)
	for i := range in {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			routes[i] = route(in[i].Data())
			if _, ok := declared[routes[i]]; !ok {
				operatorErrors.WithLabelValues(e.name, OperatorMatch, "route").Inc()
				return fmt.Errorf("context %s routed to %q, %w", in[i].GetID(), routes[i], ErrUnknownBranch)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for range in {
		sw.CreateToken()
	}
	out := make(map[string][]*flow.Context[T], len(branches))
	for i, c := range in {
		tok := sw.PeekAndConsume()
		if tok == nil {
			return nil, fmt.Errorf("match source %s ran out of tokens", sw.ID())
		}
		child := flow.Generate(c, c.Data(), OperatorMatch+"/"+routes[i])
		mw, _ := e.registry.Match(sw, branchKey(sw, routes[i]), child)
		child.SetSession(mw.Session())
		out[routes[i]] = append(out[routes[i]], child)
		tok.FinishConsume()
		tok.Accepted()
		itemsProcessed.WithLabelValues(e.name, OperatorMatch).Inc()
	}
	// every input is routed, completing the source completes the taken branches
	sw.Complete()
	for _, b := range branches {
		if _, ok := out[b]; ok {
			continue
		}
		// visiting an untaken branch after the source drained completes it right away
		mw, _ := e.registry.Match(sw, branchKey(sw, b), nil)
		if !mw.IsComplete() {
			return nil, fmt.Errorf("untaken branch %q of %s is not complete", b, sw.ID())
		}
		out[b] = nil
	}
	itemsReleased.WithLabelValues(e.name, OperatorMatch).Add(float64(len(in)))
	e.log.Debugw("Match done", "window", sw.ID(), "in", len(in), "branches", len(branches))
	return out, nil
}

func branchKey(w *window.Window, branch string) string {
	return w.ID() + "/" + branch
}
