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

	"github.com/modelengine/waterflow/pkg/flow"
	"github.com/modelengine/waterflow/pkg/window"
)

// FoldFunc folds one payload into the accumulator.
type FoldFunc[T, R any] func(acc R, data T) R

// Reduce folds the inputs into the window of s. The session is marked as an accumulator and the reduce stage is
// bound to its window, the result is read from the CompleteContext the window delivers once it drained.
// Partial results are counted every time the window is accepted before it finished.
func Reduce[T, R any](ctx context.Context, e *Execution, s *window.Session, in []*flow.Context[T], init R, fold FoldFunc[T, R]) (R, error) {
	var zero R
	if err := e.checkOpen(); err != nil {
		return zero, err
	}
	w, err := fresh(s)
	if err != nil {
		return zero, err
	}
	s.SetAccumulator(true)
	w.SetAcc(init)
	done := make(chan *flow.CompleteContext, 1)
	flow.BindStage(w, OperatorReduce, flow.StageFunc(func(c *flow.CompleteContext) {
		done <- c
	}))

	data := make(map[*window.Token]*flow.Context[T], len(in))
	for _, c := range in {
		data[w.CreateToken()] = c
	}
	w.Complete()

	acc := init
	for tok := w.PeekAndConsume(); tok != nil; tok = w.PeekAndConsume() {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		c := data[tok]
		acc = fold(acc, c.Data())
		w.SetAcc(acc)
		c.Archive()
		tok.FinishConsume()
		itemsProcessed.WithLabelValues(e.name, OperatorReduce).Inc()
		if w.Accept() && !w.IsDone() {
			partialResults.WithLabelValues(e.name).Inc()
			e.log.Debugw("Partial reduce result", "window", w.ID(), "acc", acc)
		}
		tok.Accepted()
	}

	select {
	case c := <-done:
		result, ok := c.Acc().(R)
		if !ok {
			return zero, fmt.Errorf("unexpected accumulator %T in window %s", c.Acc(), w.ID())
		}
		itemsReleased.WithLabelValues(e.name, OperatorReduce).Inc()
		return result, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
