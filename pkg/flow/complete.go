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
	"strings"

	"github.com/google/uuid"

	"github.com/modelengine/waterflow/pkg/window"
)

// CompleteContext is the sentinel delivered to an accumulating stage once its window finished. It carries no
// payload, only the window whose input boundary closed.
type CompleteContext struct {
	*Context[struct{}]
	window *window.Window
}

// NewCompleteContext creates the sentinel of a finished window.
func NewCompleteContext(w *window.Window, position string) *CompleteContext {
	c := NewContext[struct{}](w.Key(), position, struct{}{}, w.Session())
	c.id = completeID()
	c.rootID = c.id
	c.status = StatusArchived
	return &CompleteContext{Context: c, window: w}
}

// Window returns the window which finished.
func (c *CompleteContext) Window() *window.Window {
	return c.window
}

// Acc returns the accumulated value of the finished window.
func (c *CompleteContext) Acc() any {
	return c.window.Acc()
}

// Stage is the accumulating operator a window delivers its CompleteContext to.
type Stage interface {
	OnComplete(c *CompleteContext)
}

// StageFunc adapts a function to a Stage.
type StageFunc func(c *CompleteContext)

func (f StageFunc) OnComplete(c *CompleteContext) {
	f(c)
}

// BindStage registers stage as the completion hook of w. The hook only fires when the session of w is an
// accumulator, the stage receives exactly one CompleteContext.
func BindStage(w *window.Window, position string, stage Stage) {
	w.OnComplete(func() {
		stage.OnComplete(NewCompleteContext(w, position))
	})
}

// IsComplete reports whether the id belongs to a CompleteContext, sentinel ids are prefixed so a persisted
// sentinel can be told apart from data.
func IsComplete(id string) bool {
	return strings.HasPrefix(id, completePrefix)
}

const completePrefix = "complete-"

func completeID() string {
	return completePrefix + uuid.New().String()
}
