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

// Package pipeline runs the operators built on the session windows. An Execution owns the window registry and
// the context repo of one pipeline run, and releases both when it is closed.
package pipeline

import (
	"context"
	"errors"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/modelengine/waterflow/pkg/repo"
	"github.com/modelengine/waterflow/pkg/shared/logging"
	"github.com/modelengine/waterflow/pkg/window"
)

const (
	OperatorFlatMap = "flatmap"
	OperatorMatch   = "match"
	OperatorReduce  = "reduce"
)

var (
	ErrClosed        = errors.New("pipeline execution is closed")
	ErrUsedWindow    = errors.New("window already carries tokens, operators need a fresh session")
	ErrUnknownBranch = errors.New("unknown branch")
)

type options struct {
	workers   int
	preserved bool
	condition window.Condition
}

func defaultOptions() *options {
	return &options{
		workers:   4,
		preserved: true,
	}
}

type Option func(*options)

// WithWorkers sets the size of the worker pool running user functions.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithPreserved sets whether the sessions created by the execution preserve the order.
func WithPreserved(preserved bool) Option {
	return func(o *options) {
		o.preserved = preserved
	}
}

// WithCondition sets the fulfillment condition of every window of the execution.
func WithCondition(c window.Condition) Option {
	return func(o *options) {
		o.condition = c
	}
}

// Execution is one run of a pipeline.
type Execution struct {
	name     string
	log      *zap.SugaredLogger
	opts     *options
	registry *window.Registry
	repo     repo.ContextRepo
	closed   *atomic.Bool
}

// New creates an execution persisting through r. The execution owns r and closes it with Close.
func New(ctx context.Context, name string, r repo.ContextRepo, opts ...Option) *Execution {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := logging.FromContext(ctx).With("pipeline", name)
	return &Execution{
		name:     name,
		log:      log,
		opts:     o,
		registry: window.NewRegistry(ctx, name, window.WithCondition(o.condition)),
		repo:     r,
		closed:   atomic.NewBool(false),
	}
}

func (e *Execution) Name() string {
	return e.name
}

// NewSession starts a correlation scope with the ordering policy and the condition of the execution.
func (e *Execution) NewSession() *window.Session {
	return window.NewSession(e.opts.preserved,
		window.WithCondition(e.opts.condition),
		window.WithLogger(e.log),
		window.WithPipelineName(e.name))
}

// Registry returns the window registry of the execution.
func (e *Execution) Registry() *window.Registry {
	return e.registry
}

// IsHealthy reports the health of the repo.
func (e *Execution) IsHealthy(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.repo.IsHealthy(ctx)
}

// Close releases the windows and closes the repo.
func (e *Execution) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.registry.Release()
	err := e.repo.Close()
	e.log.Infow("Closed pipeline execution", zap.Error(err))
	return err
}

func (e *Execution) checkOpen() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return nil
}

// fresh makes sure the window of s has not been used by another operator.
func fresh(s *window.Session) (*window.Window, error) {
	w := s.Begin()
	if w.TokenCount() != 0 || w.IsComplete() {
		return nil, ErrUsedWindow
	}
	return w, nil
}
