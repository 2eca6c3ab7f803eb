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
	"time"

	"go.uber.org/zap"
)

type options struct {
	// condition decides when the window is fulfilled
	condition Condition
	// clock is the time source used for elapsed time
	clock func() time.Time
	log   *zap.SugaredLogger
	// pipelineName is used as the metrics label
	pipelineName string
}

func defaultOptions() *options {
	return &options{
		clock: time.Now,
		log:   zap.NewNop().Sugar(),
	}
}

type Option func(*options)

// WithCondition sets the fulfillment condition of the window.
func WithCondition(c Condition) Option {
	return func(o *options) {
		o.condition = c
	}
}

// WithClock sets the time source, used by elapsed-time conditions.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithPipelineName sets the pipeline name used to label metrics.
func WithPipelineName(name string) Option {
	return func(o *options) {
		o.pipelineName = name
	}
}
