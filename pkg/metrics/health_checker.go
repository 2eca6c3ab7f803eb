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

package metrics

import (
	"context"

	"go.uber.org/zap"
)

// HealthChecker is the interface to check if the collaborators behind a pipeline are healthy.
type HealthChecker interface {
	// IsHealthy returns nil if healthy.
	IsHealthy(ctx context.Context) error
}

// healthCheckerFunc adapts a function to a HealthChecker.
type healthCheckerFunc func(ctx context.Context) error

func (f healthCheckerFunc) IsHealthy(ctx context.Context) error {
	return f(ctx)
}

// combinedHealthChecker is healthy only if all the checkers are.
type combinedHealthChecker struct {
	checkers []HealthChecker
	log      *zap.SugaredLogger
}

// NewCombinedHealthChecker returns a HealthChecker which fails on the first failing checker.
func NewCombinedHealthChecker(log *zap.SugaredLogger, checkers ...HealthChecker) HealthChecker {
	return &combinedHealthChecker{checkers: checkers, log: log}
}

func (c *combinedHealthChecker) IsHealthy(ctx context.Context) error {
	for _, hc := range c.checkers {
		if err := hc.IsHealthy(ctx); err != nil {
			c.log.Warnw("Health check failed", zap.Error(err))
			return err
		}
	}
	return nil
}
