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

package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/modelengine/waterflow/pkg/shared/logging"
	"github.com/modelengine/waterflow/pkg/window"
)

var DefaultRetryBackoff = wait.Backoff{
	Steps:    5,
	Duration: 10 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

type retryRepo struct {
	ContextRepo
	backoff wait.Backoff
	log     *zap.SugaredLogger
}

// WithRetry retries the writes of r with an exponential backoff. A write still failing after the last step
// returns the last error.
func WithRetry(ctx context.Context, r ContextRepo, backoff wait.Backoff) ContextRepo {
	return &retryRepo{
		ContextRepo: r,
		backoff:     backoff,
		log:         logging.FromContext(ctx),
	}
}

func (r *retryRepo) UpdateIndex(ctx context.Context, items []window.Indexable) error {
	return r.retry(ctx, "update_index", func() error {
		return r.ContextRepo.UpdateIndex(ctx, items)
	})
}

func (r *retryRepo) Update(ctx context.Context, items []window.Indexable) error {
	return r.retry(ctx, "update", func() error {
		return r.ContextRepo.Update(ctx, items)
	})
}

func (r *retryRepo) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	attempt := 0
	err := wait.ExponentialBackoff(r.backoff, func() (done bool, err error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		attempt++
		if lastErr = fn(); lastErr != nil {
			if errors.Is(lastErr, ErrClosed) {
				return false, lastErr
			}
			retries.WithLabelValues(operation).Inc()
			r.log.Warnw("Retrying repo write", zap.String("operation", operation), zap.Int("attempt", attempt), zap.Error(lastErr))
			return false, nil
		}
		return true, nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s canceled after %d attempts, %w", operation, attempt, ctx.Err())
	}
	if lastErr != nil {
		return fmt.Errorf("%s failed after %d attempts, %w", operation, attempt, lastErr)
	}
	return err
}
