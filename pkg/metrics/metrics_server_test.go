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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

func TestNewMetricsServer(t *testing.T) {
	ms := NewMetricsServer()
	assert.Equal(t, DefaultMetricsPort, ms.port)

	ms = NewMetricsServer(WithPort(9090), WithHealthCheckExecutor(func() error { return nil }))
	assert.Equal(t, 9090, ms.port)
	assert.Len(t, ms.healthCheckExecutors, 1)
}

func TestMetricsServer_Handler(t *testing.T) {
	healthy := atomic.NewBool(true)
	ms := NewMetricsServer(NewMetricsOptions(context.Background(), 9090, []HealthChecker{
		healthCheckerFunc(func(ctx context.Context) error {
			if !healthy.Load() {
				return errors.New("repo is down")
			}
			return nil
		}),
	})...)
	server := httptest.NewServer(ms.Handler(zap.NewNop().Sugar()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/readyz")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	healthy.Store(false)
	resp, err = http.Get(server.URL + "/readyz")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(server.URL + "/metrics")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(server.URL + "/livez")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCombinedHealthChecker(t *testing.T) {
	ok := healthCheckerFunc(func(ctx context.Context) error { return nil })
	bad := healthCheckerFunc(func(ctx context.Context) error { return errors.New("boom") })

	assert.NoError(t, NewCombinedHealthChecker(zap.NewNop().Sugar(), ok, ok).IsHealthy(context.Background()))
	assert.EqualError(t, NewCombinedHealthChecker(zap.NewNop().Sugar(), ok, bad).IsHealthy(context.Background()), "boom")
}
