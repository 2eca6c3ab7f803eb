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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/modelengine/waterflow/pkg/metrics"
)

// operationsCount is used to indicate the number of repo operations
var operationsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "repo",
	Name:      "operations_total",
	Help:      "Total number of repo operations",
}, []string{metrics.LabelRepo, metrics.LabelOperation})

// operationErrors is used to indicate the number of failed repo operations
var operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "repo",
	Name:      "operation_errors_total",
	Help:      "Total number of failed repo operations",
}, []string{metrics.LabelRepo, metrics.LabelOperation})

// operationLatency is used to indicate the latency of repo operations
var operationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Subsystem: "repo",
	Name:      "operation_time",
	Help:      "Repo operation latency (1 to 1200000 microseconds)",
	Buckets:   prometheus.ExponentialBucketsRange(1, 1200000, 5),
}, []string{metrics.LabelRepo, metrics.LabelOperation})

// retries is used to indicate the number of retried repo operations
var retries = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "repo",
	Name:      "retries_total",
	Help:      "Total number of retried repo operations",
}, []string{metrics.LabelOperation})

// observe records one repo operation started at start and passes err through.
func observe(repoName string, operation string, start time.Time, err error) error {
	operationsCount.WithLabelValues(repoName, operation).Inc()
	operationLatency.WithLabelValues(repoName, operation).Observe(float64(time.Since(start).Microseconds()))
	if err != nil {
		operationErrors.WithLabelValues(repoName, operation).Inc()
	}
	return err
}
