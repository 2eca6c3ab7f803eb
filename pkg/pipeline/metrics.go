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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/modelengine/waterflow/pkg/metrics"
)

// itemsProcessed is used to indicate the number of items read by an operator
var itemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "pipeline",
	Name:      "items_processed_total",
	Help:      "Total number of items read by an operator",
}, []string{metrics.LabelPipeline, metrics.LabelOperator})

// itemsReleased is used to indicate the number of items written by an operator
var itemsReleased = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "pipeline",
	Name:      "items_released_total",
	Help:      "Total number of items written by an operator",
}, []string{metrics.LabelPipeline, metrics.LabelOperator})

// operatorErrors is used to indicate the number of failed operator runs
var operatorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "pipeline",
	Name:      "operator_errors_total",
	Help:      "Total number of failed operator runs",
}, []string{metrics.LabelPipeline, metrics.LabelOperator, metrics.LabelReason})

// partialResults is used to indicate the number of times a reduce window was accepted before it finished
var partialResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "pipeline",
	Name:      "partial_results_total",
	Help:      "Total number of accepted reduce windows before completion",
}, []string{metrics.LabelPipeline})
