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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/modelengine/waterflow/pkg/metrics"
)

// tokensCreated is used to indicate the number of tokens created
var tokensCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "window",
	Name:      "tokens_created_total",
	Help:      "Total number of tokens created",
}, []string{metrics.LabelPipeline, metrics.LabelWindowKind})

// windowsCompleted is used to indicate the number of completed windows
var windowsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "window",
	Name:      "completed_total",
	Help:      "Total number of completed windows",
}, []string{metrics.LabelPipeline, metrics.LabelWindowKind})

// indexesAssigned is used to indicate the number of items released by flat-map sources
var indexesAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "window",
	Name:      "indexes_assigned_total",
	Help:      "Total number of items released by flat-map sources",
}, []string{metrics.LabelPipeline, metrics.LabelOrderMode})

// registryEntries is used to indicate the number of windows held by a registry
var registryEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Subsystem: "window",
	Name:      "registry_entries",
	Help:      "Number of windows held by the registry",
}, []string{metrics.LabelPipeline, metrics.LabelWindowKind})
