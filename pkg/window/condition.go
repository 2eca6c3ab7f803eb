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
)

// Snapshot is the view of a window handed to a fulfillment Condition.
type Snapshot struct {
	// Complete is true once the window will not receive new tokens.
	Complete bool
	// Total is the number of tokens ever created in the window.
	Total int
	// Pending is the number of tokens which started consumption but are not reduced yet.
	Pending int
	// Elapsed is the time since the window was last accepted (or created).
	Elapsed time.Duration
}

// Condition decides whether a window has received enough input to fire an aggregation.
// It must be a pure function of the snapshot.
type Condition func(Snapshot) bool

// CountCondition is fulfilled once n tokens are pending reduction.
func CountCondition(n int) Condition {
	return func(s Snapshot) bool {
		return s.Pending >= n
	}
}

// TimeoutCondition is fulfilled once d has elapsed since the last accept and something is pending.
func TimeoutCondition(d time.Duration) Condition {
	return func(s Snapshot) bool {
		return s.Pending > 0 && s.Elapsed >= d
	}
}

// AnyOf is fulfilled when any of the given conditions is.
func AnyOf(conditions ...Condition) Condition {
	return func(s Snapshot) bool {
		for _, c := range conditions {
			if c != nil && c(s) {
				return true
			}
		}
		return false
	}
}
