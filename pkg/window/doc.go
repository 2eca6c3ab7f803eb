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

// Package window implements the session windowing constructs every waterflow operator obeys. A Window is the
// aggregation and ordering boundary of one pipeline stage: it owns the Tokens (one consumption permit per data item),
// a one-way completion flag, the set of downstream listener windows and an optional fulfillment Condition.
//
// Windows form a DAG through their from/to links. Completion is the only terminal signal; it is one-way and
// propagates from a window to all of its listeners.
//
// Windows come in four kinds, sharing one implementation:
//   * Plain - the base window of a Session
//   * FlatMapSource - re-linearizes the items produced by several flat-map arms back into the order of the arms
//   * FlatMapArm - a thin per-item facade that delegates to its FlatMapSource
//   * Match - one branch of a condition node, completed together with its siblings
//
// A Session binds exactly one Window and carries the ordering policy (preserved or not) and the keyed state of the
// correlation scope. FlatMapSource and Match windows are looked up through a Registry that is owned by a single
// pipeline execution and released with it.
package window
