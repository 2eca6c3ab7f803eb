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

package flow

// Status is the processing status of a Context.
type Status string

const (
	StatusReady      Status = "READY"
	StatusProcessing Status = "PROCESSING"
	StatusPending    Status = "PENDING"
	StatusArchived   Status = "ARCHIVED"
	StatusError      Status = "ERROR"
	StatusTerminate  Status = "TERMINATE"
)

// IsTerminal reports whether a context with this status will not move anymore.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusArchived, StatusError, StatusTerminate:
		return true
	default:
		return false
	}
}
