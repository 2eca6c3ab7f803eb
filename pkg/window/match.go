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

// matchArm is the state of a Match window.
type matchArm struct {
	branchID string
	// siblings are all the match windows sharing the same upstream source, the window itself included
	siblings []*Window
}

// BranchID returns the id a match window was registered with.
func (w *Window) BranchID() string {
	if w.kind != Match {
		return ""
	}
	return w.match.branchID
}

// Siblings returns the match windows sharing the upstream source of w.
func (w *Window) Siblings() []*Window {
	if w.kind != Match {
		return nil
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	siblings := make([]*Window, len(w.match.siblings))
	copy(siblings, w.match.siblings)
	return siblings
}

func (w *Window) setSiblings(siblings []*Window) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.match.siblings = siblings
}
