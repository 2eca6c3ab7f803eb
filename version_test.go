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

package waterflow

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStringOutput(t *testing.T) {
	v := Version{
		Version:      "1.0.0",
		BuildDate:    "2024-05-01T12:00:00Z",
		GitCommit:    "abcdef1234567890",
		GitTag:       "v1.0.0",
		GitTreeState: "clean",
		GoVersion:    "go1.24",
		Compiler:     "gc",
		Platform:     "linux/amd64",
	}
	expected := "Version: 1.0.0, BuildDate: 2024-05-01T12:00:00Z, GitCommit: abcdef1234567890, GitTag: v1.0.0, GitTreeState: clean, GoVersion: go1.24, Compiler: gc, Platform: linux/amd64"
	assert.Equal(t, expected, v.String())
}

func TestGetVersion(t *testing.T) {
	tests := []struct {
		name      string
		gitCommit string
		gitTag    string
		treeState string
		want      string
	}{
		{name: "tagged release", gitCommit: "1234567890abcdef", gitTag: "v1.2.3", treeState: "clean", want: "v1.2.3"},
		{name: "dirty tree", gitCommit: "1234567890abcdef", gitTag: "v1.2.3", treeState: "dirty", want: "dev+1234567.dirty"},
		{name: "untagged commit", gitCommit: "1234567890abcdef", treeState: "clean", want: "dev+1234567"},
		{name: "unknown commit", treeState: "clean", want: "dev+unknown"},
	}
	originalVersion, originalGitCommit, originalGitTag, originalGitTreeState := version, gitCommit, gitTag, gitTreeState
	defer func() {
		version, gitCommit, gitTag, gitTreeState = originalVersion, originalGitCommit, originalGitTag, originalGitTreeState
	}()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, gitCommit, gitTag, gitTreeState = "dev", tt.gitCommit, tt.gitTag, tt.treeState
			assert.Equal(t, tt.want, GetVersion().Version)
		})
	}
}

func TestGetVersionRuntimeInfo(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, runtime.Version(), v.GoVersion)
	assert.Equal(t, runtime.Compiler, v.Compiler)
	assert.Equal(t, fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), v.Platform)
}
