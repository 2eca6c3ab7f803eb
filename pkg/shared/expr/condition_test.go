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

package expr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelengine/waterflow/pkg/window"
)

func TestCompileCondition(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		snapshot   window.Snapshot
		expected   bool
	}{
		{
			name:       "count reached",
			expression: "pending >= 3",
			snapshot:   window.Snapshot{Total: 5, Pending: 3},
			expected:   true,
		},
		{
			name:       "count not reached",
			expression: "pending >= 3",
			snapshot:   window.Snapshot{Total: 5, Pending: 2},
			expected:   false,
		},
		{
			name:       "timeout",
			expression: "pending > 0 && elapsedMs >= 500",
			snapshot:   window.Snapshot{Total: 1, Pending: 1, Elapsed: time.Second},
			expected:   true,
		},
		{
			name:       "complete",
			expression: "complete",
			snapshot:   window.Snapshot{Complete: true},
			expected:   true,
		},
		{
			name:       "sprig function",
			expression: "sprig.toString(pending) == '1'",
			snapshot:   window.Snapshot{Total: 7, Pending: 1},
			expected:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CompileCondition(tt.expression)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c(tt.snapshot))
		})
	}
}

func TestCompileCondition_Empty(t *testing.T) {
	c, err := CompileCondition("")
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestCompileCondition_Invalid(t *testing.T) {
	_, err := CompileCondition("pending >=")
	assert.Error(t, err)

	_, err = CompileCondition("pending + 1")
	assert.Error(t, err)
}

func TestCompileCondition_Cached(t *testing.T) {
	_, err := CompileCondition("total > 100")
	require.NoError(t, err)
	assert.True(t, programCache.Contains("total > 100"))
}

func TestEvalBool(t *testing.T) {
	ok, err := EvalBool("a == 1 && b", map[string]interface{}{"a": 1, "b": true})
	assert.NoError(t, err)
	assert.True(t, ok)

	_, err = EvalBool("a", map[string]interface{}{"a": 1})
	assert.Error(t, err)
}
