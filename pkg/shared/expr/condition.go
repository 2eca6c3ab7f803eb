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
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/modelengine/waterflow/pkg/window"
)

const (
	varComplete  = "complete"
	varTotal     = "total"
	varPending   = "pending"
	varElapsedMs = "elapsedMs"
)

// programCache keeps the compiled conditions, the same expression is shared by many windows.
var programCache, _ = lru.New[string, *vm.Program](256)

func compile(expression string) (*vm.Program, error) {
	if program, ok := programCache.Get(expression); ok {
		return program, nil
	}
	program, err := expr.Compile(expression, expr.Env(getFuncMap(snapshotVars(window.Snapshot{}))), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("unable to compile expression '%s': %s", expression, err)
	}
	programCache.Add(expression, program)
	return program, nil
}

func snapshotVars(s window.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		varComplete:  s.Complete,
		varTotal:     s.Total,
		varPending:   s.Pending,
		varElapsedMs: s.Elapsed.Milliseconds(),
	}
}

// CompileCondition compiles a fulfillment condition such as "pending >= 10 || elapsedMs > 500".
// The expression sees the variables complete, total, pending and elapsedMs. A condition failing at runtime
// is treated as not fulfilled.
func CompileCondition(expression string) (window.Condition, error) {
	if expression == "" {
		return nil, nil
	}
	program, err := compile(expression)
	if err != nil {
		return nil, err
	}
	return func(s window.Snapshot) bool {
		ok, err := runBool(program, getFuncMap(snapshotVars(s)))
		return err == nil && ok
	}, nil
}
