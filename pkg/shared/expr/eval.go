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

	"github.com/Masterminds/sprig/v3"
	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

var sprigFuncMap = sprig.GenericFuncMap()

// EvalBool evaluates a boolean expression against the given variables.
func EvalBool(expression string, vars map[string]interface{}) (bool, error) {
	env := getFuncMap(vars)
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("unable to compile expression '%s': %s", expression, err)
	}
	return runBool(program, env)
}

func runBool(program *vm.Program, env map[string]interface{}) (bool, error) {
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("unable to execute compiled program %v", err)
	}
	resultBool, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unable to cast expression result '%v' to bool", result)
	}
	return resultBool, nil
}

func getFuncMap(m map[string]interface{}) map[string]interface{} {
	env := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		env[k] = v
	}
	env["sprig"] = sprigFuncMap
	return env
}
