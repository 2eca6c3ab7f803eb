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

// Package flow defines the data envelope riding through a waterflow pipeline. A Context carries one typed payload,
// the Session it belongs to and the ordering token a flat-map source released it with. Operators derive child
// contexts with Generate and ConvertData, so the session and ordering plumbing is never specified twice.
package flow
