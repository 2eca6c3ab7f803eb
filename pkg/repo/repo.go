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

// Package repo persists the index assignments of flat-map source windows. Every backend is synchronous from
// the caller's point of view, a window only creates downstream tokens once the store returned.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/modelengine/waterflow/pkg/window"
)

var (
	ErrNotFound = errors.New("context not found")
	ErrClosed   = errors.New("repo is closed")
)

// Record is the persisted state of one context.
type Record struct {
	ID    string
	Index int64
	// Payload is the JSON form of the context, only written by Update
	Payload []byte
	// Seq is the order the record was last written in
	Seq       int64
	UpdatedAt time.Time
}

// ContextRepo is the persistence collaborator of the flat-map source windows.
type ContextRepo interface {
	window.IndexStore
	// Get returns the record of the context with the given id, ErrNotFound if there is none.
	Get(ctx context.Context, id string) (*Record, error)
	// Ordered returns the records holding an ordered index, sorted by index.
	Ordered(ctx context.Context) ([]*Record, error)
	IsHealthy(ctx context.Context) error
	Close() error
}

func encode(item window.Indexable) ([]byte, error) {
	return json.Marshal(item)
}
