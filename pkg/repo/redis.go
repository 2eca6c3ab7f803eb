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

package repo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/modelengine/waterflow/pkg/shared/logging"
	redisclient "github.com/modelengine/waterflow/pkg/shared/clients/redis"
	"github.com/modelengine/waterflow/pkg/window"
)

const redisRepo = "redis"

const (
	fieldIndex   = "idx"
	fieldPayload = "payload"
	fieldSeq     = "seq"
	fieldUpdated = "updated"
)

// RedisRepo is a ContextRepo backed by redis. It uses the key structure:
//
//	<prefix>ctx:<id>  => HASH of idx, payload, seq and updated
//	<prefix>order     => ZSET of the ordered ids scored by index
//	<prefix>seq       => write sequence
type RedisRepo struct {
	client *redisclient.RedisClient
	prefix string
	log    *zap.SugaredLogger
	closed *atomic.Bool
}

var _ ContextRepo = (*RedisRepo)(nil)

// NewRedisRepo creates a RedisRepo, prefix defaults to "waterflow:".
func NewRedisRepo(ctx context.Context, client *redisclient.RedisClient, prefix string) *RedisRepo {
	if prefix == "" {
		prefix = "waterflow:"
	}
	return &RedisRepo{
		client: client,
		prefix: prefix,
		log:    logging.FromContext(ctx).With("repo", redisRepo),
		closed: atomic.NewBool(false),
	}
}

func (r *RedisRepo) keyContext(id string) string {
	return r.prefix + "ctx:" + id
}

func (r *RedisRepo) keyOrder() string {
	return r.prefix + "order"
}

func (r *RedisRepo) keySeq() string {
	return r.prefix + "seq"
}

func (r *RedisRepo) UpdateIndex(ctx context.Context, items []window.Indexable) error {
	start := time.Now()
	err := r.write(ctx, items, false)
	return observe(redisRepo, "update_index", start, err)
}

func (r *RedisRepo) Update(ctx context.Context, items []window.Indexable) error {
	start := time.Now()
	err := r.write(ctx, items, true)
	return observe(redisRepo, "update", start, err)
}

func (r *RedisRepo) write(ctx context.Context, items []window.Indexable, payload bool) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if len(items) == 0 {
		return nil
	}
	payloads := make([][]byte, len(items))
	if payload {
		for i, item := range items {
			b, err := encode(item)
			if err != nil {
				return fmt.Errorf("failed to encode context %s, %w", item.GetID(), err)
			}
			payloads[i] = b
		}
	}
	end, err := r.client.Client.IncrBy(ctx, r.keySeq(), int64(len(items))).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve write sequence, %w", err)
	}
	seq := end - int64(len(items))
	now := time.Now().UnixNano()
	_, err = r.client.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, item := range items {
			seq++
			values := []any{fieldIndex, item.GetIndex(), fieldSeq, seq, fieldUpdated, now}
			if payload {
				values = append(values, fieldPayload, payloads[i])
			}
			pipe.HSet(ctx, r.keyContext(item.GetID()), values...)
			if item.GetIndex() >= 0 {
				pipe.ZAdd(ctx, r.keyOrder(), redis.Z{Score: float64(item.GetIndex()), Member: item.GetID()})
			} else {
				pipe.ZRem(ctx, r.keyOrder(), item.GetID())
			}
		}
		return nil
	})
	if err != nil {
		r.log.Errorw("Failed to write contexts", zap.Int("count", len(items)), zap.Error(err))
		return fmt.Errorf("failed to write %d contexts, %w", len(items), err)
	}
	return nil
}

func (r *RedisRepo) Get(ctx context.Context, id string) (*Record, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	fields, err := r.client.Client.HGetAll(ctx, r.keyContext(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s, %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("failed to get %s, %w", id, ErrNotFound)
	}
	return parseRecord(id, fields)
}

func (r *RedisRepo) Ordered(ctx context.Context) ([]*Record, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	ids, err := r.client.Client.ZRange(ctx, r.keyOrder(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read the order, %w", err)
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.keyContext(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read ordered contexts, %w", err)
	}
	records := make([]*Record, 0, len(ids))
	for i, cmd := range cmds {
		rec, err := parseRecord(ids[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(id string, fields map[string]string) (*Record, error) {
	rec := &Record{ID: id}
	var err error
	if rec.Index, err = strconv.ParseInt(fields[fieldIndex], 10, 64); err != nil {
		return nil, fmt.Errorf("invalid index of %s, %w", id, err)
	}
	if rec.Seq, err = strconv.ParseInt(fields[fieldSeq], 10, 64); err != nil {
		return nil, fmt.Errorf("invalid sequence of %s, %w", id, err)
	}
	updated, err := strconv.ParseInt(fields[fieldUpdated], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid update time of %s, %w", id, err)
	}
	rec.UpdatedAt = time.Unix(0, updated)
	if p, ok := fields[fieldPayload]; ok {
		rec.Payload = []byte(p)
	}
	return rec, nil
}

func (r *RedisRepo) IsHealthy(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	return r.client.IsHealthy(ctx)
}

// Close closes the repo, the client is owned by the caller.
func (r *RedisRepo) Close() error {
	r.closed.Store(true)
	return nil
}

// Purge deletes the order, the sequence and every ordered context.
func (r *RedisRepo) Purge(ctx context.Context) error {
	ids, err := r.client.Client.ZRange(ctx, r.keyOrder(), 0, -1).Result()
	if err != nil {
		return err
	}
	keys := []string{r.keyOrder(), r.keySeq()}
	for _, id := range ids {
		keys = append(keys, r.keyContext(id))
	}
	return r.client.DeleteKeys(ctx, keys...)
}
