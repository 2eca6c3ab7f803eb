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

package redis

import (
	"context"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	EnvRedisURL      = "WATERFLOW_REDIS_URL"
	EnvRedisUser     = "WATERFLOW_REDIS_USER"
	EnvRedisPassword = "WATERFLOW_REDIS_PASSWORD"
	EnvRedisMaster   = "WATERFLOW_REDIS_SENTINEL_MASTER"
)

// RedisClient datatype to hold redis client attributes.
type RedisClient struct {
	Client redis.UniversalClient
}

// NewRedisClient returns a new Redis Client.
func NewRedisClient(options *redis.UniversalOptions) *RedisClient {
	client := new(RedisClient)
	client.Client = redis.NewUniversalClient(options)
	return client
}

// NewRedisClientFromEnv returns a new Redis Client configured by the WATERFLOW_REDIS_* environment variables,
// addrs is used when no url is set.
func NewRedisClientFromEnv(addrs []string) *RedisClient {
	opts := &redis.UniversalOptions{
		Addrs:      addrs,
		Username:   os.Getenv(EnvRedisUser),
		Password:   os.Getenv(EnvRedisPassword),
		MasterName: os.Getenv(EnvRedisMaster),
	}
	if urls := os.Getenv(EnvRedisURL); urls != "" {
		opts.Addrs = strings.Split(urls, ",")
	}
	return NewRedisClient(opts)
}

// DeleteKeys deletes redis keys
func (cl *RedisClient) DeleteKeys(ctx context.Context, keys ...string) error {
	return cl.Client.Del(ctx, keys...).Err()
}

// IsHealthy pings the server.
func (cl *RedisClient) IsHealthy(ctx context.Context) error {
	return cl.Client.Ping(ctx).Err()
}

func (cl *RedisClient) Close() error {
	return cl.Client.Close()
}
