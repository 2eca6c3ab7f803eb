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

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	RepoMemory = "memory"
	RepoSQLite = "sqlite"
	RepoRedis  = "redis"
)

// GlobalConfig is the configuration of a waterflow process, it is populated from waterflow.yaml and the
// WATERFLOW_* environment variables, and reloaded when the file changes.
type GlobalConfig struct {
	conf *config
	lock *sync.RWMutex
}

type config struct {
	Pipeline *PipelineConfig `mapstructure:"pipeline"`
	Window   *WindowConfig   `mapstructure:"window"`
	Repo     *RepoConfig     `mapstructure:"repo"`
	Metrics  *MetricsConfig  `mapstructure:"metrics"`
}

type PipelineConfig struct {
	Name      string `mapstructure:"name"`
	Workers   int    `mapstructure:"workers"`
	Preserved bool   `mapstructure:"preserved"`
}

type WindowConfig struct {
	// Condition is an expression over complete, total, pending and elapsedMs
	Condition string `mapstructure:"condition"`
}

type RepoConfig struct {
	Type   string       `mapstructure:"type"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Retry  RetryConfig  `mapstructure:"retry"`
}

type SQLiteConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addrs  []string `mapstructure:"addrs"`
	Prefix string   `mapstructure:"prefix"`
}

type RetryConfig struct {
	Steps    int           `mapstructure:"steps"`
	Duration time.Duration `mapstructure:"duration"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

func (g *GlobalConfig) GetPipeline() PipelineConfig {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if g.conf.Pipeline != nil {
		return *g.conf.Pipeline
	}
	return PipelineConfig{}
}

func (g *GlobalConfig) GetWindow() WindowConfig {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if g.conf.Window != nil {
		return *g.conf.Window
	}
	return WindowConfig{}
}

func (g *GlobalConfig) GetRepo() RepoConfig {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if g.conf.Repo != nil {
		return *g.conf.Repo
	}
	return RepoConfig{}
}

func (g *GlobalConfig) GetMetrics() MetricsConfig {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if g.conf.Metrics != nil {
		return *g.conf.Metrics
	}
	return MetricsConfig{}
}

// Backoff returns the retry backoff of the repo writes.
func (rc RetryConfig) Backoff() wait.Backoff {
	return wait.Backoff{
		Steps:    rc.Steps,
		Duration: rc.Duration,
		Factor:   2.0,
		Jitter:   0.1,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.name", "waterflow")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.preserved", true)
	v.SetDefault("window.condition", "")
	v.SetDefault("repo.type", RepoMemory)
	v.SetDefault("repo.sqlite.dsn", "waterflow.db")
	v.SetDefault("repo.redis.addrs", []string{"localhost:6379"})
	v.SetDefault("repo.redis.prefix", "waterflow:")
	v.SetDefault("repo.retry.steps", 5)
	v.SetDefault("repo.retry.duration", 10*time.Millisecond)
	v.SetDefault("metrics.port", 2469)
}

func (c *config) validate() error {
	if c.Pipeline == nil || c.Repo == nil {
		return errors.New("pipeline and repo sections are required")
	}
	switch c.Repo.Type {
	case RepoMemory, RepoSQLite, RepoRedis:
	default:
		return fmt.Errorf("unsupported repo type %q", c.Repo.Type)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	return nil
}

// LoadConfig reads waterflow.yaml from the given paths, or from the working directory and /etc/waterflow. A
// missing file falls back to the defaults and the environment. When a file is found it is watched, a reload
// which fails to parse keeps the previous configuration and is reported to onErrorReloading.
func LoadConfig(onErrorReloading func(error), paths ...string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigName("waterflow")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "/etc/waterflow"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("WATERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load configuration file. %w", err)
		}
		found = false
	}
	r := &GlobalConfig{
		lock: new(sync.RWMutex),
	}
	conf, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	r.conf = conf
	if !found {
		return r, nil
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		cf, err := unmarshal(v)
		if err != nil {
			onErrorReloading(err)
			return
		}
		r.lock.Lock()
		defer r.lock.Unlock()
		r.conf = cf
	})
	return r, nil
}

func unmarshal(v *viper.Viper) (*config, error) {
	conf := &config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("failed unmarshal configuration file. %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration. %w", err)
	}
	return conf, nil
}
