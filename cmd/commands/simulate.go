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

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modelengine/waterflow"
	"github.com/modelengine/waterflow/pkg/config"
	"github.com/modelengine/waterflow/pkg/flow"
	"github.com/modelengine/waterflow/pkg/metrics"
	"github.com/modelengine/waterflow/pkg/pipeline"
	"github.com/modelengine/waterflow/pkg/repo"
	redisclient "github.com/modelengine/waterflow/pkg/shared/clients/redis"
	"github.com/modelengine/waterflow/pkg/shared/expr"
	"github.com/modelengine/waterflow/pkg/shared/logging"
	"github.com/modelengine/waterflow/pkg/window"
)

type simulateOptions struct {
	configPath string
	repoType   string
	condition  string
	workers    int
	metrics    bool
}

// NewSimulateCommand runs sentences through a flat-map, match and reduce pipeline: every sentence is split
// into words, words are routed by length and each route counts its words.
func NewSimulateCommand() *cobra.Command {
	o := &simulateOptions{}
	command := &cobra.Command{
		Use:   "simulate [sentence...]",
		Short: "Run sentences through a session windowed word count pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulate(ctx, cmd.OutOrStdout(), o, args)
		},
	}
	command.Flags().StringVar(&o.configPath, "config", "", "directory holding waterflow.yaml")
	command.Flags().StringVar(&o.repoType, "repo", "", "override the repository type, one of memory, sqlite or redis")
	command.Flags().StringVar(&o.condition, "condition", "", "override the window fulfillment condition")
	command.Flags().IntVar(&o.workers, "workers", 0, "override the number of expansion workers")
	command.Flags().BoolVar(&o.metrics, "metrics", false, "serve metrics while the pipeline runs")
	return command
}

func runSimulate(ctx context.Context, out io.Writer, o *simulateOptions, sentences []string) error {
	log := logging.NewLogger().Named("simulate")
	ctx = logging.WithLogger(ctx, log)
	version := waterflow.GetVersion()
	log.Infow("Starting waterflow simulation", zap.Any("version", version))
	metrics.BuildInfo.WithLabelValues(version.Version, version.Platform).Set(1)

	var paths []string
	if o.configPath != "" {
		paths = append(paths, o.configPath)
	}
	conf, err := config.LoadConfig(func(err error) {
		log.Errorw("Failed to reload configuration", zap.Error(err))
	}, paths...)
	if err != nil {
		return err
	}
	pc := conf.GetPipeline()
	rc := conf.GetRepo()
	if o.repoType != "" {
		rc.Type = o.repoType
	}
	if o.workers > 0 {
		pc.Workers = o.workers
	}
	expression := conf.GetWindow().Condition
	if o.condition != "" {
		expression = o.condition
	}
	condition, err := expr.CompileCondition(expression)
	if err != nil {
		return fmt.Errorf("invalid window condition %q, %w", expression, err)
	}

	r, closeClient, err := buildRepo(ctx, rc)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeClient(); err != nil {
			log.Errorw("Failed to close the repository client", zap.Error(err))
		}
	}()
	opts := []pipeline.Option{pipeline.WithWorkers(pc.Workers), pipeline.WithPreserved(pc.Preserved)}
	if condition != nil {
		opts = append(opts, pipeline.WithCondition(condition))
	}
	e := pipeline.New(ctx, pc.Name, repo.WithRetry(ctx, r, rc.Retry.Backoff()), opts...)
	defer func() {
		if err := e.Close(); err != nil {
			log.Errorw("Failed to close the pipeline", zap.Error(err))
		}
	}()

	if o.metrics {
		port := conf.GetMetrics().Port
		ms := metrics.NewMetricsServer(metrics.NewMetricsOptions(ctx, port, []metrics.HealthChecker{e})...)
		shutdown, err := ms.Start(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Errorw("Failed to shutdown the metrics server", zap.Error(err))
			}
		}()
	}

	counts, err := wordCount(ctx, e, sentences)
	if err != nil {
		return err
	}
	branches := make([]string, 0, len(counts))
	for b := range counts {
		branches = append(branches, b)
	}
	sort.Strings(branches)
	for _, b := range branches {
		fmt.Fprintf(out, "%s\t%d\n", b, counts[b])
	}
	return nil
}

// buildRepo returns the configured repository and a function closing the client it was built on. The client
// must be closed after the repository.
func buildRepo(ctx context.Context, rc config.RepoConfig) (repo.ContextRepo, func() error, error) {
	noop := func() error { return nil }
	switch rc.Type {
	case config.RepoMemory:
		return repo.NewMemoryRepo(), noop, nil
	case config.RepoSQLite:
		r, err := repo.OpenSQLiteRepo(ctx, rc.SQLite.DSN)
		if err != nil {
			return nil, nil, err
		}
		return r, noop, nil
	case config.RepoRedis:
		client := redisclient.NewRedisClientFromEnv(rc.Redis.Addrs)
		return repo.NewRedisRepo(ctx, client, rc.Redis.Prefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported repository type %q", rc.Type)
	}
}

const (
	branchShort  = "short"
	branchMedium = "medium"
	branchLong   = "long"
)

func byLength(word string) string {
	switch n := len(word); {
	case n <= 3:
		return branchShort
	case n <= 6:
		return branchMedium
	default:
		return branchLong
	}
}

func splitWords(_ context.Context, in *flow.Context[string], emit func(string)) error {
	for _, w := range strings.Fields(in.Data()) {
		emit(strings.ToLower(w))
	}
	return nil
}

func wordCount(ctx context.Context, e *pipeline.Execution, sentences []string) (map[string]int, error) {
	origin := e.NewSession()
	in := make([]*flow.Context[string], len(sentences))
	for i, s := range sentences {
		in[i] = flow.NewContext("simulate", "start", s, origin)
	}
	words, err := pipeline.FlatMap(ctx, e, origin, in, splitWords)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{branchShort: 0, branchMedium: 0, branchLong: 0}
	if len(words) == 0 {
		return counts, nil
	}
	routed, err := pipeline.Match(ctx, e, window.DeriveSession(words[0].Session()), words, byLength,
		[]string{branchShort, branchMedium, branchLong})
	if err != nil {
		return nil, err
	}
	for branch, contexts := range routed {
		if len(contexts) == 0 {
			continue
		}
		n, err := pipeline.Reduce(ctx, e, window.DeriveSession(contexts[0].Session()), contexts, 0,
			func(acc int, _ string) int { return acc + 1 })
		if err != nil {
			return nil, fmt.Errorf("failed to count branch %s, %w", branch, err)
		}
		counts[branch] = n
	}
	return counts, nil
}
