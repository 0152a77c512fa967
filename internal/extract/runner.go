// Package extract drives the external splitter once per config file.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/pkg/logger"
)

// Status of a single config's extraction.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result is the outcome of one config.
type Result struct {
	Config   domain.PartitionConfig
	Status   Status
	Err      error
	Duration time.Duration
}

// Options configure a Runner.
type Options struct {
	// Workers bounds concurrent splitter invocations. 1 reproduces the
	// sequential behaviour.
	Workers int
	// Timeout bounds each invocation; zero means no limit.
	Timeout time.Duration
	Policy  domain.FailurePolicy
}

// Runner runs a Partitioner for every config of a run.
type Runner struct {
	partitioner Partitioner
	opts        Options
	log         zerolog.Logger
}

func NewRunner(p Partitioner, opts Options) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{partitioner: p, opts: opts, log: logger.With("extract")}
}

// RunAll splits input once per config, with runDir as working directory and
// the config copy inside runDir as argument. Results come back in config
// order.
//
// Under ContinueOnFailure a failed config is logged and the error is nil.
// Under AbortOnFailure the first failure cancels the remaining work and the
// returned error wraps domain.ErrSplitterFailed. Cancellation of ctx is
// always returned.
func (r *Runner) RunAll(ctx context.Context, input, runDir string, configs []domain.PartitionConfig) ([]Result, error) {
	results := make([]Result, len(configs))
	for i, cfg := range configs {
		results[i] = Result{Config: cfg, Status: StatusSkipped}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i := range configs {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := r.runOne(gctx, input, runDir, configs[i])
			results[i] = res
			if res.Err != nil && r.opts.Policy == domain.AbortOnFailure {
				return fmt.Errorf("%w: %s: %v", domain.ErrSplitterFailed, res.Config.Name, res.Err)
			}
			return nil
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return results, ctx.Err()
	}
	return results, err
}

func (r *Runner) runOne(ctx context.Context, input, runDir string, cfg domain.PartitionConfig) Result {
	r.log.Info().Str("config", cfg.Name).Msgf("splitting according to %s", cfg.Name)

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := r.partitioner.Split(ctx, SplitRequest{
		Input:  input,
		Config: filepath.Join(runDir, cfg.Name),
		Dir:    runDir,
	})
	res := Result{Config: cfg, Status: StatusCompleted, Duration: time.Since(start)}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", r.opts.Timeout, err)
		}
		res.Status = StatusFailed
		res.Err = err
		r.log.Error().Err(err).Str("config", cfg.Name).Dur("took", res.Duration).Msg("splitter failed")
		return res
	}

	r.log.Info().Str("config", cfg.Name).Dur("took", res.Duration).Msg("split complete")
	return res
}

// Failed returns the results that did not complete.
func Failed(results []Result) []Result {
	var out []Result
	for _, res := range results {
		if res.Status != StatusCompleted {
			out = append(out, res)
		}
	}
	return out
}
