// Package pipeline drives a full fetch-and-split run: detect a new snapshot,
// fetch and verify it, split it once per config and publish the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/history-extracts/internal/catalog"
	"github.com/andresuchdata/history-extracts/internal/confset"
	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/internal/extract"
	"github.com/andresuchdata/history-extracts/internal/notify"
	"github.com/andresuchdata/history-extracts/internal/publish"
	"github.com/andresuchdata/history-extracts/internal/snapshot"
	"github.com/andresuchdata/history-extracts/pkg/logger"
)

const (
	outcomeUpToDate  = "up_to_date"
	outcomePublished = "published"
	outcomeFailed    = "failed"
)

// Options are the per-invocation switches of a run.
type Options struct {
	SkipDownload bool
	SkipChecksum bool
}

// Deps are the collaborators of an Orchestrator. Notifier, Recorder and
// Metrics are optional.
type Deps struct {
	Layout          domain.Layout
	Catalog         catalog.Catalog
	Store           *snapshot.Store
	Configs         *confset.Set
	Runner          *extract.Runner
	Publisher       *publish.Publisher
	Notifier        notify.Notifier
	Recorder        RunRecorder
	Metrics         *Metrics
	MetricsTextfile string
}

// Orchestrator runs the stages strictly in order. Any fatal error stops the
// run before Publisher.Commit, so the stamp and pointer only ever name a run
// whose configs were all attempted.
type Orchestrator struct {
	deps Deps
	log  zerolog.Logger
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop()
	}
	if deps.Recorder == nil {
		deps.Recorder = NoopRecorder()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	return &Orchestrator{deps: deps, log: logger.With("pipeline")}
}

// Run performs one pass. It returns a nil run and a nil error when the
// recorded stamp already matches the newest remote snapshot.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*ExtractionRun, error) {
	start := time.Now()
	o.log.Info().Time("at", start).Msg("start")

	run, err := o.run(ctx, opts)

	took := time.Since(start)
	switch {
	case err != nil:
		o.deps.Metrics.observeRun(outcomeFailed, took)
	case run == nil:
		o.deps.Metrics.observeRun(outcomeUpToDate, took)
	default:
		o.deps.Metrics.observeRun(outcomePublished, took)
	}
	if run != nil {
		o.deps.Metrics.observeJobs(run)
	}
	if werr := o.deps.Metrics.WriteTextfile(o.deps.MetricsTextfile); werr != nil {
		o.log.Warn().Err(werr).Str("path", o.deps.MetricsTextfile).Msg("could not write metrics textfile")
	}

	o.log.Info().Time("at", time.Now()).Dur("took", took).Msg("finish")
	return run, err
}

func (o *Orchestrator) run(ctx context.Context, opts Options) (*ExtractionRun, error) {
	d := o.deps

	o.log.Info().Msg("looking for latest full-history dump")
	snap, err := d.Catalog.FindLatest(ctx)
	if err != nil {
		return nil, err
	}

	needs, local, err := d.Store.NeedsUpdate(snap.Stamp)
	if err != nil {
		return nil, err
	}
	if !needs {
		o.log.Info().Str("stamp", snap.Stamp).Msg("no new dump available")
		return nil, nil
	}

	o.log.Info().Str("remote", snap.Stamp).Str("local", local).Msg("new dump found")
	o.notify(ctx, snap, local)

	snap = d.Store.Resolve(snap)
	run := NewExtractionRun(snap, d.Layout.RunDir(snap.Stamp))
	o.record(ctx, run, d.Recorder.CreateRun)

	if err := o.prepareSnapshot(ctx, &snap, opts); err != nil {
		return o.fail(ctx, run, err)
	}

	configs, err := d.Configs.Discover()
	if err != nil {
		return o.fail(ctx, run, err)
	}
	for _, cfg := range configs {
		run.Jobs = append(run.Jobs, &ConfigJob{Config: cfg.Name, Status: StatusPending})
	}

	if err := o.prepareConfigs(run, configs); err != nil {
		return o.fail(ctx, run, err)
	}

	results, runErr := d.Runner.RunAll(ctx, snap.AliasPath, run.OutputDir, configs)
	for i, res := range results {
		job := run.Jobs[i]
		job.Status = RunStatus(res.Status)
		job.Duration = res.Duration
		if res.Err != nil {
			job.ErrorMessage = res.Err.Error()
		}
	}
	if runErr != nil {
		return o.fail(ctx, run, runErr)
	}
	if failed := extract.Failed(results); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = f.Config.Name
		}
		o.log.Warn().Strs("failed", names).Msg("publishing although some configs failed")
	}

	if err := d.Publisher.Commit(snap.Stamp); err != nil {
		return o.fail(ctx, run, err)
	}
	d.Metrics.observePublish(snap.Stamp, time.Now())

	var partial error
	if n := run.Counts()[StatusFailed]; n > 0 {
		partial = fmt.Errorf("%d of %d configs failed", n, len(run.Jobs))
	}
	run.finish(StatusCompleted, partial)
	o.record(ctx, run, d.Recorder.UpdateRun)
	return run, nil
}

func (o *Orchestrator) prepareSnapshot(ctx context.Context, snap *domain.Snapshot, opts Options) error {
	d := o.deps
	if err := d.Store.Fetch(ctx, *snap, opts.SkipDownload); err != nil {
		return err
	}
	if err := d.Store.Verify(ctx, *snap, opts.SkipChecksum); err != nil {
		return err
	}
	alias, err := d.Store.Alias(*snap)
	if err != nil {
		return err
	}
	snap.AliasPath = alias
	return nil
}

// prepareConfigs finishes every directory and provenance copy before the
// first splitter starts.
func (o *Orchestrator) prepareConfigs(run *ExtractionRun, configs []domain.PartitionConfig) error {
	if err := os.MkdirAll(run.OutputDir, 0o775); err != nil {
		return fmt.Errorf("create %s: %w", run.OutputDir, err)
	}
	for _, cfg := range configs {
		if err := o.deps.Configs.Prepare(cfg, run.OutputDir); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, snap domain.Snapshot, local string) {
	if local == "" {
		local = "(none)"
	}
	msg := notify.Message{
		Subject: "new full-history dump " + snap.Stamp,
		Body: strings.Join([]string{
			"A new full-history dump is available and will be processed.",
			"",
			"remote: " + snap.RemoteName,
			"local:  " + local,
		}, "\n"),
	}
	if err := o.deps.Notifier.Notify(ctx, msg); err != nil {
		o.log.Warn().Err(err).Msg("notification failed")
	}
}

func (o *Orchestrator) fail(ctx context.Context, run *ExtractionRun, err error) (*ExtractionRun, error) {
	run.finish(StatusFailed, err)
	for _, j := range run.Jobs {
		if j.Status == StatusPending {
			j.Status = StatusSkipped
		}
	}
	o.log.Error().Err(err).Str("run", run.ID).Str("stamp", run.Stamp).Msg("run failed")

	// history is still written when the run was cancelled
	rctx := ctx
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	o.record(rctx, run, o.deps.Recorder.UpdateRun)
	return run, err
}

func (o *Orchestrator) record(ctx context.Context, run *ExtractionRun, fn func(context.Context, *ExtractionRun) error) {
	if err := fn(ctx, run); err != nil {
		o.log.Warn().Err(err).Str("run", run.ID).Msg("could not record run history")
	}
}
