package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/history-extracts/internal/config"
	"github.com/andresuchdata/history-extracts/internal/domain"
	"github.com/andresuchdata/history-extracts/internal/pipeline"
	"github.com/andresuchdata/history-extracts/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "fetch-and-split",
		Usage: "Fetch the newest full-history dump and split it into regional extracts",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-download",
				Usage: "Use the dump already present in the snapshot directory",
			},
			&cli.BoolFlag{
				Name:  "skip-md5sum",
				Usage: "Do not verify the dump against its .md5 sidecar",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		code := domain.ExitCode(err)
		logger.Log.Error().Err(err).Int("exit_code", code).Msg("fetch-and-split failed")
		os.Exit(code)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.SetOutput(os.Stderr)
	logger.SetLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := build(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := orch.Run(ctx, pipeline.Options{
		SkipDownload: c.Bool("skip-download"),
		SkipChecksum: c.Bool("skip-md5sum"),
	})
	if errors.Is(err, context.Canceled) {
		logger.Log.Warn().Msg("interrupted")
	}
	if err != nil {
		return err
	}
	if run != nil {
		counts := run.Counts()
		logger.Log.Info().
			Str("run", run.ID).
			Str("stamp", run.Stamp).
			Int("completed", counts[pipeline.StatusCompleted]).
			Int("failed", counts[pipeline.StatusFailed]).
			Msg("extracts published")
	}
	return nil
}
