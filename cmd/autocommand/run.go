package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/ElianF/AutoCommand/internal/jobs"
	"github.com/ElianF/AutoCommand/internal/model"
	"github.com/ElianF/AutoCommand/internal/runner"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "execute every job of the job list which is not yet recorded",
	RunE:  doRun,
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolP("parallel", "p", false, "run jobs on a pool of workers")
	f.IntP("workers", "w", 0, "size of the worker pool, 0 means number of CPUs")
	f.BoolP("step-time", "s", false, "prefix every line of the primary stream with a timestamp")
	f.BoolP("total-time", "t", false, "append the resource usage of each job to its stderr")
	f.IntP("duration", "d", 1800, "timeout of a single job in seconds")
	f.StringP("mode", "m", string(model.ModeMerge), "stream capture mode: merge, swap or normal")
	f.StringP("filter", "f", "", "run only jobs starting with this prefix")
	f.String("dedup", string(model.DedupTerminated), "records which make a job count as done: terminated or any")
	f.String("race", string(model.RaceOptimistic), "concurrent duplicate handling: optimistic or strict")
}

// runSettings is the outcome of merging flags, AUTOCOMMAND_* environment
// variables and the run section of the config, in this order of precedence.
type runSettings struct {
	Parallel bool
	Workers  int
	Filter   string
	Options  runner.Options
}

func newRunViper(flags *pflag.FlagSet, cfg model.Run) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTOCOMMAND")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, fmt.Errorf("run.timeout: %w", err)
	}
	v.SetDefault("parallel", cfg.Parallel)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("step-time", cfg.StepTime)
	v.SetDefault("total-time", cfg.TotalTime)
	v.SetDefault("duration", int(timeout/time.Second))
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("filter", cfg.Filter)
	v.SetDefault("dedup", cfg.Dedup)
	v.SetDefault("race", cfg.Race)

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	return v, nil
}

func runSettingsFrom(v *viper.Viper) (runSettings, error) {
	mode, err := model.ParseMode(v.GetString("mode"))
	if err != nil {
		return runSettings{}, err
	}
	dedup, err := model.ParseDedupPolicy(v.GetString("dedup"))
	if err != nil {
		return runSettings{}, err
	}
	race, err := model.ParseRacePolicy(v.GetString("race"))
	if err != nil {
		return runSettings{}, err
	}
	seconds := v.GetInt("duration")
	if seconds <= 0 {
		return runSettings{}, fmt.Errorf("duration must be positive, got %d", seconds)
	}
	workers := v.GetInt("workers")
	if workers < 0 {
		return runSettings{}, fmt.Errorf("workers must not be negative, got %d", workers)
	}
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	return runSettings{
		Parallel: v.GetBool("parallel"),
		Workers:  workers,
		Filter:   v.GetString("filter"),
		Options: runner.Options{
			Mode:      mode,
			Timeout:   time.Duration(seconds) * time.Second,
			StepTime:  v.GetBool("step-time"),
			TotalTime: v.GetBool("total-time"),
			Dedup:     dedup,
			Race:      race,
		},
	}, nil
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	v, err := newRunViper(cmd.Flags(), config.Run)
	if err != nil {
		return err
	}
	settings, err := runSettingsFrom(v)
	if err != nil {
		return err
	}

	s, lock, err := openStore()
	if err != nil {
		return err
	}

	r := runner.New(s, lock, settings.Options)
	seq := jobs.Load(config.Jobs, settings.Filter)

	slog.InfoContext(ctx, "run started",
		"jobs", config.Jobs,
		"storage", s.Dir(),
		"parallel", settings.Parallel,
		"workers", settings.Workers,
		"mode", settings.Options.Mode,
		"timeout", settings.Options.Timeout,
	)

	var summary runner.Summary
	if settings.Parallel {
		summary, err = r.Parallel(ctx, seq, settings.Workers)
	} else {
		summary, err = r.Sequential(ctx, seq)
	}

	switch {
	case errors.Is(err, context.Canceled):
		slog.WarnContext(ctx, "run interrupted", "summary", summary)
		return err
	case err != nil:
		return err
	}
	slog.InfoContext(ctx, "run finished", "summary", summary)
	return nil
}
