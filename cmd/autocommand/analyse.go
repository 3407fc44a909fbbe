package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ElianF/AutoCommand/internal/analysis"
	"github.com/spf13/cobra"
)

var (
	flagBuckets string // value of --buckets flag
	flagDB      string // value of --db flag
)

var analyseCmd = &cobra.Command{
	Use:     "analyse",
	Aliases: []string{"analyze"},
	Short:   "derive step and total timing series from the captured output",
	RunE:    doAnalyse,
}

func addAnalyseFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagBuckets, "buckets", "", "bucket classification of input files, overrides analysis.buckets")
	cmd.Flags().StringVar(&flagDB, "db", "", "also export the series into this sqlite database")
}

func doAnalyse(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg := config.Analysis
	if flagBuckets != "" {
		cfg.Buckets = flagBuckets
	}
	grammar, err := analysis.NewGrammar(cfg.StepPattern, cfg.Legal)
	if err != nil {
		return err
	}

	var buckets analysis.Buckets
	switch _, err := os.Stat(cfg.Buckets); {
	case errors.Is(err, os.ErrNotExist):
		slog.WarnContext(ctx, "bucket classification not found: skipping total analysis", "path", cfg.Buckets)
	case err != nil:
		return fmt.Errorf("bucket classification: %w", err)
	default:
		if buckets, err = analysis.LoadBuckets(cfg.Buckets); err != nil {
			return err
		}
	}

	s, lock, err := openStore()
	if err != nil {
		return err
	}

	var (
		steps  []analysis.StepSeries
		totals []analysis.Aggregate
	)
	err = lock.Do(func() error {
		var err error
		if steps, err = analysis.Steps(s, grammar); err != nil {
			return fmt.Errorf("step analysis: %w", err)
		}
		if buckets != nil {
			if totals, err = analysis.Totals(s, buckets, analysis.Labeler(cfg.Labels)); err != nil {
				return fmt.Errorf("total analysis: %w", err)
			}
		}
		return analysis.WriteJSON(s.AnalysisDir(), steps, totals)
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "analysis written", "dir", s.AnalysisDir(), "steps", len(steps), "totals", len(totals))

	if flagDB != "" {
		db, err := analysis.InitDB(ctx, flagDB)
		if err != nil {
			return fmt.Errorf("opening %s: %w", flagDB, err)
		}
		defer func() {
			_ = db.Close()
		}()
		if err := analysis.Export(ctx, db, steps, totals); err != nil {
			return err
		}
		slog.InfoContext(ctx, "analysis exported", "db", flagDB)
	}

	return analysis.WriteSummary(cmd.OutOrStdout(), totals)
}
