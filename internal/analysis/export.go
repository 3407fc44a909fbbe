package analysis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS steps (
		job_index INTEGER NOT NULL,
		job TEXT NOT NULL,
		slot TEXT NOT NULL,
		predicate TEXT NOT NULL,
		step INTEGER NOT NULL,
		delta REAL NOT NULL,
		legal BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS totals (
		test TEXT NOT NULL,
		label TEXT NOT NULL,
		subtest TEXT NOT NULL,
		samples INTEGER NOT NULL,
		mean_user REAL NOT NULL,
		mean_lines REAL NOT NULL,
		PRIMARY KEY (test, label, subtest)
	)`,
}

// InitDB opens the sqlite database at dbPath, which is handed over to the
// reporting tools, and creates its tables.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}
	return db, nil
}

// Export replaces the content of the steps and totals tables in a single transaction.
func Export(ctx context.Context, db *sql.DB, steps []StepSeries, totals []Aggregate) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", "error", err)
		}
	}()

	for _, table := range []string{"steps", "totals"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("executing sql delete failed: %w", err)
		}
	}

	for _, s := range steps {
		for _, predicate := range sortedKeys(s.Series) {
			for _, p := range s.Series[predicate] {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO steps (job_index, job, slot, predicate, step, delta, legal) VALUES (?,?,?,?,?,?,?);`,
					s.Index, string(s.Job), s.Slot, predicate, p.Step, p.Delta, p.Legal,
				)
				if err != nil {
					return fmt.Errorf("executing sql insert failed: %w", err)
				}
			}
		}
	}

	for _, a := range totals {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO totals (test, label, subtest, samples, mean_user, mean_lines) VALUES (?,?,?,?,?,?);`,
			a.Test, a.Label, a.Subtest, a.Samples, a.MeanUser, a.MeanLines,
		)
		if err != nil {
			return fmt.Errorf("executing sql insert failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}
