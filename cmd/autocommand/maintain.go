package main

import (
	"log/slog"

	"github.com/ElianF/AutoCommand/internal/compact"
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "remove every record and captured output from the storage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, lock, err := openStore()
		if err != nil {
			return err
		}
		if err := lock.Do(s.Clear); err != nil {
			return err
		}
		slog.InfoContext(cmd.Context(), "storage cleared", "dir", s.Dir())
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "drop pending jobs blocked by a failed or timed out job, then clear the storage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, lock, err := openStore()
		if err != nil {
			return err
		}
		_, err = compact.Compact(cmd.Context(), s, lock, config.Jobs)
		return err
	},
}
