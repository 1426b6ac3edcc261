package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/disclosure-cli/internal/model"
)

var (
	searchLastName string
	searchYear     string
	searchState    string
	searchDistrict string
	searchPage     int
	searchPageSize int
	searchWait     bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search member filings and queue their PDFs for processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.store.Migrate(ctx); err != nil {
			return err
		}

		env.queue.Start(ctx)

		res, err := env.search.Search(ctx, model.SearchQuery{
			LastName:   searchLastName,
			FilingYear: searchYear,
			State:      searchState,
			District:   searchDistrict,
		}, searchPage, searchPageSize)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}

		if searchWait {
			zap.L().Info("waiting for queued pdf jobs", zap.Int("depth", env.queue.Depth()))
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.ShutdownGrace())
			defer cancel()
			if err := env.queue.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("not all jobs finished before the grace period", zap.Error(err))
			}
			zap.L().Info("pdf jobs finished",
				zap.Int64("processed", env.queue.Processed()),
				zap.Int64("failed", env.queue.Failed()),
			)
			return nil
		}

		// Without --wait the process exits right away; jobs still queued
		// are dead-lettered and can be replayed with dlq requeue.
		drainCtx, cancel := context.WithCancel(ctx)
		cancel()
		_ = env.queue.Shutdown(drainCtx)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchLastName, "last-name", "", "filer last name")
	searchCmd.Flags().StringVar(&searchYear, "year", "", "filing year (default: current year)")
	searchCmd.Flags().StringVar(&searchState, "state", "", "two-letter state code")
	searchCmd.Flags().StringVar(&searchDistrict, "district", "", "district number")
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "result page")
	searchCmd.Flags().IntVar(&searchPageSize, "page-size", 0, "results per page (default from config)")
	searchCmd.Flags().BoolVar(&searchWait, "wait", false, "wait for queued PDF jobs to finish")
	rootCmd.AddCommand(searchCmd)
}
