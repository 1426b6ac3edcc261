package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dlqListLimit int
	dlqAll       bool
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered PDF jobs",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListDLQ(ctx, dlqListLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

var dlqRequeueCmd = &cobra.Command{
	Use:   "requeue [id]",
	Short: "Reprocess dead-lettered jobs; entries are removed on success",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if len(args) == 0 && !dlqAll {
			return cmd.Help()
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.store.ListDLQ(ctx, 0)
		if err != nil {
			return err
		}

		replayed, failed := 0, 0
		for _, entry := range entries {
			if !dlqAll && entry.ID != args[0] {
				continue
			}

			job := entry.Job(time.Now())
			doc, err := env.processor.Process(ctx, job)
			if err == nil {
				_, err = env.ingestor.Persist(ctx, doc.Transactions)
			}
			if err != nil {
				failed++
				zap.L().Error("requeue failed",
					zap.String("id", entry.ID),
					zap.String("url", entry.DocumentURL),
					zap.Error(err),
				)
				continue
			}

			if err := env.store.DeleteDLQEntry(ctx, entry.ID); err != nil {
				zap.L().Warn("processed but could not remove dlq entry",
					zap.String("id", entry.ID), zap.Error(err))
			}
			replayed++
		}

		zap.L().Info("requeue complete", zap.Int("replayed", replayed), zap.Int("failed", failed))
		return nil
	},
}

var dlqClearCmd = &cobra.Command{
	Use:   "clear [id]",
	Short: "Drop dead-lettered jobs without reprocessing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if len(args) == 0 && !dlqAll {
			return cmd.Help()
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if !dlqAll {
			return st.DeleteDLQEntry(ctx, args[0])
		}

		entries, err := st.ListDLQ(ctx, 0)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := st.DeleteDLQEntry(ctx, entry.ID); err != nil {
				return err
			}
		}
		zap.L().Info("dlq cleared", zap.Int("removed", len(entries)))
		return nil
	},
}

func init() {
	dlqListCmd.Flags().IntVar(&dlqListLimit, "limit", 50, "maximum entries to list (0 = all)")
	dlqRequeueCmd.Flags().BoolVar(&dlqAll, "all", false, "apply to every entry")
	dlqClearCmd.Flags().BoolVar(&dlqAll, "all", false, "apply to every entry")
	dlqCmd.AddCommand(dlqListCmd, dlqRequeueCmd, dlqClearCmd)
	rootCmd.AddCommand(dlqCmd)
}
