package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/disclosure-cli/internal/model"
)

var (
	processName string
	processYear string
	processType string
	processRaw  bool
)

var processCmd = &cobra.Command{
	Use:   "process <pdf-url>",
	Short: "Download and extract one disclosure PDF synchronously",
	Args:  cobra.ExactArgs(1),
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

		job := model.PdfJob{
			ID:          uuid.New().String(),
			DocumentURL: args[0],
			Record: model.DisclosureRecord{
				Name:       processName,
				FilingYear: processYear,
				FilingType: processType,
			},
			Priority:   model.JobPriority(processYear, time.Now()),
			EnqueuedAt: time.Now(),
		}

		doc, err := env.processor.Process(ctx, job)
		if err != nil {
			return err
		}

		res, err := env.ingestor.Persist(ctx, doc.Transactions)
		if err != nil {
			zap.L().Warn("some transactions were not persisted", zap.Error(err))
		}

		out := map[string]any{
			"transactions": doc.Transactions,
			"summary":      doc.Summary,
			"persistence":  res,
		}
		if processRaw {
			out["rawText"] = doc.RawText
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	processCmd.Flags().StringVar(&processName, "name", "", "filer name for the document record")
	processCmd.Flags().StringVar(&processYear, "year", "", "filing year for the document record")
	processCmd.Flags().StringVar(&processType, "type", "", "filing type for the document record")
	processCmd.Flags().BoolVar(&processRaw, "raw", false, "include the extracted raw text in output")
	rootCmd.AddCommand(processCmd)
}
