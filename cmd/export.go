package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/disclosure-cli/internal/model"
)

var (
	exportOut   string
	exportLimit int
)

var exportColumns = []string{
	"Owner", "Asset", "Type", "Date", "Notification Date",
	"Amount", "Cap Gains > $200", "Details", "Created At",
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored transactions to an XLSX workbook or CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.store.ListTransactions(ctx, exportLimit)
		if err != nil {
			return err
		}

		switch {
		case strings.HasSuffix(exportOut, ".csv"):
			err = writeCSV(exportOut, rows)
		case strings.HasSuffix(exportOut, ".xlsx"):
			err = writeWorkbook(exportOut, rows)
		default:
			err = eris.Errorf("unsupported export format for %q (want .xlsx or .csv)", exportOut)
		}
		if err != nil {
			return err
		}

		zap.L().Info("transactions exported",
			zap.String("file", exportOut),
			zap.Int("rows", len(rows)),
		)
		fmt.Printf("wrote %d transactions to %s\n", len(rows), exportOut)
		return nil
	},
}

func writeWorkbook(path string, rows []model.StoredTransaction) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Transactions")
	if err != nil {
		return err
	}

	header := sheet.AddRow()
	for _, col := range exportColumns {
		header.AddCell().Value = col
	}

	for _, row := range rows {
		r := sheet.AddRow()
		for _, val := range exportRecord(row) {
			r.AddCell().Value = val
		}
	}

	return f.Save(path)
}

func writeCSV(path string, rows []model.StoredTransaction) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(exportColumns); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, row := range rows {
		if err := w.Write(exportRecord(row)); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "export: flush csv")
}

func exportRecord(row model.StoredTransaction) []string {
	tx := row.Transaction
	return []string{
		tx.Owner,
		tx.Asset,
		tx.TransactionType,
		tx.Date,
		tx.NotificationDate,
		tx.Amount,
		strconv.FormatBool(tx.HasLargeCapitalGains),
		tx.Details,
		row.CreatedAt.Format(time.RFC3339),
	}
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "transactions.xlsx", "output file path")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum rows to export (0 = all)")
	rootCmd.AddCommand(exportCmd)
}
