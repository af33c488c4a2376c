package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/emvscope/internal/utils"
	"github.com/sw33tLie/emvscope/pkg/report"
	"github.com/sw33tLie/emvscope/pkg/storage"
)

// reportCmd prints an archived session.
var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Print the report of an archived session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openArchive(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		rec, err := db.GetSession(ctx, args[0])
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no archived session with id %s", args[0])
			}
			return err
		}
		ledgers, err := db.LoadLedgers(ctx, rec.ID)
		if err != nil {
			return err
		}
		entries, err := db.LoadAuditLog(ctx, rec.ID)
		if err != nil {
			return err
		}

		fmt.Printf("Session %s | %s | %s", rec.ID, rec.Asset, rec.State)
		if rec.Partial {
			fmt.Print(" (partial)")
		}
		fmt.Printf(" | %d frames applied, %d skipped\n", rec.FramesApplied, rec.FramesSkipped)
		if rec.Cause != "" {
			fmt.Printf("Aborted: %s\n", rec.Cause)
		}

		rep := report.Snapshot(ledgers)
		rep.Render(os.Stdout)

		if showAudit, _ := cmd.Flags().GetBool("audit"); showAudit {
			for _, row := range report.Audit(entries) {
				fmt.Printf("%8.3fs  frame %-6d %-16s %s\n", row.Timestamp.Seconds(), row.FrameIndex, row.Brand, utils.FormatMoney(row.Value))
			}
		}

		if prefix, _ := cmd.Flags().GetString("csv"); prefix != "" {
			full, _ := cmd.Flags().GetBool("full-precision")
			return writeCSVs(prefix, rep, report.Audit(entries), precisionOf(full))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Bool("audit", false, "Also print the audit log")
	reportCmd.Flags().String("csv", "", "Write PREFIX-report.csv and PREFIX-audit.csv")
	reportCmd.Flags().Bool("full-precision", false, "Write CSV numbers at full precision instead of display rounding")
}

// openArchive opens the session archive named by --dbpath for reading.
func openArchive(cmd *cobra.Command) (*storage.DB, error) {
	dbPath, _ := cmd.Flags().GetString("dbpath")
	absPath, err := utils.GetAbsDBPath(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(absPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("database not found: %s", absPath)
		}
		return nil, err
	}
	return storage.Open(absPath)
}
