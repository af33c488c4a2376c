package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/sw33tLie/emvscope/internal/utils"
	"github.com/sw33tLie/emvscope/pkg/storage"

	"github.com/spf13/viper"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the session archive",
}

// sessionsCmd lists archived sessions.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List archived audit sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openArchive(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		search, _ := cmd.Flags().GetString("search")
		limit, _ := cmd.Flags().GetInt("limit")
		opts := storage.ListOptions{AssetFilter: search, Limit: limit}
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			t, err := time.Parse(time.RFC3339, since)
			if err != nil {
				return fmt.Errorf("invalid --since value, expected RFC3339: %w", err)
			}
			opts.Since = t
		}

		sessions, err := db.ListSessions(context.Background(), opts)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No archived sessions.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Asset", "Started", "State", "Pricing", "Frames", "EMV"})
		for _, s := range sessions {
			state := s.State
			if s.Partial {
				state += " (partial)"
			}
			started := ""
			if !s.StartedAt.IsZero() {
				started = s.StartedAt.Local().Format("2006-01-02 15:04")
			}
			t.AppendRow(table.Row{
				s.ID, s.Asset, started, state,
				fmt.Sprintf("%s @ %s", s.Mode, utils.FormatMoney(s.Rate)),
				fmt.Sprintf("%d/%d", s.FramesApplied, s.FramesApplied+s.FramesSkipped),
				utils.FormatMoney(s.TotalMoney),
			})
		}
		t.Render()
		return nil
	},
}

// deleteCmd removes an archived session.
var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete an archived session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("dbpath")
		absPath, err := utils.GetAbsDBPath(dbPath)
		if err != nil {
			return err
		}
		lock, err := utils.NewDBLock(absPath, viper.GetDuration("database.lock_timeout"))
		if err != nil {
			return err
		}
		if err := lock.Lock(context.Background()); err != nil {
			return err
		}
		defer lock.Unlock()

		db, err := openArchive(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteSession(context.Background(), args[0]); err != nil {
			return err
		}
		utils.Log.Infof("Deleted session %s", args[0])
		return nil
	},
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("dbpath")
		dbPath, err := utils.GetAbsDBPath(dbPath)
		if err != nil {
			return err
		}

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		// Print schema first
		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints per-brand totals across every archived session.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openArchive(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(context.Background())
		if err != nil {
			return err
		}

		if len(stats) == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "BRAND\tSESSIONS\tSIGHTINGS\tEMV\t")

		var totalSightings int
		var totalMoney float64
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t\n", s.Brand, s.SessionCount, s.Sightings, utils.FormatMoney(s.Money))
			totalSightings += s.Sightings
			totalMoney += s.Money
		}

		fmt.Fprintln(w, " \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t \t%d\t%s\t\n", totalSightings, utils.FormatMoney(totalMoney))

		w.Flush()

		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(sessionsCmd)
	dbCmd.AddCommand(deleteCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)

	sessionsCmd.Flags().String("search", "", "Only list sessions whose asset name contains this text")
	sessionsCmd.Flags().String("since", "", "Only list sessions started after this RFC3339 timestamp")
	sessionsCmd.Flags().Int("limit", 50, "Maximum number of sessions to list")
}
