package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/harvester/internal/cache"
	"github.com/ppiankov/harvester/internal/journal"
)

var (
	journalRun     string
	journalLimit   int
	journalEntries bool
)

// journalCmd represents the journal command
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recorded harvest runs",
	Long: `Journal lists recent runs and the outcome counts of one run.

Without --run the most recent run is summarized.

Example:
  harvest journal
  harvest journal --run 6f1c2d3e-... --entries`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().StringVar(&journalRun, "run", "", "run id to summarize (default: most recent)")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 10, "number of recent runs to list")
	journalCmd.Flags().BoolVar(&journalEntries, "entries", false, "print every recorded outcome of the run")
}

func runJournal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	j, err := journal.OpenReadOnly(cache.ExpandHome(cfg.Journal.Path))
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	ctx := cmd.Context()
	runs, err := j.Runs(ctx, journalLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(os.Stderr, "No runs recorded in %s\n", cfg.Journal.Path)
		return nil
	}

	fmt.Println("Recent runs:")
	for _, r := range runs {
		status := "unfinished"
		switch {
		case r.Error != "":
			status = "error: " + r.Error
		case !r.FinishedAt.IsZero():
			status = "finished " + r.FinishedAt.Local().Format(time.DateTime)
		}
		fmt.Printf("  %s  %s  %s  %s  (%s)\n", r.ID, r.StartedAt.Local().Format(time.DateTime), r.Site, r.Template, status)
	}
	fmt.Println()

	runID := journalRun
	if runID == "" {
		runID = runs[0].ID
	}

	counts, err := j.Summary(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Printf("Outcomes of run %s:\n", runID)
	if len(counts) == 0 {
		fmt.Println("  (none)")
	}
	for _, c := range counts {
		label := c.Status
		if c.Reason != "" {
			label += " " + c.Reason
		}
		fmt.Printf("  %-32s %d\n", label, c.Count)
	}

	if !journalEntries {
		return nil
	}

	entries, err := j.Entries(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Println()
	for _, e := range entries {
		line := fmt.Sprintf("  %s  %-30s %-10s", e.At.Local().Format(time.TimeOnly), e.Page, e.Item)
		if e.Field != "" {
			line += fmt.Sprintf(" %s=%s", e.Field, e.Property)
		}
		line += " " + e.Status
		if e.Reason != "" {
			line += " (" + e.Reason + ")"
		}
		if e.Value != "" {
			line += " " + e.Value
		}
		if e.Detail != "" {
			line += ": " + e.Detail
		}
		fmt.Println(line)
	}
	return nil
}
