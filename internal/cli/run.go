package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/harvester/internal/cache"
	"github.com/ppiankov/harvester/internal/harvest"
	"github.com/ppiankov/harvester/internal/journal"
	"github.com/ppiankov/harvester/internal/metrics"
	"github.com/ppiankov/harvester/internal/model"
	"github.com/ppiankov/harvester/internal/pipeline"
)

var (
	templateName string
	transcludes  string
	pages        []string
	namespace    int
	limit        int
	noCache      bool
	noJournal    bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run field PID [field PID ...]",
	Short: "Harvest template fields into claims",
	Long: `Run reads every page that transcludes a template (or the pages given
with --page), extracts the mapped template fields and adds each parsed value
as a claim to the page's item.

Redirects to the template are recognized as the same template. Fields whose
property already has a claim on the item are left alone.

Press Ctrl+C once to stop after the current page, twice to abort.

Example:
  harvest run --template Taxobox orde P70 familie P71
  harvest run --transcludes "Infobox plaats" --limit 20 --ask website P856
  harvest run --template Taxobox --page Baars --dry-run afbeelding P18`,
	Args: cobra.ArbitraryArgs,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Page selection
	runCmd.Flags().StringVar(&templateName, "template", "", "template to harvest")
	runCmd.Flags().StringVar(&transcludes, "transcludes", "", "template to harvest (same as --template)")
	runCmd.Flags().StringArrayVar(&pages, "page", nil, "harvest only this page (repeatable)")
	runCmd.Flags().IntVar(&namespace, "namespace", 0, "namespace of transcluding pages")
	runCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of pages (0 for no limit)")

	// Behavior
	runCmd.Flags().Bool("ask", false, "confirm every claim before writing it")
	runCmd.Flags().Bool("dry-run", false, "parse and report, but write nothing")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the lookup cache")
	runCmd.Flags().BoolVar(&noJournal, "no-journal", false, "do not record outcomes in the journal")

	_ = viper.BindPFlag("output.ask", runCmd.Flags().Lookup("ask"))
	_ = viper.BindPFlag("repo.dry_run", runCmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("metrics.addr", runCmd.Flags().Lookup("metrics-addr"))
}

func runHarvest(cmd *cobra.Command, args []string) error {
	template := templateName
	if template == "" {
		template = transcludes
	}
	if template == "" {
		return pipeline.ErrNoTemplate
	}
	if templateName != "" && transcludes != "" && templateName != transcludes {
		return fmt.Errorf("--template %q and --transcludes %q name different templates", templateName, transcludes)
	}

	// Bad field arguments fail before anything is opened or fetched
	fields, err := model.ParseFieldMapping(args)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return pipeline.ErrNoFields
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	if noJournal {
		cfg.Journal.Enabled = false
	}
	logger := newLogger(cfg.Output.Verbose)
	slog.SetDefault(logger)

	stop, ctx := harvest.NewStopToken(cmd.Context())
	defer stop.Release()
	defer watchInterrupts(stop)()

	site, media, repo := pipeline.Clients(cfg, logger)
	deps := pipeline.Deps{Site: site, Media: media, Repo: repo, Logger: logger}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cache.ExpandHome(cfg.Journal.Path))
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Warn("Failed to close journal", slog.String("error", closeErr.Error()))
			}
		}()
		deps.Journal = j
	}

	if cfg.Metrics.Addr != "" {
		m := metrics.New()
		deps.Metrics = m
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("Metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	if cfg.Output.Ask {
		deps.Confirm = &promptConfirmer{}
	}

	if cfg.Repo.DryRun {
		fmt.Fprintf(os.Stderr, "Dry run: no claims will be written\n\n")
	}

	result, runErr := pipeline.New(cfg, deps).Run(ctx, stop, pipeline.Options{
		Template:  template,
		Pages:     pages,
		Namespace: namespace,
		Limit:     limit,
		Fields:    args,
		DryRun:    cfg.Repo.DryRun,
	})
	if result != nil {
		printSummary(result)
	}

	switch {
	case errors.Is(runErr, harvest.ErrStopped):
		fmt.Fprintf(os.Stderr, "Stopped on request.\n")
		return nil
	case errors.Is(runErr, context.Canceled) && stop.State() == harvest.Forced:
		return errors.New("aborted")
	case runErr != nil:
		return fmt.Errorf("harvest failed: %w", runErr)
	}
	return nil
}

// watchInterrupts escalates stop on every SIGINT or SIGTERM until the
// returned function is called
func watchInterrupts(stop *harvest.StopToken) func() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-signals:
				switch stop.Request() {
				case harvest.Requested:
					fmt.Fprintf(os.Stderr, "\nStopping after the current page (Ctrl+C again to abort)...\n")
				case harvest.Forced:
					fmt.Fprintf(os.Stderr, "\nAborting...\n")
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(signals)
		close(done)
	}
}

func printSummary(result *pipeline.Result) {
	s := result.Summary
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Run %s\n", result.RunID)
	fmt.Fprintf(os.Stderr, "Template: %s\n", result.Template)
	fmt.Fprintf(os.Stderr, "Pages:    %d\n", s.Pages)
	fmt.Fprintf(os.Stderr, "Written:  %d\n", s.Written)
	if s.Declined > 0 {
		fmt.Fprintf(os.Stderr, "Declined: %d\n", s.Declined)
	}
	if s.Failed > 0 {
		fmt.Fprintf(os.Stderr, "Failed:   %d\n", s.Failed)
	}

	reasons := make([]string, 0, len(s.Skipped))
	for reason := range s.Skipped {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(os.Stderr, "  skipped %-20s %d\n", reason, s.Skipped[harvest.SkipReason(reason)])
	}
}
