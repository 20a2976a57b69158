package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jtheoc80/permit-leads/internal/adapter"
	"github.com/jtheoc80/permit-leads/internal/config"
	"github.com/jtheoc80/permit-leads/internal/etl"
	"github.com/jtheoc80/permit-leads/internal/fetcher"
	"github.com/jtheoc80/permit-leads/internal/leads"
	"github.com/jtheoc80/permit-leads/internal/model"
	"github.com/jtheoc80/permit-leads/internal/monitoring"
	"github.com/jtheoc80/permit-leads/internal/scorer"
	"github.com/jtheoc80/permit-leads/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Sync permit sources and derive scored leads",
	Long: `Sync all configured permit sources incrementally.

Each source gets its own fetch window based on its stored watermark; sources
run in parallel and one source failing never stops the others. Use --source
to restrict the run, --dry-run to fetch and normalize without writing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "ingest"))

		sourceFilter, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		sources, err := loadSources(sourceFilter)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "ingest: migrate")
		}

		if err := os.MkdirAll(cfg.Ingest.TempDir, 0o755); err != nil {
			return eris.Wrapf(err, "ingest: create temp dir %s", cfg.Ingest.TempDir)
		}

		engine := buildEngine(st, sources)
		engine.MaxConcurrent = cfg.Ingest.MaxConcurrentSources

		log.Info("starting ingest",
			zap.Int("sources", len(sources)),
			zap.Bool("dry_run", dryRun),
		)

		results, err := engine.Run(ctx, sources, etl.RunOptions{Limit: limit, DryRun: dryRun})
		printResults(results)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("source", "", "comma-separated source names (default all)")
	ingestCmd.Flags().Int("limit", 0, "page size override (default per-source)")
	ingestCmd.Flags().Bool("dry-run", false, "fetch and normalize without writing")
	rootCmd.AddCommand(ingestCmd)
}

// loadSources reads the source registry, optionally filtered by name.
func loadSources(filter string) ([]model.SourceConfig, error) {
	all, err := config.LoadSources(cfg.Ingest.SourcesFile, cfg.Ingest)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return all, nil
	}

	want := make(map[string]bool)
	for _, name := range strings.Split(filter, ",") {
		want[strings.TrimSpace(name)] = true
	}
	var selected []model.SourceConfig
	for _, s := range all {
		if want[s.Name] {
			selected = append(selected, s)
			delete(want, s.Name)
		}
	}
	if len(want) > 0 {
		for name := range want {
			return nil, eris.Errorf("ingest: unknown source %q", name)
		}
	}
	return selected, nil
}

// buildEngine wires the fetchers, adapters, trigger, and scorer around a
// store.
func buildEngine(st store.Store, sources []model.SourceConfig) *etl.Engine {
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Ingest.UserAgent,
		Timeout:    cfg.Ingest.FetchTimeout(),
		MaxRetries: cfg.Ingest.MaxRetries,
	})
	ftpFetcher := fetcher.NewFTPFetcher(fetcher.FTPOptions{
		Timeout: cfg.Ingest.FetchTimeout(),
	})
	clock := clockwork.NewRealClock()

	factory := func(src model.SourceConfig) (adapter.Adapter, error) {
		return adapter.New(src, adapter.Deps{
			HTTP:    httpFetcher,
			FTP:     ftpFetcher,
			Clock:   clock,
			Token:   config.SourceToken(src),
			TempDir: cfg.Ingest.TempDir,
			Timeout: cfg.Ingest.FetchTimeout(),
		})
	}

	scoring := scorer.NewService(st, cfg.Scoring, clock)
	trigger := leads.NewTrigger(st, scoring, sources)
	alerter := monitoring.NewAlerter(cfg.Alert)

	return etl.New(st, trigger, alerter, factory, clock)
}

func printResults(results []etl.Result) {
	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Printf("%-30s skipped (locked)\n", r.Source)
		case r.Err != nil:
			fmt.Printf("%-30s FAILED: %v\n", r.Source, r.Err)
		default:
			fmt.Printf("%-30s fetched=%d quarantined=%d inserted=%d updated=%d leads=%d\n",
				r.Source, r.Summary.Fetched, r.Summary.Quarantined,
				r.Summary.Inserted, r.Summary.Updated, r.Summary.LeadsCreated)
		}
	}
}
