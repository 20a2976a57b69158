package main

import (
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jtheoc80/permit-leads/internal/adapter"
	"github.com/jtheoc80/permit-leads/internal/config"
	"github.com/jtheoc80/permit-leads/internal/fetcher"
	"github.com/jtheoc80/permit-leads/internal/model"
	"github.com/jtheoc80/permit-leads/internal/normalize"
	"github.com/jtheoc80/permit-leads/internal/store"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill <source>",
	Short: "Bulk-load one source's full window",
	Long: `Fetch a source's entire lookback window and load it in bulk.

Intended for first-time loads of large flat files, where the per-record
change-detecting upsert is needless overhead. Requires the postgres driver;
no watermark is advanced and no leads are derived, run ingest afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "backfill"))

		sources, err := loadSources(args[0])
		if err != nil {
			return err
		}
		src := sources[0]

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pg, ok := st.(*store.PostgresStore)
		if !ok {
			return eris.New("backfill: requires the postgres driver")
		}
		if err := pg.Migrate(ctx); err != nil {
			return eris.Wrap(err, "backfill: migrate")
		}
		if err := os.MkdirAll(cfg.Ingest.TempDir, 0o755); err != nil {
			return eris.Wrapf(err, "backfill: create temp dir %s", cfg.Ingest.TempDir)
		}

		clock := clockwork.NewRealClock()
		a, err := adapter.New(src, adapter.Deps{
			HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
				UserAgent:  cfg.Ingest.UserAgent,
				Timeout:    cfg.Ingest.FetchTimeout(),
				MaxRetries: cfg.Ingest.MaxRetries,
			}),
			FTP:     fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: cfg.Ingest.FetchTimeout()}),
			Clock:   clock,
			Token:   config.SourceToken(src),
			TempDir: cfg.Ingest.TempDir,
			Timeout: cfg.Ingest.FetchTimeout(),
		})
		if err != nil {
			return err
		}

		since := clock.Now().UTC().Add(-src.Lookback.Std())
		recCh, errCh := a.FetchSince(ctx, since, 0)

		var permits []*model.Permit
		var quarantined int
		for rec := range recCh {
			p, err := normalize.Normalize(rec, src)
			if err != nil {
				if !normalize.IsQuarantine(err) {
					return eris.Wrap(err, "backfill: normalize")
				}
				quarantined++
				if qerr := pg.Quarantine(ctx, rec, err.Error()); qerr != nil {
					return qerr
				}
				continue
			}
			permits = append(permits, p)
		}
		if err := <-errCh; err != nil {
			return eris.Wrapf(err, "backfill: fetch %s", src.Name)
		}

		n, err := pg.BulkUpsertPermits(ctx, permits)
		if err != nil {
			return err
		}

		log.Info("backfill complete",
			zap.String("source", src.Name),
			zap.Int64("rows", n),
			zap.Int("quarantined", quarantined),
		)
		fmt.Printf("Loaded %d permits from %s (%d quarantined)\n", n, src.Name, quarantined)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}
