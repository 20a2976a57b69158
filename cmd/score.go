package main

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jtheoc80/permit-leads/internal/scorer"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute lead scores",
	Long: `Recompute scores for stored leads.

With --rescore, every lead gets a fresh score under the current scoring
config; each pass appends a new score version, history is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rescore, _ := cmd.Flags().GetBool("rescore")
		if !rescore {
			return eris.New("score: nothing to do, pass --rescore")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc := scorer.NewService(st, cfg.Scoring, clockwork.NewRealClock())
		n, err := svc.Rescore(ctx)
		if err != nil {
			return eris.Wrap(err, "score")
		}

		fmt.Printf("Rescored %d leads (config hash %s)\n", n, scorer.ConfigHash(cfg.Scoring))
		return nil
	},
}

func init() {
	scoreCmd.Flags().Bool("rescore", false, "recompute scores for all stored leads")
	rootCmd.AddCommand(scoreCmd)
}
