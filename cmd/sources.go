package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jtheoc80/permit-leads/internal/config"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Validate and list the source registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := config.LoadSources(cfg.Ingest.SourcesFile, cfg.Ingest)
		if err != nil {
			return err
		}

		fmt.Printf("%-30s %-16s %-20s %s\n", "NAME", "KIND", "JURISDICTION", "AUTH")
		for _, s := range sources {
			auth := string(s.AuthMode)
			if s.TokenEnv != "" {
				auth += " (" + s.TokenEnv + ")"
			}
			fmt.Printf("%-30s %-16s %-20s %s\n", s.Name, s.Kind, s.Jurisdiction, auth)
		}
		fmt.Printf("\n%d sources OK\n", len(sources))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
