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

	"github.com/jtheoc80/permit-leads/internal/model"
	"github.com/jtheoc80/permit-leads/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and export derived leads",
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads ordered by score",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		results, err := st.ListLeads(ctx, leadFilterFromFlags(cmd))
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No leads match")
			return nil
		}
		fmt.Printf("%-5s %-6s %-25s %-12s %-16s %-12s %s\n",
			"SCORE", "LABEL", "NAME", "TYPE", "SERVICE", "VALUE", "JURISDICTION")
		for _, l := range results {
			value := "-"
			if l.Value != nil {
				value = fmt.Sprintf("$%.0f", *l.Value)
			}
			fmt.Printf("%-5d %-6s %-25s %-12s %-16s %-12s %s\n",
				l.LeadScore, l.ScoreLabel, truncate(l.Name, 25), l.LeadType,
				truncate(l.Service, 16), value, l.Jurisdiction)
		}
		return nil
	},
}

var leadsExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export leads to CSV or XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := leadFilterFromFlags(cmd)
		if filter.Limit == 100 {
			filter.Limit = 100000
		}
		results, err := st.ListLeads(ctx, filter)
		if err != nil {
			return err
		}

		switch {
		case strings.HasSuffix(path, ".xlsx"):
			err = exportXLSX(path, results)
		case strings.HasSuffix(path, ".csv"):
			err = exportCSV(path, results)
		default:
			return eris.Errorf("leads export: unsupported extension on %s (want .csv or .xlsx)", path)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Exported %d leads to %s\n", len(results), path)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{leadsListCmd, leadsExportCmd} {
		c.Flags().String("jurisdiction", "", "filter by jurisdiction")
		c.Flags().String("source", "", "filter by source")
		c.Flags().Int("min-score", 0, "minimum lead score")
		c.Flags().String("sort", "score", "sort by score, value, or recency")
		c.Flags().Int("limit", 100, "maximum rows")
	}
	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsExportCmd)
	rootCmd.AddCommand(leadsCmd)
}

func leadFilterFromFlags(cmd *cobra.Command) store.LeadFilter {
	jurisdiction, _ := cmd.Flags().GetString("jurisdiction")
	source, _ := cmd.Flags().GetString("source")
	minScore, _ := cmd.Flags().GetInt("min-score")
	sortBy, _ := cmd.Flags().GetString("sort")
	limit, _ := cmd.Flags().GetInt("limit")
	return store.LeadFilter{
		Jurisdiction: jurisdiction,
		Source:       source,
		MinScore:     minScore,
		SortBy:       sortBy,
		Limit:        limit,
	}
}

var exportHeader = []string{
	"score", "label", "name", "lead_type", "service", "trade", "value",
	"status", "jurisdiction", "source", "address", "permit_id", "issued_at",
}

func leadRow(l model.Lead) []string {
	value := ""
	if l.Value != nil {
		value = strconv.FormatFloat(*l.Value, 'f', 2, 64)
	}
	issued := ""
	if l.IssuedAt != nil {
		issued = l.IssuedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		strconv.Itoa(l.LeadScore), l.ScoreLabel, l.Name, string(l.LeadType),
		l.Service, l.Trade, value, string(l.Status), l.Jurisdiction,
		l.Source, l.Address, l.ExternalPermitID, issued,
	}
}

func exportCSV(path string, results []model.Lead) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "leads export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return eris.Wrap(err, "leads export: write header")
	}
	for _, l := range results {
		if err := w.Write(leadRow(l)); err != nil {
			return eris.Wrap(err, "leads export: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "leads export: flush csv")
}

func exportXLSX(path string, results []model.Lead) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "leads export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range exportHeader {
		header.AddCell().Value = col
	}
	for _, l := range results {
		row := sheet.AddRow()
		for _, v := range leadRow(l) {
			row.AddCell().Value = v
		}
	}

	return eris.Wrapf(file.Save(path), "leads export: save %s", path)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
