package commands

import (
	"caselist-scout/internal/export"
	"caselist-scout/internal/pipeline"
	"caselist-scout/lib/util/serviceutil"
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var errorKinds = []pipeline.Kind{
	pipeline.KIND_GROUP_NOT_FOUND,
	pipeline.KIND_NO_LEAF_UNITS_FOUND,
	pipeline.KIND_FETCH_TRANSIENT_ERROR,
	pipeline.KIND_COUNT_MISMATCH,
	pipeline.KIND_UNRESOLVED_AFTER_RECONCILIATION,
}

var summaryFromDb *bool

func init() {
	summaryFromDb = summaryCmd.Flags().Bool("from-db", false, "Read the configured database written by export instead of the checkpoint artifacts.")
	rootCmd.AddCommand(summaryCmd)
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Prints how far the collected records match the index, without touching the network.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		var verification export.Verification
		if *summaryFromDb {
			verification, err = verificationFromDb(cmd.Context(), cfg)
		} else {
			verification, err = verificationFromArtifacts(cfg)
		}
		if err != nil {
			serviceutil.Fatal("failed to load verification", err)
		}
		printVerification(verification)
	},
}

func verificationFromArtifacts(cfg Config) (export.Verification, error) {
	artifacts, err := loadArtifacts(cfg)
	if err != nil {
		return export.Verification{}, err
	}
	errs := map[pipeline.Kind]int{}
	for _, kind := range errorKinds {
		errs[kind] = artifacts.Errors.CountKind(kind)
	}
	return export.Verification{
		Groups: pipeline.Verify(cfg.Groups, artifacts.Index, artifacts.Results),
		Errors: errs,
	}, nil
}

func verificationFromDb(ctx context.Context, cfg Config) (export.Verification, error) {
	database, err := cfg.Database.OpenDB()
	if err != nil {
		return export.Verification{}, fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	return export.ReadVerification(ctx, database, cfg.Groups)
}

func printVerification(verification export.Verification) {
	groups := table.NewWriter()
	groups.SetOutputMirror(os.Stdout)
	groups.SetTitle("Groups")
	groups.AppendHeader(table.Row{"group", "units", "verified", "mismatched", "unresolved", "records"})
	var total pipeline.GroupReport
	for _, r := range verification.Groups {
		groups.AppendRow(table.Row{r.Group, r.Units, r.Verified, r.Mismatched, r.Unresolved, r.Records})
		total.Units += r.Units
		total.Verified += r.Verified
		total.Mismatched += r.Mismatched
		total.Unresolved += r.Unresolved
		total.Records += r.Records
	}
	groups.AppendFooter(table.Row{"total", total.Units, total.Verified, total.Mismatched, total.Unresolved, total.Records})
	groups.Render()

	errs := table.NewWriter()
	errs.SetOutputMirror(os.Stdout)
	errs.SetTitle("Logged errors")
	errs.AppendHeader(table.Row{"kind", "count"})
	for _, kind := range errorKinds {
		errs.AppendRow(table.Row{kind, verification.Errors[kind]})
	}
	errs.Render()
}
