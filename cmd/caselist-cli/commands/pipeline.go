package commands

import (
	"caselist-scout/internal/checkpoint"
	"caselist-scout/internal/components/chrono"
	"caselist-scout/internal/pacing"
	"caselist-scout/internal/pipeline"
	"caselist-scout/internal/scrapers/caselist"
	"caselist-scout/lib/util/serviceutil"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newRunner(cfg Config) (pipeline.Runner, error) {
	options, err := cfg.runnerOptions()
	if err != nil {
		return pipeline.Runner{}, err
	}
	delays, err := cfg.delays()
	if err != nil {
		return pipeline.Runner{}, err
	}

	client, err := caselist.NewClient(caselist.ClientOptions{
		BaseUrl:           cfg.BaseUrl,
		LoginPath:         cfg.LoginPath,
		AllowedHosts:      cfg.AllowedHosts,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, tel)
	if err != nil {
		return pipeline.Runner{}, fmt.Errorf("create client: %w", err)
	}

	parserOptions := caselist.DefaultParserOptions()
	parserOptions.DownloadBaseUrl = cfg.DownloadBaseUrl
	parser := caselist.NewParser(parserOptions, tel)

	store, err := checkpoint.NewStore(cfg.Checkpoint, tel)
	if err != nil {
		return pipeline.Runner{}, err
	}

	governor := pacing.NewGovernor(delays, chrono.NewStandardImpl())
	return pipeline.NewRunner(client, parser, store, governor, options, tel), nil
}

func printSummary(summary pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Summary")
	t.AppendRows([]table.Row{
		{"records collected", summary.Records},
		{"records added", summary.Added},
		{"verified units", summary.Verified},
		{"mismatched units", summary.Mismatched},
		{"unverifiable units", summary.Unverifiable},
		{"failed units", summary.Failed},
		{"skipped units", summary.Skipped},
		{"repaired expectations", summary.Repaired},
		{"unresolved expectations", summary.Unresolved},
		{"logged errors", summary.Errors},
	})
	if summary.Discarded > 0 {
		t.AppendFooter(table.Row{"previous errors not retried", summary.Discarded})
	}
	t.Render()
	if summary.Discarded > 0 {
		slog.Warn(
			"the error log was rewritten, previous entries that were not retried are gone",
			"discarded", summary.Discarded,
		)
	}
}

// phaseCmd builds a command that runs one phase of the pipeline.
func phaseCmd(use, short string, phase func(cmd *cobra.Command, runner pipeline.Runner) (pipeline.Summary, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				serviceutil.Fatal("failed to read config", err)
			}
			runner, err := newRunner(cfg)
			if err != nil {
				serviceutil.Fatal("failed to set up pipeline", err)
			}

			slog.Info("starting", "command", cmd.Name(), "groups", len(cfg.Groups), "user", cfg.Username)
			t1 := time.Now()
			summary, err := phase(cmd, runner)
			t2 := time.Now()
			printSummary(summary)
			slog.Info("finished", "command", cmd.Name(), "duration", t2.Sub(t1).Round(time.Second).String())

			if errors.Is(err, context.Canceled) {
				serviceutil.Fatal("interrupted, progress was checkpointed", err)
			}
			if err != nil {
				serviceutil.Fatal("run aborted", err)
			}
		},
	}
}

func init() {
	rootCmd.AddCommand(
		phaseCmd("run", "Indexes, reconciles and collects every configured group.",
			func(cmd *cobra.Command, runner pipeline.Runner) (pipeline.Summary, error) {
				return runner.Run(cmd.Context())
			}),
		phaseCmd("index", "Builds the index of expected record counts.",
			func(cmd *cobra.Command, runner pipeline.Runner) (pipeline.Summary, error) {
				return runner.Index(cmd.Context())
			}),
		phaseCmd("reconcile", "Retries the leaf units the index could not count.",
			func(cmd *cobra.Command, runner pipeline.Runner) (pipeline.Summary, error) {
				return runner.Reconcile(cmd.Context())
			}),
		phaseCmd("collect", "Collects records and verifies them against the existing index.",
			func(cmd *cobra.Command, runner pipeline.Runner) (pipeline.Summary, error) {
				return runner.Collect(cmd.Context(), nil)
			}),
		phaseCmd("retry", "Collects again what the previous run logged as failed.",
			func(cmd *cobra.Command, runner pipeline.Runner) (pipeline.Summary, error) {
				return runner.Retry(cmd.Context())
			}),
	)
}
