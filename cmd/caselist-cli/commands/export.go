package commands

import (
	"caselist-scout/internal/export"
	"caselist-scout/lib/util/serviceutil"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	exportFormat *string
	exportOut    *string
)

func init() {
	exportFormat = exportCmd.Flags().StringP("format", "f", "csv", "The export format, csv or sqlite.")
	exportOut = exportCmd.Flags().StringP("out", "o", "", "The output file, csv defaults to stdout and sqlite defaults to the configured database.")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Exports the collected records as csv or into a sqlite / libsql database.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		artifacts, err := loadArtifacts(cfg)
		if err != nil {
			serviceutil.Fatal("failed to load artifacts", err)
		}

		switch *exportFormat {
		case "csv":
			err = exportCsv(artifacts)
		case "sqlite":
			err = exportDatabase(cmd, cfg, artifacts)
		default:
			err = fmt.Errorf("unknown format '%s'", *exportFormat)
		}
		if err != nil {
			serviceutil.Fatal("export failed", err)
		}
	},
}

func exportCsv(artifacts export.Artifacts) error {
	out := os.Stdout
	if *exportOut != "" {
		f, err := os.Create(*exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	err := export.WriteCSV(out, artifacts.Results.Records())
	if err != nil {
		return err
	}
	if *exportOut != "" {
		slog.Info("wrote csv", "path", *exportOut, "records", artifacts.Results.Len())
	}
	return nil
}

func exportDatabase(cmd *cobra.Command, cfg Config, artifacts export.Artifacts) error {
	dbConfig := cfg.Database
	if *exportOut != "" {
		dbConfig.File = *exportOut
		dbConfig.Url = ""
	}
	database, err := dbConfig.OpenDB()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	err = export.WriteDB(cmd.Context(), database, artifacts)
	if err != nil {
		return err
	}
	slog.Info(
		"wrote database",
		"records", artifacts.Results.Len(),
		"errors", artifacts.Errors.Len(),
	)
	return nil
}
