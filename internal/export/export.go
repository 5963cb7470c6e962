// Package export turns checkpoint artifacts into formats meant for people
// and other tools: a flat CSV file or a SQL database.
package export

import (
	"caselist-scout/internal/db"
	"caselist-scout/internal/pipeline"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
)

var csvHeader = []string{
	"School",
	"Team",
	"Tournament",
	"Round",
	"Side",
	"Opponent",
	"Judge",
	"Round Report",
	"Preview URL",
	"Download URL",
}

// WriteCSV writes one row per record in result set order.
func WriteCSV(w io.Writer, records []pipeline.Record) error {
	writer := csv.NewWriter(w)
	err := writer.Write(csvHeader)
	if err != nil {
		return err
	}

	for _, r := range records {
		var preview, download string
		if r.Attachment != nil {
			preview = r.Attachment.PreviewUrl
			download = r.Attachment.DownloadUrl
		}
		err = writer.Write([]string{
			r.Group,
			r.LeafUnit,
			r.SourceLabel,
			r.SequenceLabel,
			r.Side,
			r.Counterpart,
			r.Adjudicator,
			r.Note,
			preview,
			download,
		})
		if err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// Artifacts is everything a run persists.
type Artifacts struct {
	Index   pipeline.Index
	Results *pipeline.ResultSet
	Errors  *pipeline.ErrorLog
}

// WriteDB replaces the contents of the database with artifacts in a single
// transaction.
func WriteDB(ctx context.Context, database *sql.DB, artifacts Artifacts) error {
	_, err := database.ExecContext(ctx, db.Schema)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	tx, discard, commit, err := db.NewMakeTx(database)(ctx)
	if err != nil {
		return fmt.Errorf("make tx: %w", err)
	}
	defer discard()

	err = tx.DeleteAllRecords(ctx)
	if err != nil {
		return fmt.Errorf("DeleteAllRecords: %w", err)
	}
	err = tx.DeleteAllExpectations(ctx)
	if err != nil {
		return fmt.Errorf("DeleteAllExpectations: %w", err)
	}
	err = tx.DeleteAllErrors(ctx)
	if err != nil {
		return fmt.Errorf("DeleteAllErrors: %w", err)
	}

	if artifacts.Results != nil {
		for _, r := range artifacts.Results.Records() {
			params := db.InsertRecordParams{
				GroupID:       r.Group,
				LeafUnit:      r.LeafUnit,
				SourceLabel:   r.SourceLabel,
				SequenceLabel: r.SequenceLabel,
				Side:          r.Side,
				Counterpart:   r.Counterpart,
				Adjudicator:   r.Adjudicator,
				Note:          r.Note,
			}
			if r.Attachment != nil {
				params.PreviewUrl = nullString(r.Attachment.PreviewUrl)
				params.DownloadUrl = nullString(r.Attachment.DownloadUrl)
			}
			err = tx.InsertRecord(ctx, params)
			if err != nil {
				return fmt.Errorf("InsertRecord: %w", err)
			}
		}
	}

	groups := make([]string, 0, len(artifacts.Index))
	for group := range artifacts.Index {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	for _, group := range groups {
		for unit, expected := range artifacts.Index[group] {
			params := db.InsertExpectationParams{GroupID: group, LeafUnit: unit}
			if n, resolved := expected.Count(); resolved {
				params.Expected = sql.NullInt64{Int64: int64(n), Valid: true}
			}
			err = tx.InsertExpectation(ctx, params)
			if err != nil {
				return fmt.Errorf("InsertExpectation: %w", err)
			}
		}
	}

	if artifacts.Errors != nil {
		for _, e := range artifacts.Errors.Entries() {
			err = tx.InsertError(ctx, db.InsertErrorParams{
				Scope:    string(e.Scope),
				Kind:     string(e.Kind),
				Message:  e.Message,
				GroupID:  e.Group,
				LeafUnit: nullString(e.LeafUnit),
				Expected: nullInt(e.Expected),
				Actual:   nullInt(e.Actual),
			})
			if err != nil {
				return fmt.Errorf("InsertError: %w", err)
			}
		}
	}

	return commit()
}

// Verification is what a database written by WriteDB says about a run.
type Verification struct {
	Groups []pipeline.GroupReport
	Errors map[pipeline.Kind]int
}

// ReadVerification rebuilds the per group reports from a database written by
// WriteDB. Records are only counted for leaf units that have an expectation.
func ReadVerification(ctx context.Context, database *sql.DB, ordered []string) (Verification, error) {
	q := db.New(database)

	rows, err := q.GetVerification(ctx)
	if err != nil {
		return Verification{}, fmt.Errorf("GetVerification: %w", err)
	}
	reports := map[string]*pipeline.GroupReport{}
	for _, row := range rows {
		report, ok := reports[row.GroupID]
		if !ok {
			report = &pipeline.GroupReport{Group: row.GroupID}
			reports[row.GroupID] = report
		}
		report.Units++
		report.Records += int(row.Actual)
		switch {
		case !row.Expected.Valid:
			report.Unresolved++
		case row.Expected.Int64 == row.Actual:
			report.Verified++
		default:
			report.Mismatched++
		}
	}
	groups := make([]pipeline.GroupReport, 0, len(reports))
	for _, r := range reports {
		groups = append(groups, *r)
	}

	kinds, err := q.CountErrorsByKind(ctx)
	if err != nil {
		return Verification{}, fmt.Errorf("CountErrorsByKind: %w", err)
	}
	errs := map[pipeline.Kind]int{}
	for _, k := range kinds {
		errs[pipeline.Kind(k.Kind)] = int(k.Count)
	}

	return Verification{
		Groups: pipeline.OrderReports(ordered, groups),
		Errors: errs,
	}, nil
}
