package pipeline

import (
	"caselist-scout/internal/pacing"
	"context"
	"errors"
	"fmt"
)

const (
	report_indexer_index_group = "indexer.index-group"
	report_indexer_index_unit  = "indexer.index-unit"
	report_indexer_checkpoint  = "indexer.checkpoint"
)

// Indexer is the first pass, it records how many records every leaf unit
// is expected to yield.
type Indexer struct {
	nav       navigator
	store     Checkpointer
	batchSize int
}

// Build indexes every group not yet present in index. The index is persisted
// after each group, the error log is flushed alongside it.
func (ix Indexer) Build(ctx context.Context, groups []string, index Index, errs *ErrorLog) error {
	batches := pacing.Batches(groups, ix.batchSize)
	for i, batch := range batches {
		ix.nav.tel.ReportDebug("indexing batch", i+1, len(batches), len(batch))

		for _, group := range batch {
			if index.HasGroup(group) {
				ix.nav.tel.ReportDebug("group already indexed, skipping", group)
				continue
			}

			err := ix.indexGroup(ctx, group, index, errs)
			if err != nil {
				return err
			}

			err = ix.store.SaveIndex(index)
			if err != nil {
				ix.nav.tel.ReportBroken(report_indexer_checkpoint, err, group)
				return fmt.Errorf("save index: %w", err)
			}
			err = ix.store.SaveErrors(errs)
			if err != nil {
				ix.nav.tel.ReportBroken(report_indexer_checkpoint, err, group)
				return fmt.Errorf("save errors: %w", err)
			}

			err = ix.nav.governor.AfterGroup(ctx)
			if err != nil {
				return err
			}
		}

		if i < len(batches)-1 {
			ix.nav.tel.ReportDebug("waiting before next batch", ix.nav.governor.Delays().Batch.String())
			err := ix.nav.governor.AfterBatch(ctx)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// indexGroup only returns an error when the run has to stop, failures of the
// group itself are logged.
func (ix Indexer) indexGroup(ctx context.Context, group string, index Index, errs *ErrorLog) error {
	units, err := ix.nav.leafUnits(ctx, group)
	if interrupted(ctx) {
		return ctx.Err()
	}
	if errors.Is(err, errAuthentication) {
		errs.Add(groupError(KIND_FETCH_TRANSIENT_ERROR, group, "%s", err.Error()))
		return nil
	}
	if err != nil {
		ix.nav.tel.ReportWarning(report_indexer_index_group, err, group)
		errs.Add(groupError(KIND_GROUP_NOT_FOUND, group, "%s", err.Error()))
		return nil
	}

	index.EnsureGroup(group)
	if len(units) == 0 {
		ix.nav.tel.ReportWarning(report_indexer_index_group, "no leaf units found", group)
		errs.Add(groupError(KIND_NO_LEAF_UNITS_FOUND, group, "group page lists no leaf units"))
		return nil
	}
	ix.nav.tel.ReportDebug("found leaf units", group, len(units))

	for _, unit := range units {
		expected, err := ix.nav.countUnit(ctx, unit)
		if interrupted(ctx) {
			return ctx.Err()
		}
		if err != nil {
			ix.nav.tel.ReportWarning(report_indexer_index_unit, err, group, unit.Name)
		}
		if !index.Set(group, unit.Name, expected) {
			ix.nav.tel.ReportWarning(report_indexer_index_unit, "leaf unit listed twice, keeping first expectation", group, unit.Name)
		}
		ix.nav.tel.ReportDebug("indexed leaf unit", group, unit.Name, expected.String())

		err = ix.nav.governor.AfterUnit(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}
