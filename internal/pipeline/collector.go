package pipeline

import (
	"caselist-scout/internal/pacing"
	"context"
	"errors"
	"fmt"
)

const (
	report_collector_collect_group = "collector.collect-group"
	report_collector_collect_unit  = "collector.collect-unit"
	report_collector_checkpoint    = "collector.checkpoint"
)

// Summary is the aggregate outcome of a collection pass.
type Summary struct {
	// Records is the size of the result set once the pass is over, baseline
	// included.
	Records int
	// Added counts the records this pass appended.
	Added        int
	Verified     int
	Mismatched   int
	Unverifiable int
	Failed       int
	Skipped      int
	// Unresolved counts the index entries that are still unresolved.
	Unresolved int
	// Repaired counts the entries the reconciler resolved.
	Repaired int
	Errors   int
	// Discarded counts the entries of a previous error log that a retry
	// did not cover, they are not carried into the new log.
	Discarded int
}

type CollectorOptions struct {
	BatchSize int
	// MaxRetries is the number of extra attempts a mismatching leaf unit is
	// given, it is fetched at most MaxRetries+1 times.
	MaxRetries int
	// SkipVerified skips leaf units whose baseline already holds exactly the
	// expected number of records.
	SkipVerified bool
	// Selection restricts collection, nil collects everything.
	Selection Selection
}

// Collector is the last pass, it fetches the records of every leaf unit and
// verifies them against the index.
type Collector struct {
	nav     navigator
	store   Checkpointer
	options CollectorOptions
}

type unitOutcome int

const (
	OUTCOME_VERIFIED unitOutcome = iota
	OUTCOME_MISMATCHED
	OUTCOME_UNVERIFIABLE
	OUTCOME_FAILED
	OUTCOME_SKIPPED
)

// Collect never modifies index. The result set is persisted after every
// leaf unit, the error log after every group.
func (c Collector) Collect(ctx context.Context, groups []string, index Index, results *ResultSet, errs *ErrorLog) (Summary, error) {
	summary := Summary{}
	before := results.Len()

	groups = c.options.Selection.Groups(groups)
	batches := pacing.Batches(groups, c.options.BatchSize)
	for i, batch := range batches {
		c.nav.tel.ReportDebug("collecting batch", i+1, len(batches), len(batch))

		for _, group := range batch {
			err := c.collectGroup(ctx, group, index, results, errs, &summary)
			if err != nil {
				return c.finish(summary, before, index, results, errs), err
			}

			err = c.store.SaveErrors(errs)
			if err != nil {
				c.nav.tel.ReportBroken(report_collector_checkpoint, err, group)
				return c.finish(summary, before, index, results, errs), fmt.Errorf("save errors: %w", err)
			}

			err = c.nav.governor.AfterGroup(ctx)
			if err != nil {
				return c.finish(summary, before, index, results, errs), err
			}
		}

		if i < len(batches)-1 {
			c.nav.tel.ReportDebug("waiting before next batch", c.nav.governor.Delays().Batch.String())
			err := c.nav.governor.AfterBatch(ctx)
			if err != nil {
				return c.finish(summary, before, index, results, errs), err
			}
		}
	}

	return c.finish(summary, before, index, results, errs), nil
}

func (c Collector) finish(summary Summary, before int, index Index, results *ResultSet, errs *ErrorLog) Summary {
	summary.Records = results.Len()
	summary.Added = results.Len() - before
	summary.Unresolved = len(index.UnresolvedUnits())
	summary.Errors = errs.Len()
	return summary
}

func (c Collector) collectGroup(ctx context.Context, group string, index Index, results *ResultSet, errs *ErrorLog, summary *Summary) error {
	units, err := c.nav.leafUnits(ctx, group)
	if interrupted(ctx) {
		return ctx.Err()
	}
	if errors.Is(err, errAuthentication) {
		errs.Add(groupError(KIND_FETCH_TRANSIENT_ERROR, group, "%s", err.Error()))
		return nil
	}
	if err != nil {
		c.nav.tel.ReportWarning(report_collector_collect_group, err, group)
		errs.Add(groupError(KIND_GROUP_NOT_FOUND, group, "%s", err.Error()))
		return nil
	}
	if len(units) == 0 {
		c.nav.tel.ReportWarning(report_collector_collect_group, "no leaf units found", group)
		errs.Add(groupError(KIND_NO_LEAF_UNITS_FOUND, group, "group page lists no leaf units"))
		return nil
	}

	seen := map[string]struct{}{}
	for _, unit := range units {
		if _, ok := seen[unit.Name]; ok {
			continue
		}
		seen[unit.Name] = struct{}{}
		if !c.options.Selection.Includes(group, unit.Name) {
			continue
		}

		expected, ok := index.Get(group, unit.Name)
		if !ok {
			c.nav.tel.ReportWarning(report_collector_collect_unit, "leaf unit missing from index, treating as unresolved", group, unit.Name)
			expected = Unresolved()
		}

		outcome, err := c.collectUnit(ctx, group, unit, expected, results, errs)
		if err != nil {
			return err
		}
		switch outcome {
		case OUTCOME_VERIFIED:
			summary.Verified++
		case OUTCOME_MISMATCHED:
			summary.Mismatched++
		case OUTCOME_UNVERIFIABLE:
			summary.Unverifiable++
		case OUTCOME_FAILED:
			summary.Failed++
		case OUTCOME_SKIPPED:
			summary.Skipped++
			continue
		}

		err = c.store.SaveResults(results)
		if err != nil {
			c.nav.tel.ReportBroken(report_collector_checkpoint, err, group, unit.Name)
			return fmt.Errorf("save results: %w", err)
		}

		err = c.nav.governor.AfterUnit(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// collectUnit only returns an error when the run has to stop.
func (c Collector) collectUnit(ctx context.Context, group string, unit LeafUnitRef, expected Expected, results *ResultSet, errs *ErrorLog) (unitOutcome, error) {
	want, resolved := expected.Count()

	if !resolved {
		records, _, err := c.nav.fetchUnit(ctx, unit)
		if interrupted(ctx) {
			return OUTCOME_FAILED, ctx.Err()
		}
		if err != nil {
			c.nav.tel.ReportWarning(report_collector_collect_unit, err, group, unit.Name)
			errs.Add(unitError(KIND_FETCH_TRANSIENT_ERROR, group, unit.Name, "%s", err.Error()))
			return OUTCOME_FAILED, nil
		}
		added := results.Append(tagRecords(group, unit.Name, records))
		c.nav.tel.ReportDebug("leaf unit has no expectation, accepted unverified", group, unit.Name, len(records), added)
		return OUTCOME_UNVERIFIABLE, nil
	}

	if c.options.SkipVerified && results.Count(group, unit.Name) == want {
		c.nav.tel.ReportDebug("leaf unit already verified, skipping", group, unit.Name, want)
		return OUTCOME_SKIPPED, nil
	}

	var (
		last    []Record
		fetched bool
		lastErr error
	)
	attempts := c.options.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.nav.tel.ReportDebug("retrying leaf unit", group, unit.Name, attempt, attempts)
			err := c.nav.governor.BeforeRetry(ctx)
			if err != nil {
				return OUTCOME_FAILED, err
			}
		}

		records, _, err := c.nav.fetchUnit(ctx, unit)
		if interrupted(ctx) {
			return OUTCOME_FAILED, ctx.Err()
		}
		if err != nil {
			lastErr = err
			c.nav.tel.ReportWarning(report_collector_collect_unit, err, group, unit.Name, attempt)
			continue
		}

		last = records
		fetched = true
		if len(records) == want {
			added := results.Append(tagRecords(group, unit.Name, records))
			c.nav.tel.ReportDebug("leaf unit verified", group, unit.Name, want, attempt, added)
			return OUTCOME_VERIFIED, nil
		}
		c.nav.tel.ReportWarning(
			report_collector_collect_unit,
			fmt.Sprintf("count mismatch: expected %d, got %d", want, len(records)),
			group, unit.Name, attempt,
		)
	}

	if !fetched {
		errs.Add(unitError(
			KIND_FETCH_TRANSIENT_ERROR, group, unit.Name,
			"all %d attempts failed: %s", attempts, lastErr.Error(),
		))
		return OUTCOME_FAILED, nil
	}

	// last is the most recent attempt that rendered, a later attempt that
	// failed to fetch has no records to keep.
	results.Append(tagRecords(group, unit.Name, last))
	errs.Add(countMismatch(group, unit.Name, want, len(last)))
	return OUTCOME_MISMATCHED, nil
}
