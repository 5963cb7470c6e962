package pipeline

import (
	"context"
	"fmt"
)

const (
	report_reconciler_reconcile  = "reconciler.reconcile"
	report_reconciler_checkpoint = "reconciler.checkpoint"
)

// Reconciler is the repair pass for leaf units the indexer left unresolved.
// Every unresolved entry is recomputed exactly once.
type Reconciler struct {
	nav   navigator
	store Checkpointer
}

// Reconcile never alters a resolved entry. It persists the index once every
// entry has been tried.
func (r Reconciler) Reconcile(ctx context.Context, index Index, errs *ErrorLog) (repaired int, err error) {
	pending := index.UnresolvedUnits()
	r.nav.tel.ReportCount("unresolved-units", int64(len(pending)))

	var groups []string
	byGroup := map[string][]string{}
	for _, key := range pending {
		if _, ok := byGroup[key.Group]; !ok {
			groups = append(groups, key.Group)
		}
		byGroup[key.Group] = append(byGroup[key.Group], key.LeafUnit)
	}

	for _, group := range groups {
		n, err := r.reconcileGroup(ctx, group, byGroup[group], index, errs)
		repaired += n
		if err != nil {
			return repaired, err
		}
		err = r.nav.governor.AfterGroup(ctx)
		if err != nil {
			return repaired, err
		}
	}

	err = r.store.SaveIndex(index)
	if err != nil {
		r.nav.tel.ReportBroken(report_reconciler_checkpoint, err)
		return repaired, fmt.Errorf("save index: %w", err)
	}
	err = r.store.SaveErrors(errs)
	if err != nil {
		r.nav.tel.ReportBroken(report_reconciler_checkpoint, err)
		return repaired, fmt.Errorf("save errors: %w", err)
	}
	return repaired, nil
}

func (r Reconciler) reconcileGroup(ctx context.Context, group string, units []string, index Index, errs *ErrorLog) (int, error) {
	// addresses are not persisted, they have to be recovered from the
	// group's listing
	listed, err := r.nav.leafUnits(ctx, group)
	if interrupted(ctx) {
		return 0, ctx.Err()
	}
	if err != nil {
		r.nav.tel.ReportWarning(report_reconciler_reconcile, err, group)
		for _, unit := range units {
			errs.Add(unitError(
				KIND_UNRESOLVED_AFTER_RECONCILIATION, group, unit,
				"could not re-enumerate group: %s", err.Error(),
			))
		}
		return 0, nil
	}

	addresses := map[string]LeafUnitRef{}
	for _, ref := range listed {
		if _, ok := addresses[ref.Name]; !ok {
			addresses[ref.Name] = ref
		}
	}

	repaired := 0
	for _, unit := range units {
		ref, ok := addresses[unit]
		if !ok {
			errs.Add(unitError(
				KIND_UNRESOLVED_AFTER_RECONCILIATION, group, unit,
				"leaf unit is no longer listed",
			))
			continue
		}

		expected, err := r.nav.countUnit(ctx, ref)
		if interrupted(ctx) {
			return repaired, ctx.Err()
		}
		if _, resolved := expected.Count(); resolved {
			index.Set(group, unit, expected)
			repaired++
			r.nav.tel.ReportDebug("reconciled leaf unit", group, unit, expected.String())
		} else {
			errs.Add(unitError(
				KIND_UNRESOLVED_AFTER_RECONCILIATION, group, unit,
				"still failed: %v", err,
			))
		}

		err = r.nav.governor.AfterUnit(ctx)
		if err != nil {
			return repaired, err
		}
	}
	return repaired, nil
}
