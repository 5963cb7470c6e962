package pipeline

import (
	"caselist-scout/internal/components/telemetry"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconciler(t *testing.T) {
	site := newFakeSite(map[string][]string{
		"Harvard": {"TeamA", "TeamB", "TeamC"},
		"Yale":    {"TeamD"},
	})
	site.script("Harvard", "TeamA", rows(9))
	site.script("Harvard", "TeamB", rows(4))
	site.script("Harvard", "TeamC", failing(), rows(1))
	site.script("Yale", "TeamD", rows(2))

	index := Index{
		"Harvard": {
			"TeamA": ExpectCount(5),
			"TeamB": Unresolved(),
			"TeamC": Unresolved(),
			"Gone":  Unresolved(),
		},
		"Yale": {"TeamD": ExpectCount(2)},
	}
	errs := NewErrorLog()
	store := &fakeStore{}

	reconciler := Reconciler{nav: testNavigator(site, &fakeClock{}, telemetry.NoopAPI{}), store: store}
	repaired, err := reconciler.Reconcile(context.Background(), index, errs)
	require.NoError(t, err)
	require.Equal(t, 1, repaired)

	// resolved entries are never touched
	n, _ := index["Harvard"]["TeamA"].Count()
	require.Equal(t, 5, n)
	require.Equal(t, 0, site.fetchCount("Harvard", "TeamA"))
	require.Equal(t, 0, site.fetchCount("Yale", "TeamD"))

	n, resolved := index["Harvard"]["TeamB"].Count()
	require.True(t, resolved)
	require.Equal(t, 4, n)

	// a single attempt, even though a second one would have succeeded
	require.Equal(t, 1, site.fetchCount("Harvard", "TeamC"))
	_, resolved = index["Harvard"]["TeamC"].Count()
	require.False(t, resolved)

	require.Equal(t, 2, errs.CountKind(KIND_UNRESOLVED_AFTER_RECONCILIATION))
	require.Equal(t, 1, store.indexSaves)
	// only the group with pending entries is re-enumerated
	require.Equal(t, 0, site.listings["Yale"])
}

func TestReconcilerGroupGone(t *testing.T) {
	site := newFakeSite(map[string][]string{})
	index := Index{"Harvard": {"TeamA": Unresolved(), "TeamB": Unresolved()}}
	errs := NewErrorLog()

	reconciler := Reconciler{nav: testNavigator(site, &fakeClock{}, telemetry.NoopAPI{}), store: &fakeStore{}}
	repaired, err := reconciler.Reconcile(context.Background(), index, errs)
	require.NoError(t, err)
	require.Equal(t, 0, repaired)
	require.Equal(t, 2, errs.CountKind(KIND_UNRESOLVED_AFTER_RECONCILIATION))
	require.Len(t, index.UnresolvedUnits(), 2)
}
