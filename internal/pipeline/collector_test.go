package pipeline

import (
	"caselist-scout/internal/components/telemetry"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCollector(site *fakeSite, store *fakeStore, clock *fakeClock, tel telemetry.API, options CollectorOptions) Collector {
	if options.BatchSize == 0 {
		options.BatchSize = 5
	}
	return Collector{nav: testNavigator(site, clock, tel), store: store, options: options}
}

func TestCollectorHarvard(t *testing.T) {
	site := newFakeSite(map[string][]string{"Harvard": {"TeamA", "TeamB"}})
	site.script("Harvard", "TeamA", rows(5))
	site.script("Harvard", "TeamB", rows(3))

	index := Index{"Harvard": {
		"TeamA": ExpectCount(5),
		"TeamB": Unresolved(),
	}}
	results := NewResultSet()
	errs := NewErrorLog()
	tel := &telemetry.Recorder{}
	store := &fakeStore{}

	collector := newTestCollector(site, store, &fakeClock{}, tel, CollectorOptions{MaxRetries: 3})
	summary, err := collector.Collect(context.Background(), []string{"Harvard"}, index, results, errs)
	require.NoError(t, err)

	require.Equal(t, 1, site.fetchCount("Harvard", "TeamA"))
	require.Equal(t, 1, site.fetchCount("Harvard", "TeamB"))
	require.Equal(t, 5, results.Count("Harvard", "TeamA"))
	require.Equal(t, 3, results.Count("Harvard", "TeamB"))
	require.Equal(t, 0, errs.Len())

	require.Equal(t, 1, summary.Verified)
	require.Equal(t, 1, summary.Unverifiable)
	require.Equal(t, 0, summary.Mismatched)
	require.Equal(t, 8, summary.Records)
	require.Equal(t, 1, summary.Unresolved)

	noted := false
	for _, report := range tel.Reports("debug") {
		if report.Id == "leaf unit has no expectation, accepted unverified" {
			noted = true
		}
	}
	require.True(t, noted)

	// persisted after every leaf unit, errors after the group
	require.Equal(t, 2, store.resultsSaves)
	require.Equal(t, 1, store.errorsSaves)

	// every record is tagged with its owner
	for _, r := range results.Records() {
		require.Equal(t, "Harvard", r.Group)
		require.Contains(t, []string{"TeamA", "TeamB"}, r.LeafUnit)
	}
}

func TestCollectorRetryBound(t *testing.T) {
	const retries = 3

	site := newFakeSite(map[string][]string{"Yale": {"TeamA"}})
	site.script(
		"Yale", "TeamA",
		response{records: 2, prefix: "first ", shape: SHAPE_TABLE},
		response{records: 3, prefix: "later ", shape: SHAPE_TABLE},
	)

	index := Index{"Yale": {"TeamA": ExpectCount(4)}}
	results := NewResultSet()
	errs := NewErrorLog()
	clock := &fakeClock{}

	collector := newTestCollector(site, &fakeStore{}, clock, telemetry.NoopAPI{}, CollectorOptions{MaxRetries: retries})
	summary, err := collector.Collect(context.Background(), []string{"Yale"}, index, results, errs)
	require.NoError(t, err)

	require.Equal(t, retries+1, site.fetchCount("Yale", "TeamA"))
	require.Equal(t, retries, clock.count(testRetryDelay))
	require.Equal(t, 1, summary.Mismatched)

	entries := errs.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, KIND_COUNT_MISMATCH, entries[0].Kind)
	require.Equal(t, SCOPE_LEAF_UNIT, entries[0].Scope)
	require.Equal(t, 4, *entries[0].Expected)
	require.Equal(t, 3, *entries[0].Actual)

	// only the last attempt is kept
	require.Equal(t, 3, results.Count("Yale", "TeamA"))
	for _, r := range results.Records() {
		require.Contains(t, r.SourceLabel, "later ")
	}
}

func TestCollectorFinalAttemptFails(t *testing.T) {
	site := newFakeSite(map[string][]string{"Yale": {"TeamA"}})
	site.script(
		"Yale", "TeamA",
		response{records: 2, prefix: "first ", shape: SHAPE_TABLE},
		failing(),
	)

	index := Index{"Yale": {"TeamA": ExpectCount(3)}}
	results := NewResultSet()
	errs := NewErrorLog()

	collector := newTestCollector(site, &fakeStore{}, &fakeClock{}, telemetry.NoopAPI{}, CollectorOptions{MaxRetries: 2})
	summary, err := collector.Collect(context.Background(), []string{"Yale"}, index, results, errs)
	require.NoError(t, err)

	require.Equal(t, 3, site.fetchCount("Yale", "TeamA"))
	require.Equal(t, 1, summary.Mismatched)

	// failed attempts yield nothing, the last page that rendered is kept
	entries := errs.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, KIND_COUNT_MISMATCH, entries[0].Kind)
	require.Equal(t, 3, *entries[0].Expected)
	require.Equal(t, 2, *entries[0].Actual)
	require.Equal(t, 2, results.Count("Yale", "TeamA"))
	for _, r := range results.Records() {
		require.Contains(t, r.SourceLabel, "first ")
	}
}

func TestCollectorRepeatedRowsCountOnce(t *testing.T) {
	site := newFakeSite(map[string][]string{"Harvard": {"TeamA", "TeamB"}})
	site.script("Harvard", "TeamA", response{records: 2, repeated: 1, shape: SHAPE_TABLE})
	site.script("Harvard", "TeamB", response{records: 1, repeated: 1, shape: SHAPE_TABLE})

	index := Index{}
	err := newTestIndexer(site, &fakeStore{}, &fakeClock{}).Build(
		context.Background(), []string{"Harvard"}, index, NewErrorLog(),
	)
	require.NoError(t, err)
	want, resolved := index["Harvard"]["TeamA"].Count()
	require.True(t, resolved)
	require.Equal(t, 2, want)

	// an expectation taken before repeated rows were collapsed
	index["Harvard"]["TeamB"] = ExpectCount(2)

	results := NewResultSet()
	errs := NewErrorLog()
	collector := newTestCollector(site, &fakeStore{}, &fakeClock{}, telemetry.NoopAPI{}, CollectorOptions{MaxRetries: 1})
	summary, err := collector.Collect(context.Background(), []string{"Harvard"}, index, results, errs)
	require.NoError(t, err)

	require.Equal(t, 1, summary.Verified)
	require.Equal(t, 1, summary.Mismatched)
	require.Equal(t, 2, results.Count("Harvard", "TeamA"))
	require.Equal(t, 1, results.Count("Harvard", "TeamB"))

	entries := errs.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, KIND_COUNT_MISMATCH, entries[0].Kind)
	require.Equal(t, "TeamB", entries[0].LeafUnit)
	require.Equal(t, 1, *entries[0].Actual)

	// the collector and the offline verification agree
	reports := Verify([]string{"Harvard"}, index, results)
	require.Equal(t, []GroupReport{
		{Group: "Harvard", Units: 2, Verified: 1, Mismatched: 1, Records: 3},
	}, reports)
}

func TestCollectorRetryRecovers(t *testing.T) {
	site := newFakeSite(map[string][]string{"Yale": {"TeamA"}})
	site.script("Yale", "TeamA", failing(), rows(2), rows(3))

	index := Index{"Yale": {"TeamA": ExpectCount(3)}}
	results := NewResultSet()
	errs := NewErrorLog()

	collector := newTestCollector(site, &fakeStore{}, &fakeClock{}, telemetry.NoopAPI{}, CollectorOptions{MaxRetries: 3})
	summary, err := collector.Collect(context.Background(), []string{"Yale"}, index, results, errs)
	require.NoError(t, err)

	require.Equal(t, 3, site.fetchCount("Yale", "TeamA"))
	require.Equal(t, 3, results.Count("Yale", "TeamA"))
	require.Equal(t, 1, summary.Verified)
	require.Equal(t, 0, errs.Len())
}

func TestCollectorAllAttemptsFail(t *testing.T) {
	site := newFakeSite(map[string][]string{"Yale": {"TeamA", "TeamB"}})
	site.script("Yale", "TeamA", failing())
	site.script("Yale", "TeamB", failing())

	index := Index{"Yale": {
		"TeamA": ExpectCount(3),
		"TeamB": Unresolved(),
	}}
	results := NewResultSet()
	errs := NewErrorLog()

	collector := newTestCollector(site, &fakeStore{}, &fakeClock{}, telemetry.NoopAPI{}, CollectorOptions{MaxRetries: 2})
	summary, err := collector.Collect(context.Background(), []string{"Yale"}, index, results, errs)
	require.NoError(t, err)

	require.Equal(t, 3, site.fetchCount("Yale", "TeamA"))
	// unresolved units are never retried
	require.Equal(t, 1, site.fetchCount("Yale", "TeamB"))
	require.Equal(t, 2, summary.Failed)
	require.Equal(t, 0, results.Len())
	require.Equal(t, 2, errs.CountKind(KIND_FETCH_TRANSIENT_ERROR))
	require.Equal(t, 0, errs.CountKind(KIND_COUNT_MISMATCH))
}

func TestCollectorIdempotent(t *testing.T) {
	site := newFakeSite(map[string][]string{"Yale": {"TeamA", "TeamB"}})
	site.script("Yale", "TeamA", rows(4))
	site.script("Yale", "TeamB", rows(2))

	index := Index{"Yale": {
		"TeamA": ExpectCount(4),
		"TeamB": ExpectCount(2),
	}}
	results := NewResultSet()

	collector := newTestCollector(site, &fakeStore{}, &fakeClock{}, telemetry.NoopAPI{}, CollectorOptions{MaxRetries: 3})
	first, err := collector.Collect(context.Background(), []string{"Yale"}, index, results, NewErrorLog())
	require.NoError(t, err)
	require.Equal(t, 6, first.Added)

	second, err := collector.Collect(context.Background(), []string{"Yale"}, index, results, NewErrorLog())
	require.NoError(t, err)
	require.Equal(t, 0, second.Added)
	require.Equal(t, 2, second.Verified)
	require.Equal(t, 4, results.Count("Yale", "TeamA"))
	require.Equal(t, 2, results.Count("Yale", "TeamB"))
	require.Equal(t, 2, site.fetchCount("Yale", "TeamA"))

	skipping := newTestCollector(site, &fakeStore{}, &fakeClock{}, telemetry.NoopAPI{}, CollectorOptions{
		MaxRetries:   3,
		SkipVerified: true,
	})
	third, err := skipping.Collect(context.Background(), []string{"Yale"}, index, results, NewErrorLog())
	require.NoError(t, err)
	require.Equal(t, 2, third.Skipped)
	require.Equal(t, 2, site.fetchCount("Yale", "TeamA"))
}

func TestCollectorSelection(t *testing.T) {
	site := newFakeSite(map[string][]string{
		"Yale":    {"TeamA", "TeamB"},
		"Harvard": {"TeamC"},
	})
	site.script("Yale", "TeamA", rows(1))
	site.script("Yale", "TeamB", rows(1))
	site.script("Harvard", "TeamC", rows(1))

	index := Index{
		"Yale":    {"TeamA": ExpectCount(1), "TeamB": ExpectCount(1)},
		"Harvard": {"TeamC": ExpectCount(1)},
	}

	collector := newTestCollector(site, &fakeStore{}, &fakeClock{}, telemetry.NoopAPI{}, CollectorOptions{
		Selection: Selection{"Yale": {"TeamB": {}}},
	})
	_, err := collector.Collect(context.Background(), []string{"Harvard", "Yale"}, index, NewResultSet(), NewErrorLog())
	require.NoError(t, err)

	require.Equal(t, 0, site.fetchCount("Yale", "TeamA"))
	require.Equal(t, 1, site.fetchCount("Yale", "TeamB"))
	require.Equal(t, 0, site.fetchCount("Harvard", "TeamC"))
}

func TestCollectorMissingFromIndex(t *testing.T) {
	site := newFakeSite(map[string][]string{"Yale": {"TeamA", "TeamNew"}})
	site.script("Yale", "TeamA", rows(1))
	site.script("Yale", "TeamNew", rows(0), rows(2))

	index := Index{"Yale": {"TeamA": ExpectCount(1)}}
	results := NewResultSet()
	errs := NewErrorLog()
	tel := &telemetry.Recorder{}

	collector := newTestCollector(site, &fakeStore{}, &fakeClock{}, tel, CollectorOptions{MaxRetries: 3})
	summary, err := collector.Collect(context.Background(), []string{"Yale"}, index, results, errs)
	require.NoError(t, err)

	// an absent expectation is never taken as zero
	require.Equal(t, 1, site.fetchCount("Yale", "TeamNew"))
	require.Equal(t, 1, summary.Unverifiable)
	require.Equal(t, 0, errs.CountKind(KIND_COUNT_MISMATCH))
	require.NotEmpty(t, tel.Reports("warning"))
}

func TestCollectorBatches(t *testing.T) {
	groups := map[string][]string{}
	var order []string
	for _, g := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		groups[g] = []string{"Team"}
		order = append(order, g)
	}
	site := newFakeSite(groups)
	index := Index{}
	for _, g := range order {
		site.script(g, "Team", rows(1))
		index[g] = map[string]Expected{"Team": ExpectCount(1)}
	}
	clock := &fakeClock{}

	collector := newTestCollector(site, &fakeStore{}, clock, telemetry.NoopAPI{}, CollectorOptions{BatchSize: 3})
	summary, err := collector.Collect(context.Background(), order, index, NewResultSet(), NewErrorLog())
	require.NoError(t, err)

	require.Equal(t, 7, summary.Verified)
	// three batches, two pauses between them
	require.Equal(t, 2, clock.count(testBatchDelay))
	// defensive re-authentication before every group
	require.Equal(t, 7, site.auths)
}

func TestCollectorStoreFailureIsFatal(t *testing.T) {
	site := newFakeSite(map[string][]string{"Yale": {"TeamA", "TeamB"}})
	site.script("Yale", "TeamA", rows(1))
	site.script("Yale", "TeamB", rows(1))

	index := Index{"Yale": {"TeamA": ExpectCount(1), "TeamB": ExpectCount(1)}}
	store := &fakeStore{failResults: true}

	collector := newTestCollector(site, store, &fakeClock{}, telemetry.NoopAPI{}, CollectorOptions{})
	_, err := collector.Collect(context.Background(), []string{"Yale"}, index, NewResultSet(), NewErrorLog())
	require.ErrorIs(t, err, errStoreBroken)
	require.Equal(t, 0, site.fetchCount("Yale", "TeamB"))
}
