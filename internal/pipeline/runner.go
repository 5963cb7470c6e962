package pipeline

import (
	"caselist-scout/internal/components/assert"
	"caselist-scout/internal/components/telemetry"
	"caselist-scout/internal/pacing"
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_runner_flush = "runner.flush"
	report_runner_retry = "runner.retry"
)

type RunnerOptions struct {
	// Groups is the ordered list of group identifiers to process.
	Groups           []string
	DirectoryAddress string
	Credentials      Credentials
	BatchSize        int
	MaxRetries       int
	SkipVerified     bool
	// ResumeIndex keeps the persisted index so that groups indexed by an
	// interrupted run are not indexed again.
	ResumeIndex bool
}

// Runner wires the indexer, reconciler and collector to a single session and
// checkpoint store.
type Runner struct {
	nav     navigator
	store   Checkpointer
	options RunnerOptions
	tracer  trace.Tracer
}

func NewRunner(
	session Session,
	parser Parser,
	store Checkpointer,
	governor pacing.Governor,
	options RunnerOptions,
	tel telemetry.API,
) Runner {
	assert.NotNil(session)
	assert.NotNil(parser)
	assert.NotNil(store)
	assert.NotNil(tel)
	assert.NotEmptyStr(options.DirectoryAddress)
	assert.NotEmptyStr(options.Credentials.Username)
	assert.NotEmptyStr(options.Credentials.Password)
	assert.Positive(options.BatchSize)
	if options.MaxRetries < 0 {
		panic("max retries cannot be negative")
	}

	return Runner{
		nav: navigator{
			session:          session,
			parser:           parser,
			governor:         governor,
			creds:            options.Credentials,
			directoryAddress: options.DirectoryAddress,
			tel:              tel,
		},
		store:   store,
		options: options,
		tracer:  otel.Tracer("caselist-scout/pipeline"),
	}
}

func (r Runner) scoped(namespace string) navigator {
	nav := r.nav
	nav.tel = telemetry.NewScopedAPI(namespace, r.nav.tel)
	return nav
}

func (r Runner) indexer() Indexer {
	return Indexer{nav: r.scoped("indexer"), store: r.store, batchSize: r.options.BatchSize}
}

func (r Runner) reconciler() Reconciler {
	return Reconciler{nav: r.scoped("reconciler"), store: r.store}
}

func (r Runner) collector(selection Selection) Collector {
	return Collector{
		nav:   r.scoped("collector"),
		store: r.store,
		options: CollectorOptions{
			BatchSize:    r.options.BatchSize,
			MaxRetries:   r.options.MaxRetries,
			SkipVerified: r.options.SkipVerified,
			Selection:    selection,
		},
	}
}

type state struct {
	index   Index
	results *ResultSet
	errs    *ErrorLog
}

// load reads the artifacts a phase starts from. The error log is always
// reset.
func (r Runner) load(index, results bool) (state, error) {
	s := state{index: Index{}, results: NewResultSet(), errs: NewErrorLog()}
	if index {
		loaded, err := r.store.LoadIndex()
		if err != nil {
			return s, fmt.Errorf("load index: %w", err)
		}
		s.index = loaded
	}
	if results {
		loaded, err := r.store.LoadResults()
		if err != nil {
			return s, fmt.Errorf("load results: %w", err)
		}
		s.results = loaded
	}
	return s, nil
}

// flush writes whatever is in memory, it is called before a fatal error
// propagates.
func (r Runner) flush(s state, cause error) error {
	if errors.Is(cause, context.Canceled) {
		r.nav.tel.ReportWarning(report_runner_flush, "run cancelled, flushing")
	} else {
		r.nav.tel.ReportBroken(report_runner_flush, cause)
	}

	var errs []error
	errs = append(errs, cause)
	if s.results != nil {
		err := r.store.SaveResults(s.results)
		if err != nil {
			errs = append(errs, fmt.Errorf("flush results: %w", err))
		}
	}
	if s.index != nil {
		err := r.store.SaveIndex(s.index)
		if err != nil {
			errs = append(errs, fmt.Errorf("flush index: %w", err))
		}
	}
	if s.errs != nil {
		err := r.store.SaveErrors(s.errs)
		if err != nil {
			errs = append(errs, fmt.Errorf("flush errors: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r Runner) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int("caselist.groups", len(r.options.Groups)),
	))
}

func endSpan(span trace.Span, summary Summary, err error) {
	span.SetAttributes(
		attribute.Int("caselist.records", summary.Records),
		attribute.Int("caselist.errors", summary.Errors),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (r Runner) report(summary Summary) {
	r.nav.tel.ReportCount("records", int64(summary.Records))
	r.nav.tel.ReportCount("mismatched-units", int64(summary.Mismatched))
	r.nav.tel.ReportCount("unresolved-units", int64(summary.Unresolved))
	r.nav.tel.ReportCount("errors", int64(summary.Errors))
}

// Run performs a full run: index, reconcile, collect.
func (r Runner) Run(ctx context.Context) (summary Summary, err error) {
	ctx, span := r.span(ctx, "run")
	defer func() { endSpan(span, summary, err) }()

	s, err := r.load(r.options.ResumeIndex, true)
	if err != nil {
		return summary, err
	}

	err = r.indexer().Build(ctx, r.options.Groups, s.index, s.errs)
	if err != nil {
		return r.indexSummary(s), r.flush(s, err)
	}

	repaired, err := r.reconciler().Reconcile(ctx, s.index, s.errs)
	if err != nil {
		summary = r.indexSummary(s)
		summary.Repaired = repaired
		return summary, r.flush(s, err)
	}

	summary, err = r.collector(nil).Collect(ctx, r.options.Groups, s.index, s.results, s.errs)
	summary.Repaired = repaired
	if err != nil {
		return summary, r.flush(s, err)
	}
	r.report(summary)
	return summary, nil
}

// Index runs the indexer alone.
func (r Runner) Index(ctx context.Context) (summary Summary, err error) {
	ctx, span := r.span(ctx, "index")
	defer func() { endSpan(span, summary, err) }()

	s, err := r.load(r.options.ResumeIndex, false)
	if err != nil {
		return summary, err
	}
	s.results = nil

	err = r.indexer().Build(ctx, r.options.Groups, s.index, s.errs)
	summary = r.indexSummary(s)
	if err != nil {
		return summary, r.flush(s, err)
	}
	r.report(summary)
	return summary, nil
}

// Reconcile repairs the unresolved entries of the persisted index.
func (r Runner) Reconcile(ctx context.Context) (summary Summary, err error) {
	ctx, span := r.span(ctx, "reconcile")
	defer func() { endSpan(span, summary, err) }()

	s, err := r.load(true, false)
	if err != nil {
		return summary, err
	}
	s.results = nil

	repaired, err := r.reconciler().Reconcile(ctx, s.index, s.errs)
	summary = r.indexSummary(s)
	summary.Repaired = repaired
	if err != nil {
		return summary, r.flush(s, err)
	}
	r.report(summary)
	return summary, nil
}

// Collect runs the collector against the persisted index and results.
func (r Runner) Collect(ctx context.Context, selection Selection) (summary Summary, err error) {
	ctx, span := r.span(ctx, "collect")
	defer func() { endSpan(span, summary, err) }()

	s, err := r.load(true, true)
	if err != nil {
		return summary, err
	}

	summary, err = r.collector(selection).Collect(ctx, r.options.Groups, s.index, s.results, s.errs)
	if err != nil {
		return summary, r.flush(s, err)
	}
	r.report(summary)
	return summary, nil
}

// Retry collects again what the previous run logged as failed. It returns
// the zero summary and no error when there is nothing to retry. The error
// log is rewritten, entries the retry does not cover are counted in
// Summary.Discarded.
func (r Runner) Retry(ctx context.Context) (Summary, error) {
	previous, err := r.store.LoadErrors()
	if err != nil {
		return Summary{}, fmt.Errorf("load errors: %w", err)
	}

	selection := RetrySelection(previous.Entries())
	if len(selection) == 0 {
		r.nav.tel.ReportDebug("previous run logged nothing to retry")
		return Summary{}, nil
	}

	discarded := 0
	for _, e := range previous.Entries() {
		if !selection.Includes(e.Group, e.LeafUnit) {
			discarded++
		}
	}
	if discarded > 0 {
		r.nav.tel.ReportWarning(
			report_runner_retry,
			fmt.Sprintf("%d previous error log entries are not retried and will be replaced", discarded),
		)
	}

	r.nav.tel.ReportDebug("retrying groups", len(selection))
	summary, err := r.Collect(ctx, selection)
	summary.Discarded = discarded
	return summary, err
}

func (r Runner) indexSummary(s state) Summary {
	summary := Summary{
		Unresolved: len(s.index.UnresolvedUnits()),
		Errors:     s.errs.Len(),
	}
	if s.results != nil {
		summary.Records = s.results.Len()
	}
	return summary
}
