package pipeline

import (
	"caselist-scout/internal/components/telemetry"
	"caselist-scout/internal/pacing"
	"context"
	"errors"
	"fmt"
)

// Session is an authenticated, stateful view of the source. It is owned by
// a single worker, implementations need not be safe for concurrent use.
//
// note: fault injection point
type Session interface {
	// Authenticate (re)establishes the session, calling it on a live session
	// must be harmless.
	Authenticate(ctx context.Context, creds Credentials) error
	// Navigate renders the page at address.
	Navigate(ctx context.Context, address string) (Content, error)
	// Interact follows the element of content identified by target and
	// renders the resulting page.
	Interact(ctx context.Context, content Content, target string) (Content, error)
}

type PageShape int

const (
	// SHAPE_TABLE means the record table was found, it may have no rows.
	SHAPE_TABLE PageShape = iota
	// SHAPE_EMPTY means the page carries the explicit empty-state signature.
	SHAPE_EMPTY
	// SHAPE_PLACEHOLDER means the page did not finish rendering.
	SHAPE_PLACEHOLDER
	// SHAPE_UNRECOGNIZED means the page has no recognizable table.
	SHAPE_UNRECOGNIZED
)

func (s PageShape) String() string {
	switch s {
	case SHAPE_TABLE:
		return "table"
	case SHAPE_EMPTY:
		return "empty"
	case SHAPE_PLACEHOLDER:
		return "placeholder"
	default:
		return "unrecognized"
	}
}

// Parser turns rendered content into leaf units and records.
//
// note: fault injection point
type Parser interface {
	ListLeafUnits(content Content, groupId string) ([]LeafUnitRef, PageShape)
	ExtractRecords(content Content) ([]Record, PageShape)
}

var (
	errGroupNotFound     = errors.New("group not found")
	errAuthentication    = errors.New("authentication failed")
	errUnrecognizedShape = errors.New("unrecognized page shape")
)

const (
	report_navigator_open_group  = "navigator.open-group"
	report_navigator_fetch_unit  = "navigator.fetch-unit"
	report_navigator_leaf_units  = "navigator.leaf-units"
	report_navigator_count_units = "navigator.count-unit"
)

// navigator holds the navigation steps every phase shares. Each phase
// re-walks the directory instead of trusting persisted addresses.
type navigator struct {
	session          Session
	parser           Parser
	governor         pacing.Governor
	creds            Credentials
	directoryAddress string
	tel              telemetry.API
}

func (n navigator) openGroup(ctx context.Context, group string) (Content, error) {
	err := n.session.Authenticate(ctx, n.creds)
	if err != nil {
		n.tel.ReportBroken(report_navigator_open_group, fmt.Errorf("authenticate: %w", err), group)
		return Content{}, fmt.Errorf("%w: %w", errAuthentication, err)
	}

	directory, err := n.session.Navigate(ctx, n.directoryAddress)
	if err != nil {
		n.tel.ReportWarning(report_navigator_open_group, fmt.Errorf("navigate directory: %w", err), group)
		return Content{}, fmt.Errorf("%w: directory: %w", errGroupNotFound, err)
	}
	err = n.governor.Settle(ctx)
	if err != nil {
		return Content{}, err
	}

	page, err := n.session.Interact(ctx, directory, group)
	if err != nil {
		n.tel.ReportWarning(report_navigator_open_group, fmt.Errorf("interact: %w", err), group)
		return Content{}, fmt.Errorf("%w: %w", errGroupNotFound, err)
	}
	err = n.governor.Settle(ctx)
	if err != nil {
		return Content{}, err
	}
	return page, nil
}

// leafUnits opens a group and lists its leaf units, a page that looks like
// it did not finish rendering is reloaded once.
func (n navigator) leafUnits(ctx context.Context, group string) ([]LeafUnitRef, error) {
	page, err := n.openGroup(ctx, group)
	if err != nil {
		return nil, err
	}

	units, shape := n.parser.ListLeafUnits(page, group)
	if len(units) > 0 || shape != SHAPE_PLACEHOLDER {
		return units, nil
	}

	n.tel.ReportDebug("group page appears empty, reloading", group)
	page, err = n.session.Navigate(ctx, page.Address.String())
	if err != nil {
		n.tel.ReportWarning(report_navigator_leaf_units, fmt.Errorf("reload: %w", err), group)
		return nil, fmt.Errorf("%w: reload: %w", errGroupNotFound, err)
	}
	err = n.governor.Settle(ctx)
	if err != nil {
		return nil, err
	}

	units, _ = n.parser.ListLeafUnits(page, group)
	return units, nil
}

// fetchUnit renders a leaf unit page and returns its valid records. Pages
// that carry no recognizable record table are an error.
func (n navigator) fetchUnit(ctx context.Context, unit LeafUnitRef) ([]Record, PageShape, error) {
	page, err := n.session.Navigate(ctx, unit.Address)
	if err != nil {
		n.tel.ReportWarning(report_navigator_fetch_unit, fmt.Errorf("navigate: %w", err), unit.Name, unit.Address)
		return nil, SHAPE_UNRECOGNIZED, err
	}
	err = n.governor.Settle(ctx)
	if err != nil {
		return nil, SHAPE_UNRECOGNIZED, err
	}

	records, shape := n.parser.ExtractRecords(page)
	switch shape {
	case SHAPE_TABLE:
		return validRecords(records), shape, nil
	case SHAPE_EMPTY:
		return nil, shape, nil
	default:
		return nil, shape, fmt.Errorf("%w: %s", errUnrecognizedShape, shape)
	}
}

// countUnit computes the expectation of a leaf unit, anything short of a
// recognized page leaves it unresolved.
func (n navigator) countUnit(ctx context.Context, unit LeafUnitRef) (Expected, error) {
	records, shape, err := n.fetchUnit(ctx, unit)
	if err != nil {
		n.tel.ReportWarning(report_navigator_count_units, err, unit.Name, shape.String())
		return Unresolved(), err
	}
	return ExpectCount(len(records)), nil
}

// interrupted reports whether the run has been cancelled, in which case an
// error from a blocking step must abort instead of being logged.
func interrupted(ctx context.Context) bool {
	return ctx.Err() != nil
}
