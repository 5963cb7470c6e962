package pipeline

import (
	"encoding/json"
	"fmt"
	"slices"
)

type Kind string

const (
	KIND_GROUP_NOT_FOUND                 Kind = "GroupNotFound"
	KIND_NO_LEAF_UNITS_FOUND             Kind = "NoLeafUnitsFound"
	KIND_FETCH_TRANSIENT_ERROR           Kind = "FetchTransientError"
	KIND_COUNT_MISMATCH                  Kind = "CountMismatch"
	KIND_UNRESOLVED_AFTER_RECONCILIATION Kind = "UnresolvedAfterReconciliation"
)

type Scope string

const (
	SCOPE_GROUP     Scope = "Group"
	SCOPE_LEAF_UNIT Scope = "LeafUnit"
)

type ErrorEntry struct {
	Scope    Scope  `json:"scope"`
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	Group    string `json:"group"`
	LeafUnit string `json:"leaf_unit,omitempty"`
	Expected *int   `json:"expected,omitempty"`
	Actual   *int   `json:"actual,omitempty"`
}

func groupError(kind Kind, group string, format string, args ...any) ErrorEntry {
	return ErrorEntry{
		Scope:   SCOPE_GROUP,
		Kind:    kind,
		Group:   group,
		Message: fmt.Sprintf(format, args...),
	}
}

func unitError(kind Kind, group, unit string, format string, args ...any) ErrorEntry {
	return ErrorEntry{
		Scope:    SCOPE_LEAF_UNIT,
		Kind:     kind,
		Group:    group,
		LeafUnit: unit,
		Message:  fmt.Sprintf(format, args...),
	}
}

func countMismatch(group, unit string, expected, actual int) ErrorEntry {
	entry := unitError(
		KIND_COUNT_MISMATCH, group, unit,
		"round count mismatch: expected %d, got %d", expected, actual,
	)
	entry.Expected = &expected
	entry.Actual = &actual
	return entry
}

// ErrorLog is the append-only list of recoverable errors of a run.
type ErrorLog struct {
	entries []ErrorEntry
}

func NewErrorLog() *ErrorLog {
	return &ErrorLog{}
}

func (l *ErrorLog) Add(entry ErrorEntry) {
	l.entries = append(l.entries, entry)
}

func (l *ErrorLog) Len() int {
	return len(l.entries)
}

func (l *ErrorLog) Entries() []ErrorEntry {
	return slices.Clone(l.entries)
}

func (l *ErrorLog) CountKind(kind Kind) int {
	n := 0
	for _, e := range l.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (l *ErrorLog) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

func (l *ErrorLog) UnmarshalJSON(data []byte) error {
	var entries []ErrorEntry
	err := json.Unmarshal(data, &entries)
	if err != nil {
		return err
	}
	l.entries = entries
	return nil
}

// Selection restricts a collection to some groups and units. A nil Selection
// selects everything, a group mapped to a nil set selects all of its units.
type Selection map[string]map[string]struct{}

func (s Selection) Groups(ordered []string) []string {
	if s == nil {
		return ordered
	}
	var out []string
	for _, g := range ordered {
		if _, ok := s[g]; ok {
			out = append(out, g)
		}
	}
	return out
}

func (s Selection) Includes(group, unit string) bool {
	if s == nil {
		return true
	}
	units, ok := s[group]
	if !ok {
		return false
	}
	if units == nil {
		return true
	}
	_, ok = units[unit]
	return ok
}

// RetrySelection picks what a previous run failed to collect: whole groups
// that could not be resolved, units that mismatched or failed to fetch.
func RetrySelection(previous []ErrorEntry) Selection {
	selection := Selection{}
	for _, e := range previous {
		switch {
		case e.Kind == KIND_GROUP_NOT_FOUND:
			selection[e.Group] = nil
		case e.Scope == SCOPE_GROUP && e.Kind == KIND_FETCH_TRANSIENT_ERROR:
			selection[e.Group] = nil
		case e.Scope == SCOPE_LEAF_UNIT &&
			(e.Kind == KIND_COUNT_MISMATCH || e.Kind == KIND_FETCH_TRANSIENT_ERROR):
			units, ok := selection[e.Group]
			if ok && units == nil {
				continue
			}
			if !ok {
				units = map[string]struct{}{}
				selection[e.Group] = units
			}
			units[e.LeafUnit] = struct{}{}
		}
	}
	return selection
}
