package pipeline

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
)

type Credentials struct {
	Username string
	Password string
}

// Content is a rendered page and the address it was rendered from (after
// redirects).
type Content struct {
	Address *url.URL
	Body    []byte
}

// LeafUnitRef is a leaf unit as it is listed on its group's page.
type LeafUnitRef struct {
	Name    string
	Address string
}

type Attachment struct {
	PreviewUrl  string `json:"preview_url"`
	DownloadUrl string `json:"download_url,omitempty"`
}

// Record is one round. Group and LeafUnit are only set once the record has
// been tagged with its owner, the parser leaves them empty.
type Record struct {
	Group         string      `json:"group"`
	LeafUnit      string      `json:"leaf_unit"`
	SourceLabel   string      `json:"source_label"`
	SequenceLabel string      `json:"sequence_label"`
	Side          string      `json:"side"`
	Counterpart   string      `json:"counterpart"`
	Adjudicator   string      `json:"adjudicator"`
	Note          string      `json:"note"`
	Attachment    *Attachment `json:"attachment,omitempty"`
}

// Valid is the predicate shared by indexing and collection: a row only counts
// as a record if both of its key fields are present.
func (r Record) Valid() bool {
	return r.SourceLabel != "" && r.SequenceLabel != ""
}

type Identity struct {
	Group         string
	LeafUnit      string
	SourceLabel   string
	SequenceLabel string
}

func (r Record) Identity() Identity {
	return Identity{
		Group:         r.Group,
		LeafUnit:      r.LeafUnit,
		SourceLabel:   r.SourceLabel,
		SequenceLabel: r.SequenceLabel,
	}
}

// validRecords keeps the valid records of a single leaf unit page, dropping
// rows whose identity repeats an earlier row. Counts taken from it therefore
// match what the result set stores.
func validRecords(records []Record) []Record {
	var out []Record
	seen := map[Identity]struct{}{}
	for _, r := range records {
		if !r.Valid() {
			continue
		}
		id := r.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out
}

func tagRecords(group, unit string, records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		r.Group = group
		r.LeafUnit = unit
		out[i] = r
	}
	return out
}

// Expected is the number of records a leaf unit should yield. The zero value
// is unresolved, which is distinct from an expectation of zero records.
type Expected struct {
	count    int
	resolved bool
}

func Unresolved() Expected {
	return Expected{}
}

func ExpectCount(n int) Expected {
	if n < 0 {
		panic("expected count cannot be negative")
	}
	return Expected{count: n, resolved: true}
}

func (e Expected) Count() (n int, resolved bool) {
	return e.count, e.resolved
}

func (e Expected) String() string {
	if !e.resolved {
		return "unresolved"
	}
	return strconv.Itoa(e.count)
}

func (e Expected) MarshalJSON() ([]byte, error) {
	if !e.resolved {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(e.count)), nil
}

func (e *Expected) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*e = Unresolved()
		return nil
	}
	var n int
	err := json.Unmarshal(data, &n)
	if err != nil {
		return fmt.Errorf("expected count: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("expected count: negative value %d", n)
	}
	*e = ExpectCount(n)
	return nil
}

// Index maps group -> leaf unit -> expected count. A group that was resolved
// but listed no leaf units is present with an empty map, a group that could
// not be resolved is absent.
type Index map[string]map[string]Expected

type UnitKey struct {
	Group    string
	LeafUnit string
}

func (idx Index) EnsureGroup(group string) {
	if _, ok := idx[group]; !ok {
		idx[group] = map[string]Expected{}
	}
}

func (idx Index) HasGroup(group string) bool {
	_, ok := idx[group]
	return ok
}

func (idx Index) Get(group, unit string) (Expected, bool) {
	units, ok := idx[group]
	if !ok {
		return Unresolved(), false
	}
	e, ok := units[unit]
	return e, ok
}

// Set stores the expectation of a leaf unit. Resolved expectations are
// immutable, Set reports false and leaves the entry alone if the unit
// already has one.
func (idx Index) Set(group, unit string, e Expected) bool {
	idx.EnsureGroup(group)
	current, ok := idx[group][unit]
	if ok {
		if _, resolved := current.Count(); resolved {
			return false
		}
	}
	idx[group][unit] = e
	return true
}

// UnresolvedUnits lists every unresolved entry ordered by group then unit.
func (idx Index) UnresolvedUnits() []UnitKey {
	var out []UnitKey
	for group, units := range idx {
		for unit, e := range units {
			if _, resolved := e.Count(); !resolved {
				out = append(out, UnitKey{Group: group, LeafUnit: unit})
			}
		}
	}
	slices.SortFunc(out, func(a, b UnitKey) int {
		return cmp.Or(
			cmp.Compare(a.Group, b.Group),
			cmp.Compare(a.LeafUnit, b.LeafUnit),
		)
	})
	return out
}

// ResultSet is the append-only, identity de-duplicated list of collected
// records. It serializes as a flat list.
type ResultSet struct {
	records []Record
	seen    map[Identity]struct{}
	counts  map[UnitKey]int
}

func NewResultSet() *ResultSet {
	return &ResultSet{
		seen:   map[Identity]struct{}{},
		counts: map[UnitKey]int{},
	}
}

// Append adds every record whose identity is not present yet and returns how
// many were added.
func (rs *ResultSet) Append(records []Record) int {
	added := 0
	for _, r := range records {
		id := r.Identity()
		if _, ok := rs.seen[id]; ok {
			continue
		}
		rs.seen[id] = struct{}{}
		rs.records = append(rs.records, r)
		rs.counts[UnitKey{Group: r.Group, LeafUnit: r.LeafUnit}]++
		added++
	}
	return added
}

func (rs *ResultSet) Count(group, unit string) int {
	return rs.counts[UnitKey{Group: group, LeafUnit: unit}]
}

func (rs *ResultSet) Len() int {
	return len(rs.records)
}

// Records returns a copy of the records in insertion order.
func (rs *ResultSet) Records() []Record {
	return slices.Clone(rs.records)
}

func (rs *ResultSet) MarshalJSON() ([]byte, error) {
	if rs.records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(rs.records)
}

func (rs *ResultSet) UnmarshalJSON(data []byte) error {
	var records []Record
	err := json.Unmarshal(data, &records)
	if err != nil {
		return err
	}
	*rs = *NewResultSet()
	rs.Append(records)
	return nil
}
