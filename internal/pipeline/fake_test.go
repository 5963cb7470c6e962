package pipeline

import (
	"caselist-scout/internal/components/telemetry"
	"caselist-scout/internal/pacing"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var errFlaky = errors.New("navigation timed out")

// response is what a leaf unit page renders on a given fetch.
type response struct {
	records int
	invalid int
	// repeated rows share the identity of the first record.
	repeated int
	// prefix tells the records of different attempts apart.
	prefix string
	shape  PageShape
	err    error
}

func rows(n int) response {
	return response{records: n, shape: SHAPE_TABLE}
}

func failing() response {
	return response{err: errFlaky}
}

// fakeSite implements both Session and Parser over a scripted directory.
// Addresses are "directory", "group/<group>" and "unit/<group>/<unit>".
type fakeSite struct {
	groups      map[string][]string
	responses   map[string][]response
	placeholder map[string]bool
	authErr     error

	auths    int
	fetches  map[string]int
	listings map[string]int
}

func newFakeSite(groups map[string][]string) *fakeSite {
	return &fakeSite{
		groups:      groups,
		responses:   map[string][]response{},
		placeholder: map[string]bool{},
		fetches:     map[string]int{},
		listings:    map[string]int{},
	}
}

func (s *fakeSite) script(group, unit string, responses ...response) {
	s.responses[group+"/"+unit] = responses
}

func (s *fakeSite) fetchCount(group, unit string) int {
	return s.fetches[group+"/"+unit]
}

func content(address string) Content {
	return Content{Address: &url.URL{Path: address}, Body: []byte(address)}
}

func (s *fakeSite) Authenticate(ctx context.Context, creds Credentials) error {
	s.auths++
	return s.authErr
}

func (s *fakeSite) Navigate(ctx context.Context, address string) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}
	key, isUnit := strings.CutPrefix(address, "unit/")
	if !isUnit {
		return content(address), nil
	}

	n := s.fetches[key]
	s.fetches[key]++
	script := s.responses[key]
	if len(script) == 0 {
		return Content{}, fmt.Errorf("no script for %s", key)
	}
	resp := script[min(n, len(script)-1)]
	if resp.err != nil {
		return Content{}, resp.err
	}
	return content(fmt.Sprintf("%s#%d", address, min(n, len(script)-1))), nil
}

func (s *fakeSite) Interact(ctx context.Context, page Content, target string) (Content, error) {
	if _, ok := s.groups[target]; !ok {
		return Content{}, fmt.Errorf("no link named %q", target)
	}
	return content("group/" + target), nil
}

func (s *fakeSite) ListLeafUnits(page Content, groupId string) ([]LeafUnitRef, PageShape) {
	s.listings[groupId]++
	if s.placeholder[groupId] && s.listings[groupId] == 1 {
		return nil, SHAPE_PLACEHOLDER
	}

	var refs []LeafUnitRef
	for _, unit := range s.groups[groupId] {
		refs = append(refs, LeafUnitRef{Name: unit, Address: "unit/" + groupId + "/" + unit})
	}
	if len(refs) == 0 {
		return nil, SHAPE_UNRECOGNIZED
	}
	return refs, SHAPE_TABLE
}

func (s *fakeSite) ExtractRecords(page Content) ([]Record, PageShape) {
	address, attempt, _ := strings.Cut(string(page.Body), "#")
	key := strings.TrimPrefix(address, "unit/")
	i, _ := strconv.Atoi(attempt)
	resp := s.responses[key][i]

	if resp.shape != SHAPE_TABLE {
		return nil, resp.shape
	}
	var records []Record
	for n := range resp.records {
		records = append(records, Record{
			SourceLabel:   fmt.Sprintf("%sTournament %d", resp.prefix, n),
			SequenceLabel: fmt.Sprintf("Round %d", n),
			Side:          "Aff",
		})
	}
	for range resp.repeated {
		records = append(records, Record{
			SourceLabel:   resp.prefix + "Tournament 0",
			SequenceLabel: "Round 0",
			Side:          "Neg",
		})
	}
	for n := range resp.invalid {
		records = append(records, Record{SourceLabel: fmt.Sprintf("Broken %d", n)})
	}
	return records, SHAPE_TABLE
}

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	return time.Unix(0, 0)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.slept = append(c.slept, d)
	return nil
}

func (c *fakeClock) count(d time.Duration) int {
	n := 0
	for _, s := range c.slept {
		if s == d {
			n++
		}
	}
	return n
}

var errStoreBroken = errors.New("disk full")

// fakeStore keeps JSON encoded copies of every artifact, the same way the
// checkpoint store does on disk.
type fakeStore struct {
	index   []byte
	results []byte
	errs    []byte

	failResults   bool
	onSaveResults func()

	indexSaves   int
	resultsSaves int
	errorsSaves  int
}

func (s *fakeStore) LoadIndex() (Index, error) {
	index := Index{}
	if s.index == nil {
		return index, nil
	}
	err := json.Unmarshal(s.index, &index)
	return index, err
}

func (s *fakeStore) SaveIndex(index Index) error {
	s.indexSaves++
	data, err := json.Marshal(index)
	s.index = data
	return err
}

func (s *fakeStore) LoadResults() (*ResultSet, error) {
	results := NewResultSet()
	if s.results == nil {
		return results, nil
	}
	err := json.Unmarshal(s.results, results)
	return results, err
}

func (s *fakeStore) SaveResults(results *ResultSet) error {
	s.resultsSaves++
	if s.failResults {
		return errStoreBroken
	}
	data, err := json.Marshal(results)
	if err != nil {
		return err
	}
	s.results = data
	if s.onSaveResults != nil {
		s.onSaveResults()
	}
	return nil
}

func (s *fakeStore) LoadErrors() (*ErrorLog, error) {
	errs := NewErrorLog()
	if s.errs == nil {
		return errs, nil
	}
	err := json.Unmarshal(s.errs, errs)
	return errs, err
}

func (s *fakeStore) SaveErrors(errs *ErrorLog) error {
	s.errorsSaves++
	data, err := json.Marshal(errs)
	s.errs = data
	return err
}

const (
	testRetryDelay = time.Duration(7)
	testBatchDelay = time.Duration(11)
)

func testNavigator(site *fakeSite, clock *fakeClock, tel telemetry.API) navigator {
	return navigator{
		session:  site,
		parser:   site,
		governor: pacing.NewGovernor(pacing.Delays{Retry: testRetryDelay, Batch: testBatchDelay}, clock),
		creds: Credentials{
			Username: "user",
			Password: "pass",
		},
		directoryAddress: "directory",
		tel:              tel,
	}
}
