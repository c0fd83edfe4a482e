package bib

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/thunderstriders/lapcounter/pkg/model"
)

// IDSet is the finite universe of valid runner ids for a race. Immutable after creation.
type IDSet struct {
	ids    map[model.RunnerID]struct{}
	sorted []model.RunnerID
	byNum  map[int]model.RunnerID
	names  map[model.RunnerID]string
}

// NewRangeSet creates the ids from..to (inclusive). Ids are left padded with zeros
// to width digits, width 0 disables padding.
func NewRangeSet(from, to, width int) (*IDSet, error) {
	if from < 0 || to < from {
		return nil, fmt.Errorf("invalid runner range %d..%d", from, to)
	}
	ids := make([]model.RunnerID, 0, to-from+1)
	for i := from; i <= to; i++ {
		ids = append(ids, model.RunnerID(fmt.Sprintf("%0*d", width, i)))
	}
	return NewExplicitSet(ids...)
}

// ErrAmbiguousID is returned when two ids of a roster denote the same number, e.g. "7" and "007"
var ErrAmbiguousID = errors.New("runner ids denote the same number")

// NewExplicitSet creates a set from the given ids. Each id must consist of digits only
// and no two ids may share a numeric value.
func NewExplicitSet(ids ...model.RunnerID) (*IDSet, error) {
	ret := &IDSet{
		ids:   make(map[model.RunnerID]struct{}, len(ids)),
		byNum: make(map[int]model.RunnerID, len(ids)),
		names: map[model.RunnerID]string{},
	}
	for _, id := range ids {
		if id == "" || Normalize(string(id)) != string(id) {
			return nil, fmt.Errorf("runner id %q must consist of digits only", id)
		}
		n := id.Num()
		if other, ok := ret.byNum[n]; ok && other != id {
			return nil, fmt.Errorf("%w: %q and %q", ErrAmbiguousID, other, id)
		}
		ret.ids[id] = struct{}{}
		if n >= 0 {
			ret.byNum[n] = id
		}
	}
	ret.sorted = lo.Keys(ret.ids)
	sort.Slice(ret.sorted, func(i, j int) bool { return ret.sorted[i].Less(ret.sorted[j]) })
	return ret, nil
}

func (s *IDSet) Contains(id model.RunnerID) bool {
	_, ok := s.ids[id]
	return ok
}

// Sorted returns the ids in ascending numeric order. The returned slice must not be modified.
func (s *IDSet) Sorted() []model.RunnerID {
	return s.sorted
}

func (s *IDSet) Len() int {
	return len(s.sorted)
}

// ByNumber finds the id with the numeric value n, e.g. 7 yields "007"
func (s *IDSet) ByNumber(n int) (model.RunnerID, bool) {
	id, ok := s.byNum[n]
	return id, ok
}

// Name returns the runner name from the roster, empty if unknown
func (s *IDSet) Name(id model.RunnerID) string {
	return s.names[id]
}

type (
	rosterEntry struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	}
	rosterFile struct {
		Runners []rosterEntry `yaml:"runners"`
	}
)

// LoadRoster reads the runner universe from a yaml file.
func LoadRoster(path string) (*IDSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

func ParseRoster(data []byte) (*IDSet, error) {
	var rf rosterFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if len(rf.Runners) == 0 {
		return nil, fmt.Errorf("roster contains no runners")
	}
	if dups := lo.FindDuplicates(lo.Map(rf.Runners,
		func(e rosterEntry, _ int) string { return e.ID })); len(dups) > 0 {
		return nil, fmt.Errorf("roster contains duplicate ids: %v", dups)
	}
	set, err := NewExplicitSet(lo.Map(rf.Runners,
		func(e rosterEntry, _ int) model.RunnerID { return model.RunnerID(e.ID) })...)
	if err != nil {
		return nil, err
	}
	for _, e := range rf.Runners {
		if e.Name != "" {
			set.names[model.RunnerID(e.ID)] = e.Name
		}
	}
	return set, nil
}
