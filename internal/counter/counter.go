package counter

import (
	"sort"

	"github.com/andresmejia3/tally/internal/types"
)

// Decision is the outcome of observing a single detection.
type Decision int

const (
	// Ignored means the label did not map to a vehicle category.
	Ignored Decision = iota
	// AlreadyCounted means the track identity was counted on an earlier frame.
	AlreadyCounted
	// Counted means a tracked identity was counted for the first time.
	Counted
	// NotYetCrossed means the center is on or below the line.
	NotYetCrossed
	// CountedUntracked means an untracked detection above the line was counted.
	CountedUntracked
)

func (d Decision) String() string {
	switch d {
	case Ignored:
		return "ignored"
	case AlreadyCounted:
		return "already counted"
	case Counted:
		return "counted"
	case NotYetCrossed:
		return "not yet crossed"
	case CountedUntracked:
		return "counted-untracked"
	default:
		return "unknown"
	}
}

// Incremented reports whether the decision changed a tally.
func (d Decision) Incremented() bool {
	return d == Counted || d == CountedUntracked
}

// CountState holds the tallies and seen track identities of one run.
// It is owned by a single run loop and is not safe for concurrent use.
type CountState struct {
	Tallies map[Category]int
	Seen    map[Category]map[int]struct{}
}

// NewCountState returns a state with every category at zero.
func NewCountState(categories []Category) *CountState {
	s := &CountState{
		Tallies: make(map[Category]int, len(categories)),
		Seen:    make(map[Category]map[int]struct{}, len(categories)),
	}
	for _, c := range categories {
		s.Tallies[c] = 0
		s.Seen[c] = make(map[int]struct{})
	}
	return s
}

// HasSeen reports whether a track identity has been counted for a category.
func (s *CountState) HasSeen(c Category, id int) bool {
	_, ok := s.Seen[c][id]
	return ok
}

// SeenIDs returns the counted identities of a category in ascending order.
func (s *CountState) SeenIDs(c Category) []int {
	ids := make([]int, 0, len(s.Seen[c]))
	for id := range s.Seen[c] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Total is the sum of all tallies.
func (s *CountState) Total() int {
	total := 0
	for _, v := range s.Tallies {
		total += v
	}
	return total
}

// Snapshot copies the tallies so callers can keep them past the run.
func (s *CountState) Snapshot() map[Category]int {
	out := make(map[Category]int, len(s.Tallies))
	for k, v := range s.Tallies {
		out[k] = v
	}
	return out
}

// CrossingCounter applies the counting rule against a fixed line.
//
// The rule is "center currently above the line and identity not yet seen". It does
// not detect direction: an object first tracked above the line is counted at once.
// Untracked detections above the line are counted on every frame they appear in, so
// an object the tracker fails to identify is over-counted. Both behaviours are kept
// because changing them changes reported totals.
type CrossingCounter struct {
	mapper *ClassMapper
	lineY  int
}

// NewCrossingCounter binds a class mapper to a line position.
func NewCrossingCounter(mapper *ClassMapper, lineY int) *CrossingCounter {
	return &CrossingCounter{mapper: mapper, lineY: lineY}
}

// LineY returns the counting line row.
func (c *CrossingCounter) LineY() int {
	return c.lineY
}

// Mapper returns the class mapper the counter uses.
func (c *CrossingCounter) Mapper() *ClassMapper {
	return c.mapper
}

// NewState creates a CountState covering every category of the mapper.
func (c *CrossingCounter) NewState() *CountState {
	return NewCountState(c.mapper.Categories())
}

// Observe classifies one detection and updates the state. Detections of a single
// track must be observed in frame order.
func (c *CrossingCounter) Observe(s *CountState, d types.Detection) (Category, Decision) {
	cat, ok := c.mapper.MapDetectionLabel(d.Label, d.ClassID)
	if !ok {
		return "", Ignored
	}

	above := d.Box.CenterY() < float64(c.lineY)

	if d.TrackID == nil {
		if !above {
			return cat, NotYetCrossed
		}
		s.Tallies[cat]++
		return cat, CountedUntracked
	}

	id := *d.TrackID
	if s.HasSeen(cat, id) {
		return cat, AlreadyCounted
	}
	if !above {
		return cat, NotYetCrossed
	}

	if s.Seen[cat] == nil {
		s.Seen[cat] = make(map[int]struct{})
	}
	s.Seen[cat][id] = struct{}{}
	s.Tallies[cat]++
	return cat, Counted
}
