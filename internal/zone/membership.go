package zone

import (
	"encoding/json"
	"sort"
)

// MemberSet is the set of members inside a zone. The externalized JSON
// form is an object keyed by member ID with true values, so two encodings
// of equal sets always decode to equal sets.
type MemberSet map[MemberID]struct{}

// NewMemberSet builds a set containing the given members.
func NewMemberSet(ids ...MemberID) MemberSet {
	s := make(MemberSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s MemberSet) Has(id MemberID) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s MemberSet) Add(id MemberID) {
	s[id] = struct{}{}
}

// Len returns the number of members in the set.
func (s MemberSet) Len() int {
	return len(s)
}

// Clone returns an independent copy of the set.
func (s MemberSet) Clone() MemberSet {
	out := make(MemberSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Members returns the set's members sorted lexically.
func (s MemberSet) Members() []MemberID {
	out := make([]MemberID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as {"alice":true,"bob":true}.
func (s MemberSet) MarshalJSON() ([]byte, error) {
	m := make(map[MemberID]bool, len(s))
	for id := range s {
		m[id] = true
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the object-keyed form. Key presence is
// membership; values are ignored.
func (s *MemberSet) UnmarshalJSON(data []byte) error {
	var m map[MemberID]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(MemberSet, len(m))
	for id := range m {
		out[id] = struct{}{}
	}
	*s = out
	return nil
}

// Delta is the outcome of one reconciliation pass: the members that
// appeared and the members that vanished since the previous pass.
type Delta struct {
	Added   []MemberID `json:"added"`
	Removed []MemberID `json:"removed"`
}

// Empty reports whether the pass observed no change.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Diff compares two membership sets and returns the transition delta with
// both sides sorted lexically.
func Diff(prev, next MemberSet) Delta {
	var d Delta
	for id := range next {
		if !prev.Has(id) {
			d.Added = append(d.Added, id)
		}
	}
	for id := range prev {
		if !next.Has(id) {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i] < d.Added[j] })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i] < d.Removed[j] })
	return d
}
