// Package labels defines the BIO tagging scheme for argumentative components
// (claims, premises and optionally major claims) and the transition
// constraints a tag sequence must satisfy to be coherent.
package labels

import (
	"github.com/pkg/errors"
)

// Tag is one argumentative-component tag in the BIO scheme.
//
// The integer values double as the tag ids used for label sequences: they are
// stable for the lifetime of a run and are persisted alongside any trained
// model, so they must never be reordered.
type Tag int

const (
	// Outside marks a token that belongs to no argumentative component.
	Outside Tag = iota
	BeginClaim
	InsideClaim
	BeginPremise
	InsidePremise
	BeginMajorClaim
	InsideMajorClaim

	tagsCount
)

var tagNames = [tagsCount]string{
	Outside:          "O",
	BeginClaim:       "B-C",
	InsideClaim:      "I-C",
	BeginPremise:     "B-P",
	InsidePremise:    "I-P",
	BeginMajorClaim:  "B-MC",
	InsideMajorClaim: "I-MC",
}

// String returns the conventional short name of the tag ("O", "B-C", ...).
func (t Tag) String() string {
	if t < 0 || t >= tagsCount {
		return "INVALID"
	}
	return tagNames[t]
}

// Transition is an ordered (from, to) pair of tags.
type Transition struct {
	From, To Tag
}

// Scheme is the fixed tag scheme of a run: the set of tags in use, their ids
// and the transitions legal between them. It is built once at start-up and
// never mutated afterwards.
type Scheme struct {
	majorClaims bool
	byName      map[string]Tag
}

// NewScheme creates a tag scheme. With majorClaims set the B-MC/I-MC tags are
// included, otherwise the scheme covers only claims and premises.
func NewScheme(majorClaims bool) *Scheme {
	s := &Scheme{majorClaims: majorClaims}
	s.byName = make(map[string]Tag, s.NumTags())
	for _, t := range s.Tags() {
		s.byName[t.String()] = t
	}
	return s
}

// NumTags returns the number of tags (and so of valid tag ids) in the scheme.
func (s *Scheme) NumTags() int {
	if s.majorClaims {
		return int(tagsCount)
	}
	return int(BeginMajorClaim)
}

// Tags returns all tags of the scheme, ordered by id.
func (s *Scheme) Tags() []Tag {
	tags := make([]Tag, s.NumTags())
	for i := range tags {
		tags[i] = Tag(i)
	}
	return tags
}

// ID returns the id of the tag with the given short name.
func (s *Scheme) ID(name string) (int, error) {
	t, ok := s.byName[name]
	if !ok {
		return 0, errors.Errorf("unknown tag name %q", name)
	}
	return int(t), nil
}

// Name returns the short name of the tag with the given id.
func (s *Scheme) Name(id int) (string, error) {
	if id < 0 || id >= s.NumTags() {
		return "", errors.Errorf("tag id %d out of range [0, %d)", id, s.NumTags())
	}
	return Tag(id).String(), nil
}

// PadLabel returns the label id used for padding positions of label
// sequences. By convention it is the Outside tag, and it must never be
// counted in losses or metrics.
func (s *Scheme) PadLabel() int {
	return int(Outside)
}

// componentPairs returns the (begin, inside) tag pair of every component type
// in the scheme.
func (s *Scheme) componentPairs() [][2]Tag {
	pairs := [][2]Tag{
		{BeginClaim, InsideClaim},
		{BeginPremise, InsidePremise},
	}
	if s.majorClaims {
		pairs = append(pairs, [2]Tag{BeginMajorClaim, InsideMajorClaim})
	}
	return pairs
}

// AllowedTransitions returns every (from, to) tag pair legal under BIO
// coherence:
//
//   - B-X may continue into I-X.
//   - I-X may continue into I-X, start any new component, or fall outside.
//   - O may stay outside or start any component.
//
// An inside tag can never follow a begin or inside tag of a different
// component type. The set is fixed for the lifetime of the scheme.
func (s *Scheme) AllowedTransitions() []Transition {
	pairs := s.componentPairs()
	begins := make([]Tag, 0, len(pairs))
	for _, p := range pairs {
		begins = append(begins, p[0])
	}

	var allowed []Transition
	for _, p := range pairs {
		begin, inside := p[0], p[1]
		allowed = append(allowed, Transition{begin, inside})
		allowed = append(allowed, Transition{inside, inside})
		for _, b := range begins {
			allowed = append(allowed, Transition{inside, b})
		}
		allowed = append(allowed, Transition{inside, Outside})
	}
	allowed = append(allowed, Transition{Outside, Outside})
	for _, b := range begins {
		allowed = append(allowed, Transition{Outside, b})
	}
	return allowed
}
