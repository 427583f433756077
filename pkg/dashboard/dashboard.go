// Package dashboard holds the application state of a trend dashboard: the current plant, the
// date range, the ordered tag selection and the loaded catalog and templates.
package dashboard

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

var (
	// ErrUnknownTag is returned when selecting a tag missing from the catalog
	ErrUnknownTag = errors.New("unknown tag")
	// ErrInvalidRange is returned for a date range that ends before it starts
	ErrInvalidRange = errors.New("invalid date range")
	// ErrOutOfRange is returned by Move for an index outside the order
	ErrOutOfRange = errors.New("index out of range")
)

// Snapshot is a copy of the dashboard state
type Snapshot struct {
	Plant     string
	From      time.Time
	To        time.Time
	Selected  []string
	Templates []types.TemplateSummary
}

// State is the dashboard state container. It is safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	plant     string
	from      time.Time
	to        time.Time
	selected  []string
	catalog   map[string]types.Tag
	templates []types.TemplateSummary
}

// New creates a state covering the last days days up to now
func New(now time.Time, days int) *State {
	to := truncateDay(now)
	return &State{
		from:    to.AddDate(0, 0, -days),
		to:      to,
		catalog: make(map[string]types.Tag),
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SetCatalog replaces the loaded tag catalog. Selected tags missing from the new catalog are
// dropped.
func (s *State) SetCatalog(tags []types.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catalog = make(map[string]types.Tag, len(tags))
	for _, t := range tags {
		s.catalog[t.Name] = t
	}

	kept := s.selected[:0:0]
	for _, name := range s.selected {
		if _, ok := s.catalog[name]; ok {
			kept = append(kept, name)
		}
	}
	s.selected = kept
}

// SetTemplates replaces the loaded template list
func (s *State) SetTemplates(list []types.TemplateSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append([]types.TemplateSummary(nil), list...)
}

// SelectPlant switches the current plant and clears the tag selection
func (s *State) SelectPlant(plant string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plant = strings.TrimSpace(plant)
	if plant == s.plant {
		return
	}
	s.plant = plant
	s.selected = nil
}

// SetRange sets the inclusive date range
func (s *State) SetRange(from, to time.Time) error {
	if to.Before(from) {
		return fmt.Errorf("%w: %s is after %s", ErrInvalidRange,
			normalize.FormatTimestamp(from), normalize.FormatTimestamp(to))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.from, s.to = truncateDay(from), truncateDay(to)
	return nil
}

// Select appends a catalog tag to the selection. Selecting a selected tag is a no-op.
func (s *State) Select(tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.catalog[tag]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	for _, name := range s.selected {
		if name == tag {
			return nil
		}
	}
	s.selected = append(s.selected, tag)
	return nil
}

// Deselect removes a tag from the selection
func (s *State) Deselect(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, name := range s.selected {
		if name == tag {
			s.selected = append(s.selected[:i:i], s.selected[i+1:]...)
			return
		}
	}
}

// Move reorders the selection, see Move
func (s *State) Move(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := Move(s.selected, from, to)
	if err != nil {
		return err
	}
	s.selected = order
	return nil
}

// ApplyTemplate replaces the selection with the tags of a template, in template order.
// Tags unknown to a loaded catalog are skipped and returned.
func (s *State) ApplyTemplate(t types.Template) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []string
	selected := make([]string, 0, len(t.Tags))
	seen := make(map[string]bool)
	for _, name := range t.Tags {
		if seen[name] {
			continue
		}
		seen[name] = true
		if len(s.catalog) > 0 {
			if _, ok := s.catalog[name]; !ok {
				missing = append(missing, name)
				continue
			}
		}
		selected = append(selected, name)
	}
	s.selected = selected
	return missing
}

// Selected returns a copy of the ordered selection
func (s *State) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.selected...)
}

// TagsForPlant returns the catalog tags of a plant sorted by name. An empty plant returns
// every tag.
func (s *State) TagsForPlant(plant string) []types.Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []types.Tag{}
	for _, t := range s.catalog {
		if plant == "" || strings.EqualFold(t.Plant, plant) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Limits returns the limits of a catalog tag
func (s *State) Limits(tag string) (types.Limits, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.catalog[tag]
	return t.Limits, ok
}

// Snapshot returns a copy of the state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Plant:     s.plant,
		From:      s.from,
		To:        s.to,
		Selected:  append([]string(nil), s.selected...),
		Templates: append([]types.TemplateSummary(nil), s.templates...),
	}
}

// Move returns a new order with the element at from moved to index to of the result. The
// input is never modified.
func Move(order []string, from, to int) ([]string, error) {
	n := len(order)
	if from < 0 || from >= n {
		return nil, fmt.Errorf("%w: from %d, length %d", ErrOutOfRange, from, n)
	}
	if to < 0 || to >= n {
		return nil, fmt.Errorf("%w: to %d, length %d", ErrOutOfRange, to, n)
	}

	out := make([]string, 0, n)
	item := order[from]
	for i, v := range order {
		if i != from {
			out = append(out, v)
		}
	}
	out = append(out, "")
	copy(out[to+1:], out[to:])
	out[to] = item
	return out, nil
}
