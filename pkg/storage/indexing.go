package storage

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

// Index is the in-memory tag catalog: tags by name plus an inverted plant index
type Index struct {
	mu      sync.RWMutex
	tags    map[string]types.Tag
	byPlant map[string]map[string]struct{}
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{
		tags:    make(map[string]types.Tag),
		byPlant: make(map[string]map[string]struct{}),
	}
}

// AddTag inserts or replaces a tag and returns its series id
func (idx *Index) AddTag(tag types.Tag) uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.tags[tag.Name]; ok {
		idx.unlinkLocked(old)
	}
	idx.tags[tag.Name] = tag

	plant := plantKey(tag.Plant)
	if idx.byPlant[plant] == nil {
		idx.byPlant[plant] = make(map[string]struct{})
	}
	idx.byPlant[plant][tag.Name] = struct{}{}

	return SeriesID(tag.Name)
}

func (idx *Index) unlinkLocked(tag types.Tag) {
	plant := plantKey(tag.Plant)
	delete(idx.byPlant[plant], tag.Name)
	if len(idx.byPlant[plant]) == 0 {
		delete(idx.byPlant, plant)
	}
}

// Tags returns every tag ordered by plant then name
func (idx *Index) Tags() []types.Tag {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]types.Tag, 0, len(idx.tags))
	for _, t := range idx.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Plant != out[j].Plant {
			return out[i].Plant < out[j].Plant
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ForPlant returns the tags of a plant ordered by name
func (idx *Index) ForPlant(plant string) []types.Tag {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	names := idx.byPlant[plantKey(plant)]
	out := make([]types.Tag, 0, len(names))
	for name := range names {
		out = append(out, idx.tags[name])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Plants returns the distinct real plant names, placeholders excluded
func (idx *Index) Plants() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]bool)
	out := []string{}
	for _, t := range idx.tags {
		plant := strings.TrimSpace(t.Plant)
		if normalize.IsPlaceholder(plant) || seen[plant] {
			continue
		}
		seen[plant] = true
		out = append(out, plant)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of indexed tags
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.tags)
}

// SeriesID is the fixed width key component of a tag's sample blocks
func SeriesID(tag string) uint64 {
	return xxhash.Sum64String(tag)
}

func plantKey(plant string) string {
	return strings.ToLower(strings.TrimSpace(plant))
}
