package types

import (
	"sort"
	"time"
)

// Limits holds the specification limits of a tag. A nil limit means no bound on that side.
type Limits struct {
	LSL *float64 `json:"lsl" yaml:"lsl,omitempty"`
	USL *float64 `json:"usl" yaml:"usl,omitempty"`
	LGL *float64 `json:"lgl" yaml:"lgl,omitempty"`
	UGL *float64 `json:"ugl" yaml:"ugl,omitempty"`
}

// Tag represents a named measurement stream scoped to a plant
type Tag struct {
	Name        string `json:"tagname" yaml:"tagname"`
	Description string `json:"description" yaml:"description,omitempty"`
	Plant       string `json:"plant" yaml:"plant"`
	Format      string `json:"format,omitempty" yaml:"format,omitempty"`
	Limits      `yaml:",inline"`
}

// Sample represents a single time-series sample. A nil Value is a gap.
type Sample struct {
	Timestamp time.Time `json:"datetime"`
	Value     *float64  `json:"value"`
}

// Series represents the samples of one tag over a date range
type Series struct {
	Tag     string   `json:"tagname"`
	Samples []Sample `json:"data"`
}

// Sort orders the samples by timestamp ascending, keeping the relative order of equal timestamps.
func (s *Series) Sort() {
	sort.SliceStable(s.Samples, func(i, j int) bool {
		return s.Samples[i].Timestamp.Before(s.Samples[j].Timestamp)
	})
}

// Len returns the number of samples, gaps included
func (s Series) Len() int {
	return len(s.Samples)
}

// Summary is the statistics overlay of a series. It is never stored.
type Summary struct {
	Avg              float64  `json:"avg"`
	Max              float64  `json:"max"`
	Min              float64  `json:"min"`
	Stdev            float64  `json:"stdev"`
	OutOfBoundsCount int      `json:"out_of_bounds_count"`
	Cpk              *float64 `json:"cpk"`
	Cpl              *float64 `json:"cpl"`
	Cpu              *float64 `json:"cpu"`
}

// Template is a saved, named, ordered set of tags
type Template struct {
	ID          int64     `json:"id" yaml:"-"`
	Name        string    `json:"template_name" yaml:"name"`
	Description string    `json:"description" yaml:"description,omitempty"`
	Owner       string    `json:"username" yaml:"-"`
	Tags        []string  `json:"tags" yaml:"tags"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// TemplateSummary is a row of a template listing
type TemplateSummary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"template_name"`
	Description string    `json:"description"`
	TagCount    int       `json:"tag_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PanelTag is one tag of a plant panel bundle together with its samples
type PanelTag struct {
	Tag
	Series Series `json:"data"`
}

// User is the identity reported by the session check
type User struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}
