package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vjranagit/qualitytrend/pkg/types"
)

// ErrNotFound is returned for unknown templates and for templates owned by someone else
var ErrNotFound = errors.New("not found")

// Store is the backend persistence of the tag catalog, the quality samples and the templates
type Store interface {
	// Tags returns the catalog ordered by plant then tag name
	Tags(ctx context.Context) ([]types.Tag, error)

	// PlantTags returns the tags of a plant ordered by name. Plant names match case-insensitively.
	PlantTags(ctx context.Context, plant string) ([]types.Tag, error)

	// Plants returns the distinct plant names of the catalog
	Plants(ctx context.Context) ([]string, error)

	// PutTags inserts or replaces catalog entries
	PutTags(ctx context.Context, tags []types.Tag) error

	// Values returns the samples of a tag between from and to inclusive, ordered by time
	Values(ctx context.Context, tag string, from, to time.Time) (types.Series, error)

	// MultiValues returns the samples of several tags. Every requested tag is a key of the result.
	MultiValues(ctx context.Context, tags []string, from, to time.Time) (map[string]types.Series, error)

	// Write stores samples, replacing samples of the same tag and timestamp
	Write(ctx context.Context, series []types.Series) error

	CreateTemplate(ctx context.Context, t types.Template) (int64, error)

	// UpdateTemplate replaces name, description and the whole tag list of a template
	// owned by t.Owner in one transaction
	UpdateTemplate(ctx context.Context, t types.Template) error

	DeleteTemplate(ctx context.Context, id int64, owner string) error

	// ListTemplates returns the templates of owner, most recently updated first
	ListTemplates(ctx context.Context, owner string) ([]types.TemplateSummary, error)

	GetTemplate(ctx context.Context, id int64) (types.Template, error)

	// Ping reports the backend version
	Ping(ctx context.Context) (string, error)

	Close() error
}

// Drivers
const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// Config holds storage configuration
type Config struct {
	Driver           string
	Path             string
	CompressionLevel int
	EnableWAL        bool
	DSN              string
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Driver:           DriverBadger,
		Path:             "./data",
		CompressionLevel: 3,
		EnableWAL:        true,
	}
}

// Open opens the store selected by cfg.Driver
func Open(ctx context.Context, cfg *Config, logger zerolog.Logger) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch cfg.Driver {
	case DriverBadger, "":
		return NewBadger(cfg, logger)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DSN, logger)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// DayRange widens two dates to whole days: from 00:00:00 to to 23:59:59.999999999
func DayRange(from, to time.Time) (time.Time, time.Time) {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location()).
		AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

func inRange(ts, from, to time.Time) bool {
	return !ts.Before(from) && !ts.After(to)
}

// mergeSamples merges incoming samples into existing ones; an incoming sample replaces an
// existing sample with the same timestamp
func mergeSamples(existing, incoming []types.Sample) []types.Sample {
	byTime := make(map[int64]int, len(existing))
	out := make([]types.Sample, 0, len(existing)+len(incoming))
	for _, s := range existing {
		byTime[s.Timestamp.UnixMilli()] = len(out)
		out = append(out, s)
	}
	for _, s := range incoming {
		key := s.Timestamp.UnixMilli()
		if i, ok := byTime[key]; ok {
			out[i] = s
			continue
		}
		byTime[key] = len(out)
		out = append(out, s)
	}
	series := types.Series{Samples: out}
	series.Sort()
	return series.Samples
}
