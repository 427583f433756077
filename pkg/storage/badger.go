package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/vjranagit/qualitytrend/pkg/types"
)

var (
	tagPrefix      = []byte("t/")
	samplePrefix   = []byte("s/")
	templatePrefix = []byte("tpl/")
	templateSeqKey = []byte("seq/tpl")
)

const day = 24 * time.Hour

// Badger implements Store on an embedded BadgerDB.
//
// Samples live in one compressed block per tag and UTC day, keyed by the tag's series id and
// the day so a range read is a single prefix scan. Tags and templates are JSON records.
type Badger struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	seq        *badger.Sequence
	wal        *WAL
	logger     zerolog.Logger
	now        func() time.Time
	mu         sync.RWMutex
}

// NewBadger opens or creates a Badger store under cfg.Path
func NewBadger(cfg *Config, logger zerolog.Logger) (*Badger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger = logger.With().Str("component", "storage").Str("driver", DriverBadger).Logger()

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts.Logger = badgerLogger{logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	seq, err := db.GetSequence(templateSeqKey, 16)
	if err != nil {
		compressor.Close()
		db.Close()
		return nil, fmt.Errorf("failed to open template sequence: %w", err)
	}

	s := &Badger{
		cfg:        cfg,
		db:         db,
		index:      NewIndex(),
		compressor: compressor,
		seq:        seq,
		logger:     logger,
		now:        time.Now,
	}

	if err := s.loadIndex(); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.EnableWAL {
		replayed := 0
		err := ReplayWAL(cfg.Path, func(entry *WALEntry) error {
			if err := validateSeries(entry.Series); err != nil {
				logger.Warn().Err(err).Time("written", entry.Timestamp).Msg("skipping invalid WAL entry")
				return nil
			}
			replayed++
			return s.write(entry.Series)
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to replay WAL: %w", err)
		}
		if replayed > 0 {
			logger.Info().Int("entries", replayed).Msg("replayed write-ahead log")
		}

		if s.wal, err = NewWAL(cfg.Path); err != nil {
			s.Close()
			return nil, err
		}
	}

	logger.Debug().Str("path", cfg.Path).Int("tags", s.index.Len()).Msg("storage opened")
	return s, nil
}

func (s *Badger) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(tagPrefix); it.ValidForPrefix(tagPrefix); it.Next() {
			var tag types.Tag
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &tag)
			})
			if err != nil {
				return fmt.Errorf("failed to load tag %s: %w", it.Item().Key(), err)
			}
			s.index.AddTag(tag)
		}
		return nil
	})
}

// Tags implements Store.Tags
func (s *Badger) Tags(ctx context.Context) ([]types.Tag, error) {
	return s.index.Tags(), ctx.Err()
}

// PlantTags implements Store.PlantTags
func (s *Badger) PlantTags(ctx context.Context, plant string) ([]types.Tag, error) {
	return s.index.ForPlant(plant), ctx.Err()
}

// Plants implements Store.Plants
func (s *Badger) Plants(ctx context.Context) ([]string, error) {
	return s.index.Plants(), ctx.Err()
}

// PutTags implements Store.PutTags
func (s *Badger) PutTags(ctx context.Context, tags []types.Tag) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, tag := range tags {
			tag.Name = strings.TrimSpace(tag.Name)
			if tag.Name == "" {
				return errors.New("tag name required")
			}
			data, err := json.Marshal(tag)
			if err != nil {
				return fmt.Errorf("failed to marshal tag: %w", err)
			}
			if err := txn.Set(tagKey(tag.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write tags: %w", err)
	}

	for _, tag := range tags {
		tag.Name = strings.TrimSpace(tag.Name)
		s.index.AddTag(tag)
	}
	return nil
}

// Write implements Store.Write
func (s *Badger) Write(ctx context.Context, series []types.Series) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := validateSeries(series); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Append to WAL first for durability
	if s.wal != nil {
		if err := s.wal.Append(series); err != nil {
			return fmt.Errorf("WAL append failed: %w", err)
		}
	}
	return s.write(series)
}

// write stores series without touching the WAL; caller holds s.mu or owns s exclusively
func (s *Badger) write(series []types.Series) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, ser := range series {
			id := SeriesID(ser.Tag)

			for dayStart, samples := range groupSamplesByDay(ser.Samples) {
				key := blockKey(id, dayStart)

				existing, err := s.readBlock(txn, key)
				if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}

				payload, err := json.Marshal(s.compressor.EncodeBlock(mergeSamples(existing, samples)))
				if err != nil {
					return fmt.Errorf("failed to marshal block: %w", err)
				}
				if err := txn.Set(key, payload); err != nil {
					return fmt.Errorf("failed to write block: %w", err)
				}
			}
		}
		return nil
	})
}

// ErrInvalidSeries is returned for a write the store can never apply
var ErrInvalidSeries = errors.New("invalid series")

func validateSeries(series []types.Series) error {
	for i, ser := range series {
		if strings.TrimSpace(ser.Tag) == "" {
			return fmt.Errorf("%w: series %d without tag", ErrInvalidSeries, i)
		}
	}
	return nil
}

// groupSamplesByDay groups samples into UTC day blocks
func groupSamplesByDay(samples []types.Sample) map[int64][]types.Sample {
	blocks := make(map[int64][]types.Sample)
	for _, sample := range samples {
		dayStart := dayOf(sample.Timestamp)
		blocks[dayStart] = append(blocks[dayStart], sample)
	}
	return blocks
}

func (s *Badger) readBlock(txn *badger.Txn, key []byte) ([]types.Sample, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var b block
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &b)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	return s.compressor.DecodeBlock(b)
}

// Values implements Store.Values
func (s *Badger) Values(ctx context.Context, tag string, from, to time.Time) (types.Series, error) {
	series := types.Series{Tag: tag, Samples: []types.Sample{}}
	if err := ctx.Err(); err != nil {
		return series, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := seriesPrefix(SeriesID(tag))
	lastDay := dayOf(to)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(blockKey(SeriesID(tag), dayOf(from))); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if int64(binary.BigEndian.Uint64(key[len(prefix):])) > lastDay {
				break
			}

			var b block
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal block: %w", err)
			}
			samples, err := s.compressor.DecodeBlock(b)
			if err != nil {
				return err
			}
			for _, sample := range samples {
				if inRange(sample.Timestamp, from, to) {
					series.Samples = append(series.Samples, sample)
				}
			}
		}
		return nil
	})
	if err != nil {
		return series, fmt.Errorf("failed to read %s: %w", tag, err)
	}
	return series, nil
}

// MultiValues implements Store.MultiValues
func (s *Badger) MultiValues(ctx context.Context, tags []string, from, to time.Time) (map[string]types.Series, error) {
	out := make(map[string]types.Series, len(tags))
	for _, tag := range tags {
		series, err := s.Values(ctx, tag, from, to)
		if err != nil {
			return nil, err
		}
		out[tag] = series
	}
	return out, nil
}

// CreateTemplate implements Store.CreateTemplate
func (s *Badger) CreateTemplate(ctx context.Context, t types.Template) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	next, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate template id: %w", err)
	}
	// Sequences start at zero; template ids start at one
	t.ID = int64(next) + 1
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt

	err = s.db.Update(func(txn *badger.Txn) error {
		return s.putTemplate(txn, t)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create template: %w", err)
	}
	return t.ID, nil
}

// UpdateTemplate implements Store.UpdateTemplate
func (s *Badger) UpdateTemplate(ctx context.Context, t types.Template) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		existing, err := s.getTemplate(txn, t.ID)
		if err != nil {
			return err
		}
		if existing.Owner != t.Owner {
			return fmt.Errorf("template %d: %w", t.ID, ErrNotFound)
		}

		existing.Name = t.Name
		existing.Description = t.Description
		existing.Tags = append([]string(nil), t.Tags...)
		existing.UpdatedAt = s.now()
		return s.putTemplate(txn, existing)
	})
}

// DeleteTemplate implements Store.DeleteTemplate
func (s *Badger) DeleteTemplate(ctx context.Context, id int64, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		existing, err := s.getTemplate(txn, id)
		if err != nil {
			return err
		}
		if existing.Owner != owner {
			return fmt.Errorf("template %d: %w", id, ErrNotFound)
		}
		return txn.Delete(templateKey(id))
	})
}

// ListTemplates implements Store.ListTemplates
func (s *Badger) ListTemplates(ctx context.Context, owner string) ([]types.TemplateSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []types.TemplateSummary{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(templatePrefix); it.ValidForPrefix(templatePrefix); it.Next() {
			var t types.Template
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal template: %w", err)
			}
			if t.Owner != owner {
				continue
			}
			out = append(out, types.TemplateSummary{
				ID:          t.ID,
				Name:        t.Name,
				Description: t.Description,
				TagCount:    len(t.Tags),
				CreatedAt:   t.CreatedAt,
				UpdatedAt:   t.UpdatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// GetTemplate implements Store.GetTemplate
func (s *Badger) GetTemplate(ctx context.Context, id int64) (types.Template, error) {
	if err := ctx.Err(); err != nil {
		return types.Template{}, err
	}

	var t types.Template
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		t, err = s.getTemplate(txn, id)
		return err
	})
	return t, err
}

func (s *Badger) getTemplate(txn *badger.Txn, id int64) (types.Template, error) {
	var t types.Template
	item, err := txn.Get(templateKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return t, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return t, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	})
	return t, err
}

func (s *Badger) putTemplate(txn *badger.Txn, t types.Template) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	return txn.Set(templateKey(t.ID), data)
}

// Ping implements Store.Ping
func (s *Badger) Ping(ctx context.Context) (string, error) {
	if s.db.IsClosed() {
		return "", errors.New("storage closed")
	}
	return "BadgerDB v4", ctx.Err()
}

// Close implements Store.Close. A clean close drops the WAL since every entry is in the DB.
func (s *Badger) Close() error {
	var errs []error
	if s.seq != nil {
		errs = append(errs, s.seq.Release())
	}
	if s.compressor != nil {
		s.compressor.Close()
	}
	if s.db != nil && !s.db.IsClosed() {
		errs = append(errs, s.db.Close())
	}
	if s.wal != nil {
		err := s.wal.Close()
		if err == nil && errors.Join(errs...) == nil {
			err = os.Remove(s.wal.Name())
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func tagKey(name string) []byte {
	return append(append([]byte{}, tagPrefix...), name...)
}

func seriesPrefix(id uint64) []byte {
	buf := make([]byte, 0, len(samplePrefix)+8)
	buf = append(buf, samplePrefix...)
	return binary.BigEndian.AppendUint64(buf, id)
}

// blockKey generates the storage key of a tag-day block
func blockKey(id uint64, dayStart int64) []byte {
	if dayStart < 0 {
		dayStart = 0
	}
	buf := bytes.NewBuffer(seriesPrefix(id))
	binary.Write(buf, binary.BigEndian, uint64(dayStart))
	return buf.Bytes()
}

func templateKey(id int64) []byte {
	buf := make([]byte, 0, len(templatePrefix)+8)
	buf = append(buf, templatePrefix...)
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

// dayOf returns the unix seconds of the UTC midnight starting the day of ts
func dayOf(ts time.Time) int64 {
	return ts.UTC().Truncate(day).Unix()
}

// badgerLogger routes BadgerDB's own logging into zerolog
type badgerLogger struct {
	zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.Trace().Msgf(strings.TrimSpace(format), args...)
}
