package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vjranagit/qualitytrend/pkg/types"
)

func newTestBadger(t *testing.T, dir string, wal bool) *Badger {
	t.Helper()
	cfg := &Config{
		Driver:           DriverBadger,
		Path:             dir,
		CompressionLevel: 3,
		EnableWAL:        wal,
	}
	store, err := NewBadger(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return store
}

func sample(ts time.Time, v float64) types.Sample {
	return types.Sample{Timestamp: ts, Value: types.Float(v)}
}

func TestBadgerWriteAndValues(t *testing.T) {
	store := newTestBadger(t, t.TempDir(), false)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2024, 3, 10, 8, 0, 0, 0, time.Local)

	err := store.Write(ctx, []types.Series{{
		Tag: "PH-01",
		Samples: []types.Sample{
			sample(base.Add(48*time.Hour), 7.3),
			sample(base, 7.1),
			{Timestamp: base.Add(24 * time.Hour)},
			sample(base.Add(72*time.Hour), 7.4),
		},
	}})
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	from, to := DayRange(base, base.Add(48*time.Hour))
	series, err := store.Values(ctx, "PH-01", from, to)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}

	if series.Len() != 3 {
		t.Fatalf("Expected 3 samples in range, got %d", series.Len())
	}
	if *series.Samples[0].Value != 7.1 {
		t.Errorf("Expected first value 7.1, got %v", *series.Samples[0].Value)
	}
	if series.Samples[1].Value != nil {
		t.Errorf("Expected gap to survive storage, got %v", *series.Samples[1].Value)
	}
	if !series.Samples[2].Timestamp.Equal(base.Add(48 * time.Hour)) {
		t.Errorf("Unexpected last timestamp %v", series.Samples[2].Timestamp)
	}
}

func TestBadgerWriteReplacesSameTimestamp(t *testing.T) {
	store := newTestBadger(t, t.TempDir(), false)
	defer store.Close()

	ctx := context.Background()
	ts := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	for _, v := range []float64{1, 2} {
		err := store.Write(ctx, []types.Series{{Tag: "T", Samples: []types.Sample{sample(ts, v)}}})
		if err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}
	err := store.Write(ctx, []types.Series{{Tag: "T", Samples: []types.Sample{sample(ts.Add(time.Minute), 3)}}})
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	series, err := store.Values(ctx, "T", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if series.Len() != 2 {
		t.Fatalf("Expected 2 samples, got %d", series.Len())
	}
	if *series.Samples[0].Value != 2 || *series.Samples[1].Value != 3 {
		t.Errorf("Unexpected values %v, %v", *series.Samples[0].Value, *series.Samples[1].Value)
	}
}

func TestBadgerMultiValuesKeepsEveryTag(t *testing.T) {
	store := newTestBadger(t, t.TempDir(), false)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	if err := store.Write(ctx, []types.Series{{Tag: "A", Samples: []types.Sample{sample(now, 1)}}}); err != nil {
		t.Fatal(err)
	}

	from, to := DayRange(now, now)
	res, err := store.MultiValues(ctx, []string{"A", "B"}, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if res["A"].Len() != 1 {
		t.Errorf("Expected 1 sample for A, got %d", res["A"].Len())
	}
	b, ok := res["B"]
	if !ok || b.Samples == nil || b.Len() != 0 {
		t.Errorf("Expected empty series for B, got %+v (present=%v)", b, ok)
	}
}

func TestBadgerTagsAndPlants(t *testing.T) {
	dir := t.TempDir()
	store := newTestBadger(t, dir, false)

	ctx := context.Background()
	tags := []types.Tag{
		{Name: "VISC", Plant: "Plant B", Limits: types.Limits{LSL: types.Float(10), USL: types.Float(20)}},
		{Name: "PH-02", Plant: "Plant A"},
		{Name: "PH-01", Plant: "Plant A"},
		{Name: "ORPHAN", Plant: "N/A"},
	}
	if err := store.PutTags(ctx, tags); err != nil {
		t.Fatalf("Failed to put tags: %v", err)
	}
	store.Close()

	// The catalog survives a reopen
	store = newTestBadger(t, dir, false)
	defer store.Close()

	got, err := store.Tags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tag := range got {
		names = append(names, tag.Name)
	}
	want := []string{"ORPHAN", "PH-01", "PH-02", "VISC"}
	if len(names) != len(want) {
		t.Fatalf("Expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, names)
			break
		}
	}
	if got[3].LSL == nil || *got[3].LSL != 10 || got[3].LGL != nil {
		t.Errorf("Limits not preserved: %+v", got[3].Limits)
	}

	plants, err := store.Plants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(plants) != 2 || plants[0] != "Plant A" || plants[1] != "Plant B" {
		t.Errorf("Unexpected plants %v", plants)
	}

	plantTags, err := store.PlantTags(ctx, " plant a ")
	if err != nil {
		t.Fatal(err)
	}
	if len(plantTags) != 2 || plantTags[0].Name != "PH-01" || plantTags[1].Name != "PH-02" {
		t.Errorf("Expected [PH-01 PH-02] for plant a, got %+v", plantTags)
	}
}

func TestBadgerTemplateLifecycle(t *testing.T) {
	store := newTestBadger(t, t.TempDir(), false)
	defer store.Close()

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	ctx := context.Background()
	first, err := store.CreateTemplate(ctx, types.Template{Name: "Line 1", Owner: "ana", Tags: []string{"A", "B", "C"}})
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	second, err := store.CreateTemplate(ctx, types.Template{Name: "Line 2", Owner: "ana", Tags: []string{"X"}})
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if first != 1 || second != 2 {
		t.Errorf("Expected ids 1 and 2, got %d and %d", first, second)
	}

	// Whole replacement of the tag list
	err = store.UpdateTemplate(ctx, types.Template{ID: first, Name: "Line 1b", Owner: "ana", Tags: []string{"B", "D"}})
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	got, err := store.GetTemplate(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Line 1b" || len(got.Tags) != 2 || got.Tags[0] != "B" || got.Tags[1] != "D" {
		t.Errorf("Unexpected template after update: %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Error("Expected updated_at to move forward")
	}

	list, err := store.ListTemplates(ctx, "ana")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != first || list[0].TagCount != 2 {
		t.Errorf("Expected most recently updated first, got %+v", list)
	}

	others, err := store.ListTemplates(ctx, "ben")
	if err != nil {
		t.Fatal(err)
	}
	if len(others) != 0 {
		t.Errorf("Expected no templates for ben, got %d", len(others))
	}
}

func TestBadgerTemplateOwnership(t *testing.T) {
	store := newTestBadger(t, t.TempDir(), false)
	defer store.Close()

	ctx := context.Background()
	id, err := store.CreateTemplate(ctx, types.Template{Name: "Mine", Owner: "ana", Tags: []string{"A"}})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteTemplate(ctx, id, "ben"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting someone else's template, got %v", err)
	}
	if err := store.UpdateTemplate(ctx, types.Template{ID: id, Name: "x", Owner: "ben", Tags: []string{"B"}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating someone else's template, got %v", err)
	}
	if err := store.DeleteTemplate(ctx, id, "ana"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := store.GetTemplate(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteTemplate(ctx, 99, "ana"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestBadgerReplaysWAL(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	// A WAL left behind by a crashed process
	wal, err := NewWAL(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := wal.Append([]types.Series{{Tag: "T", Samples: []types.Sample{sample(ts, 5)}}}); err != nil {
		t.Fatal(err)
	}
	if err := wal.Close(); err != nil {
		t.Fatal(err)
	}

	store := newTestBadger(t, dir, true)
	series, err := store.Values(context.Background(), "T", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if series.Len() != 1 || *series.Samples[0].Value != 5 {
		t.Errorf("Expected replayed sample, got %+v", series.Samples)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	entries, err := os.ReadDir(dir + "/wal")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected clean close to leave no WAL files, found %d", len(entries))
	}
}

// crash releases the store's handles without the clean close that drops the WAL
func crash(t *testing.T, store *Badger) {
	t.Helper()
	if err := store.wal.Close(); err != nil {
		t.Fatal(err)
	}
	store.seq.Release()
	store.compressor.Close()
	if err := store.db.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestBadgerRejectsInvalidSeriesBeforeWAL(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	store := newTestBadger(t, dir, true)
	err := store.Write(ctx, []types.Series{
		{Tag: "T", Samples: []types.Sample{sample(ts, 1)}},
		{Tag: "  ", Samples: []types.Sample{sample(ts, 2)}},
	})
	if !errors.Is(err, ErrInvalidSeries) {
		t.Fatalf("Expected ErrInvalidSeries, got %v", err)
	}
	if err := store.Write(ctx, []types.Series{{Tag: "T", Samples: []types.Sample{sample(ts, 3)}}}); err != nil {
		t.Fatal(err)
	}
	crash(t, store)

	store = newTestBadger(t, dir, true)
	defer store.Close()
	series, err := store.Values(ctx, "T", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if series.Len() != 1 || *series.Samples[0].Value != 3 {
		t.Errorf("Expected only the valid write after reopen, got %+v", series.Samples)
	}
}

func TestBadgerSkipsInvalidWALEntries(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	wal, err := NewWAL(dir)
	if err != nil {
		t.Fatal(err)
	}
	wal.Append([]types.Series{{Tag: "", Samples: []types.Sample{sample(ts, 1)}}})
	wal.Append([]types.Series{{Tag: "T", Samples: []types.Sample{sample(ts, 2)}}})
	if err := wal.Close(); err != nil {
		t.Fatal(err)
	}

	store := newTestBadger(t, dir, true)
	defer store.Close()
	series, err := store.Values(context.Background(), "T", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if series.Len() != 1 || *series.Samples[0].Value != 2 {
		t.Errorf("Expected the valid entry replayed, got %+v", series.Samples)
	}
}

func TestDayRange(t *testing.T) {
	from := time.Date(2024, 1, 5, 13, 30, 0, 0, time.UTC)
	to := time.Date(2024, 1, 7, 1, 0, 0, 0, time.UTC)

	start, end := DayRange(from, to)
	if !start.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected start %v", start)
	}
	if end.Format("2006-01-02 15:04:05") != "2024-01-07 23:59:59" {
		t.Errorf("Unexpected end %v", end)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &Config{Driver: "mysql"}, zerolog.Nop())
	if err == nil {
		t.Fatal("Expected error for unknown driver")
	}
}

func TestPostgresTemplates(t *testing.T) {
	dsn := os.Getenv("QT_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("QT_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := NewPostgres(ctx, dsn, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer store.Close()

	owner := "qt-test-" + time.Now().Format("150405.000")
	id, err := store.CreateTemplate(ctx, types.Template{Name: "pg", Owner: owner, Tags: []string{"A", "B", "C"}})
	if err != nil {
		t.Fatal(err)
	}
	defer store.DeleteTemplate(ctx, id, owner)

	if err := store.UpdateTemplate(ctx, types.Template{ID: id, Name: "pg", Owner: owner, Tags: []string{"B", "D"}}); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetTemplate(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "B" || got.Tags[1] != "D" {
		t.Errorf("Expected [B D], got %v", got.Tags)
	}
	if err := store.DeleteTemplate(ctx, id, "someone-else"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	version, err := store.Ping(ctx)
	if err != nil || version == "" {
		t.Errorf("Ping failed: %q %v", version, err)
	}
}
