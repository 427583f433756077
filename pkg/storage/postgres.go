package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/vjranagit/qualitytrend/pkg/normalize"
	"github.com/vjranagit/qualitytrend/pkg/types"
)

// schema creates the quality tables when missing. Existing deployments keep their tables.
const schema = `
CREATE TABLE IF NOT EXISTS tagnamelist (
	tagname     TEXT PRIMARY KEY,
	description TEXT,
	plant       TEXT,
	format      TEXT,
	lsl         DOUBLE PRECISION,
	usl         DOUBLE PRECISION,
	lgl         DOUBLE PRECISION,
	ugl         DOUBLE PRECISION
);
CREATE TABLE IF NOT EXISTS masterqualitydata (
	datetime TIMESTAMP NOT NULL,
	tagname  TEXT NOT NULL,
	value    DOUBLE PRECISION,
	PRIMARY KEY (tagname, datetime)
);
CREATE TABLE IF NOT EXISTS trendtemplates (
	id           SERIAL PRIMARY KEY,
	templatename TEXT NOT NULL,
	description  TEXT,
	username     TEXT NOT NULL,
	createdat    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updatedat    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS trendtemplatetags (
	id           SERIAL PRIMARY KEY,
	templateid   INTEGER NOT NULL REFERENCES trendtemplates(id),
	tagname      TEXT NOT NULL,
	displayorder INTEGER NOT NULL,
	createdat    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Postgres implements Store on the quality database schema
type Postgres struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgres connects to dsn and makes sure the schema exists
func NewPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Postgres{
		db:     db,
		logger: logger.With().Str("component", "storage").Str("driver", DriverPostgres).Logger(),
	}, nil
}

// Tags implements Store.Tags
func (p *Postgres) Tags(ctx context.Context) ([]types.Tag, error) {
	return p.queryTags(ctx, `ORDER BY plant, tagname`)
}

// PlantTags implements Store.PlantTags
func (p *Postgres) PlantTags(ctx context.Context, plant string) ([]types.Tag, error) {
	return p.queryTags(ctx, `WHERE lower(trim(plant)) = lower(trim($1)) ORDER BY tagname`, plant)
}

func (p *Postgres) queryTags(ctx context.Context, clause string, args ...any) ([]types.Tag, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tagname, COALESCE(description, ''), COALESCE(plant, ''), COALESCE(format, ''),
		       lsl, usl, lgl, ugl
		FROM tagnamelist
		`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	out := []types.Tag{}
	for rows.Next() {
		var (
			tag                types.Tag
			lsl, usl, lgl, ugl sql.NullFloat64
		)
		if err := rows.Scan(&tag.Name, &tag.Description, &tag.Plant, &tag.Format, &lsl, &usl, &lgl, &ugl); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tag.LSL, tag.USL, tag.LGL, tag.UGL = nullable(lsl), nullable(usl), nullable(lgl), nullable(ugl)
		out = append(out, tag)
	}
	return out, rows.Err()
}

// Plants implements Store.Plants
func (p *Postgres) Plants(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT plant FROM tagnamelist
		WHERE plant IS NOT NULL AND plant <> ''
		ORDER BY plant`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plants: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var plant string
		if err := rows.Scan(&plant); err != nil {
			return nil, fmt.Errorf("failed to scan plant: %w", err)
		}
		if plant = strings.TrimSpace(plant); !normalize.IsPlaceholder(plant) {
			out = append(out, plant)
		}
	}
	return out, rows.Err()
}

// PutTags implements Store.PutTags
func (p *Postgres) PutTags(ctx context.Context, tags []types.Tag) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tagnamelist (tagname, description, plant, format, lsl, usl, lgl, ugl)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tagname) DO UPDATE SET
				description = EXCLUDED.description, plant = EXCLUDED.plant, format = EXCLUDED.format,
				lsl = EXCLUDED.lsl, usl = EXCLUDED.usl, lgl = EXCLUDED.lgl, ugl = EXCLUDED.ugl`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, tag := range tags {
			name := strings.TrimSpace(tag.Name)
			if name == "" {
				return errors.New("tag name required")
			}
			_, err := stmt.ExecContext(ctx, name, tag.Description, tag.Plant, tag.Format,
				tag.LSL, tag.USL, tag.LGL, tag.UGL)
			if err != nil {
				return fmt.Errorf("failed to write tag %s: %w", name, err)
			}
		}
		return nil
	})
}

// Values implements Store.Values
func (p *Postgres) Values(ctx context.Context, tag string, from, to time.Time) (types.Series, error) {
	res, err := p.MultiValues(ctx, []string{tag}, from, to)
	if err != nil {
		return types.Series{Tag: tag, Samples: []types.Sample{}}, err
	}
	return res[tag], nil
}

// MultiValues implements Store.MultiValues
func (p *Postgres) MultiValues(ctx context.Context, tags []string, from, to time.Time) (map[string]types.Series, error) {
	out := make(map[string]types.Series, len(tags))
	for _, tag := range tags {
		out[tag] = types.Series{Tag: tag, Samples: []types.Sample{}}
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT tagname, datetime, value
		FROM masterqualitydata
		WHERE tagname = ANY($1) AND datetime >= $2 AND datetime <= $3
		ORDER BY tagname, datetime`,
		pq.Array(tags), wallClock(from), wallClock(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tag   string
			ts    time.Time
			value sql.NullFloat64
		)
		if err := rows.Scan(&tag, &ts, &value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		series := out[tag]
		series.Samples = append(series.Samples, types.Sample{
			Timestamp: fromWallClock(ts, from.Location()),
			Value:     nullable(value),
		})
		out[tag] = series
	}
	return out, rows.Err()
}

// Write implements Store.Write
func (p *Postgres) Write(ctx context.Context, series []types.Series) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO masterqualitydata (datetime, tagname, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (tagname, datetime) DO UPDATE SET value = EXCLUDED.value`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range series {
			if strings.TrimSpace(s.Tag) == "" {
				return errors.New("series without tag")
			}
			for _, sample := range s.Samples {
				if _, err := stmt.ExecContext(ctx, wallClock(sample.Timestamp), s.Tag, sample.Value); err != nil {
					return fmt.Errorf("failed to write sample of %s: %w", s.Tag, err)
				}
			}
		}
		return nil
	})
}

// CreateTemplate implements Store.CreateTemplate
func (p *Postgres) CreateTemplate(ctx context.Context, t types.Template) (int64, error) {
	var id int64
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO trendtemplates (templatename, description, username, createdat, updatedat)
			VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			RETURNING id`, t.Name, t.Description, t.Owner).Scan(&id)
		if err != nil {
			return err
		}
		return insertTemplateTags(ctx, tx, id, t.Tags)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create template: %w", err)
	}
	return id, nil
}

// UpdateTemplate implements Store.UpdateTemplate
func (p *Postgres) UpdateTemplate(ctx context.Context, t types.Template) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE trendtemplates
			SET templatename = $1, description = $2, updatedat = CURRENT_TIMESTAMP
			WHERE id = $3 AND username = $4`, t.Name, t.Description, t.ID, t.Owner)
		if err != nil {
			return fmt.Errorf("failed to update template: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("template %d: %w", t.ID, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM trendtemplatetags WHERE templateid = $1`, t.ID); err != nil {
			return fmt.Errorf("failed to clear template tags: %w", err)
		}
		return insertTemplateTags(ctx, tx, t.ID, t.Tags)
	})
}

func insertTemplateTags(ctx context.Context, tx *sql.Tx, id int64, tags []string) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trendtemplatetags (templateid, tagname, displayorder, createdat)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for order, tag := range tags {
		if _, err := stmt.ExecContext(ctx, id, tag, order); err != nil {
			return fmt.Errorf("failed to insert template tag: %w", err)
		}
	}
	return nil
}

// DeleteTemplate implements Store.DeleteTemplate
func (p *Postgres) DeleteTemplate(ctx context.Context, id int64, owner string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		var found int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM trendtemplates WHERE id = $1 AND username = $2`, id, owner).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("template %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM trendtemplatetags WHERE templateid = $1`, id); err != nil {
			return fmt.Errorf("failed to delete template tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM trendtemplates WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete template: %w", err)
		}
		return nil
	})
}

// ListTemplates implements Store.ListTemplates
func (p *Postgres) ListTemplates(ctx context.Context, owner string) ([]types.TemplateSummary, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tt.id, tt.templatename, COALESCE(tt.description, ''), tt.createdat, tt.updatedat,
		       COUNT(ttt.id) AS tagcount
		FROM trendtemplates tt
		LEFT JOIN trendtemplatetags ttt ON tt.id = ttt.templateid
		WHERE tt.username = $1
		GROUP BY tt.id, tt.templatename, tt.description, tt.createdat, tt.updatedat
		ORDER BY tt.updatedat DESC, tt.id DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	out := []types.TemplateSummary{}
	for rows.Next() {
		var t types.TemplateSummary
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt, &t.UpdatedAt, &t.TagCount); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTemplate implements Store.GetTemplate
func (p *Postgres) GetTemplate(ctx context.Context, id int64) (types.Template, error) {
	t := types.Template{ID: id}
	err := p.db.QueryRowContext(ctx, `
		SELECT templatename, COALESCE(description, ''), username, createdat, updatedat
		FROM trendtemplates WHERE id = $1`, id).
		Scan(&t.Name, &t.Description, &t.Owner, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return t, fmt.Errorf("failed to query template: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT tagname FROM trendtemplatetags
		WHERE templateid = $1
		ORDER BY displayorder ASC`, id)
	if err != nil {
		return t, fmt.Errorf("failed to query template tags: %w", err)
	}
	defer rows.Close()

	t.Tags = []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return t, err
		}
		t.Tags = append(t.Tags, tag)
	}
	return t, rows.Err()
}

// Ping implements Store.Ping
func (p *Postgres) Ping(ctx context.Context) (string, error) {
	var version string
	if err := p.db.QueryRowContext(ctx, `SELECT version()`).Scan(&version); err != nil {
		return "", fmt.Errorf("failed to query version: %w", err)
	}
	return version, nil
}

// Close implements Store.Close
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return types.Float(v.Float64)
}

// wallClock drops the zone: the quality tables hold local wall clock TIMESTAMPs
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func fromWallClock(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}
