package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"estate-scout/models"
)

// PostgresStore persists canonical property records, change events, and run
// summaries to PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return ps, nil
}

func (ps *PostgresStore) migrate() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS properties (
			id                  TEXT PRIMARY KEY,
			source              TEXT NOT NULL,
			source_id           TEXT NOT NULL,
			url                 TEXT NOT NULL,
			title               TEXT NOT NULL DEFAULT '',
			location            TEXT NOT NULL,
			price               NUMERIC(14,2) NOT NULL DEFAULT 0,
			area_sqm            NUMERIC(12,2) NOT NULL DEFAULT 0,
			land_sqm            NUMERIC(12,2) NOT NULL DEFAULT 0,
			property_type       TEXT NOT NULL DEFAULT '',
			coast_km            NUMERIC(8,2)  NOT NULL DEFAULT 0,
			zoning              TEXT NOT NULL DEFAULT '',
			sea_view            BOOLEAN NOT NULL DEFAULT FALSE,
			pool                BOOLEAN NOT NULL DEFAULT FALSE,
			historic            BOOLEAN NOT NULL DEFAULT FALSE,
			masseria            BOOLEAN NOT NULL DEFAULT FALSE,
			renovation_required BOOLEAN NOT NULL DEFAULT FALSE,
			raw_description     TEXT NOT NULL DEFAULT '',
			match_score         NUMERIC(5,1) NOT NULL DEFAULT 0,
			severity            TEXT NOT NULL DEFAULT 'LOW',
			evaluation          JSONB NOT NULL DEFAULT '{}',
			price_history       JSONB NOT NULL DEFAULT '[]',
			first_seen_at       TIMESTAMPTZ NOT NULL,
			last_seen_at        TIMESTAMPTZ NOT NULL,
			last_changed_at     TIMESTAMPTZ NOT NULL,
			missing_since       TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_properties_severity ON properties(severity);
		CREATE INDEX IF NOT EXISTS idx_properties_location ON properties(location);
		CREATE INDEX IF NOT EXISTS idx_properties_score    ON properties(match_score);

		CREATE TABLE IF NOT EXISTS events (
			id          BIGSERIAL PRIMARY KEY,
			run_id      TEXT NOT NULL,
			kind        TEXT NOT NULL,
			record_id   TEXT NOT NULL,
			source      TEXT NOT NULL,
			old_price   NUMERIC(14,2),
			new_price   NUMERIC(14,2),
			price_delta NUMERIC(14,2),
			fields      JSONB,
			observed_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_record ON events(record_id);

		CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			state       TEXT NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			summary     JSONB NOT NULL
		);
	`)
	return err
}

// evaluation bundles the JSONB-stored scoring detail.
type evaluation struct {
	Breakdown      []models.CriteriaScore `json:"breakdown"`
	Strengths      []string               `json:"strengths"`
	Concerns       []string               `json:"concerns"`
	Recommendation string                 `json:"recommendation"`
}

// Snapshot loads the full record set keyed by id.
func (ps *PostgresStore) Snapshot(ctx context.Context) (map[string]models.PropertyRecord, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT id, source, source_id, url, title, location, price, area_sqm,
		       land_sqm, property_type, coast_km, zoning, sea_view, pool,
		       historic, masseria, renovation_required, raw_description,
		       match_score, severity, evaluation, price_history,
		       first_seen_at, last_seen_at, last_changed_at, missing_since
		FROM properties
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.PropertyRecord)
	for rows.Next() {
		var (
			rec          models.PropertyRecord
			evalJSON     []byte
			historyJSON  []byte
			missingSince sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID, &rec.Source, &rec.SourceID, &rec.URL, &rec.Title,
			&rec.Location, &rec.Price, &rec.AreaSqm, &rec.LandSqm,
			&rec.PropertyType, &rec.CoastKm, &rec.Zoning, &rec.SeaView,
			&rec.Pool, &rec.Historic, &rec.Masseria, &rec.RenovationRequired,
			&rec.RawDescription, &rec.MatchScore, &rec.Severity,
			&evalJSON, &historyJSON,
			&rec.FirstSeenAt, &rec.LastSeenAt, &rec.LastChangedAt, &missingSince,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan property: %w", err)
		}

		var ev evaluation
		if err := json.Unmarshal(evalJSON, &ev); err != nil {
			return nil, fmt.Errorf("postgres: decode evaluation for %s: %w", rec.ID, err)
		}
		rec.Breakdown = ev.Breakdown
		rec.Strengths = ev.Strengths
		rec.Concerns = ev.Concerns
		rec.Recommendation = ev.Recommendation

		if err := json.Unmarshal(historyJSON, &rec.PriceHistory); err != nil {
			return nil, fmt.Errorf("postgres: decode price history for %s: %w", rec.ID, err)
		}
		if missingSince.Valid {
			t := missingSince.Time
			rec.MissingSince = &t
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

// Commit writes the merged record map, the run's events, and the run
// summary in one transaction, so readers never observe a partial batch.
func (ps *PostgresStore) Commit(ctx context.Context, records map[string]models.PropertyRecord, events []models.ChangeEvent, result *models.RunResult) error {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO properties (
			id, source, source_id, url, title, location, price, area_sqm,
			land_sqm, property_type, coast_km, zoning, sea_view, pool,
			historic, masseria, renovation_required, raw_description,
			match_score, severity, evaluation, price_history,
			first_seen_at, last_seen_at, last_changed_at, missing_since
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
		          $17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			location = EXCLUDED.location,
			price = EXCLUDED.price,
			area_sqm = EXCLUDED.area_sqm,
			land_sqm = EXCLUDED.land_sqm,
			property_type = EXCLUDED.property_type,
			coast_km = EXCLUDED.coast_km,
			zoning = EXCLUDED.zoning,
			sea_view = EXCLUDED.sea_view,
			pool = EXCLUDED.pool,
			historic = EXCLUDED.historic,
			masseria = EXCLUDED.masseria,
			renovation_required = EXCLUDED.renovation_required,
			raw_description = EXCLUDED.raw_description,
			match_score = EXCLUDED.match_score,
			severity = EXCLUDED.severity,
			evaluation = EXCLUDED.evaluation,
			price_history = EXCLUDED.price_history,
			last_seen_at = EXCLUDED.last_seen_at,
			last_changed_at = EXCLUDED.last_changed_at,
			missing_since = EXCLUDED.missing_since
	`)
	if err != nil {
		return fmt.Errorf("postgres: prepare upsert: %w", err)
	}
	defer upsert.Close()

	for _, rec := range records {
		evalJSON, err := json.Marshal(evaluation{
			Breakdown:      rec.Breakdown,
			Strengths:      rec.Strengths,
			Concerns:       rec.Concerns,
			Recommendation: rec.Recommendation,
		})
		if err != nil {
			return fmt.Errorf("postgres: encode evaluation for %s: %w", rec.ID, err)
		}
		historyJSON, err := json.Marshal(rec.PriceHistory)
		if err != nil {
			return fmt.Errorf("postgres: encode price history for %s: %w", rec.ID, err)
		}
		var missing interface{}
		if rec.MissingSince != nil {
			missing = *rec.MissingSince
		}

		if _, err := upsert.ExecContext(ctx,
			rec.ID, rec.Source, rec.SourceID, rec.URL, rec.Title,
			rec.Location, rec.Price, rec.AreaSqm, rec.LandSqm,
			rec.PropertyType, rec.CoastKm, rec.Zoning, rec.SeaView, rec.Pool,
			rec.Historic, rec.Masseria, rec.RenovationRequired,
			rec.RawDescription, rec.MatchScore, string(rec.Severity),
			evalJSON, historyJSON,
			rec.FirstSeenAt, rec.LastSeenAt, rec.LastChangedAt, missing,
		); err != nil {
			return fmt.Errorf("postgres: upsert %s: %w", rec.ID, err)
		}
	}

	for _, ev := range events {
		fieldsJSON, err := json.Marshal(ev.Fields)
		if err != nil {
			return fmt.Errorf("postgres: encode event fields: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (run_id, kind, record_id, source, old_price, new_price, price_delta, fields, observed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, result.RunID, string(ev.Kind), ev.RecordID, ev.Source,
			ev.OldPrice, ev.NewPrice, ev.PriceDelta, fieldsJSON, ev.ObservedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert event: %w", err)
		}
	}

	summaryJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("postgres: encode run summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, state, started_at, finished_at, summary)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (run_id) DO UPDATE SET
			state = EXCLUDED.state,
			finished_at = EXCLUDED.finished_at,
			summary = EXCLUDED.summary
	`, result.RunID, string(result.State), result.StartedAt, result.FinishedAt, summaryJSON); err != nil {
		return fmt.Errorf("postgres: insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
