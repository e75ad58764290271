package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joeblew999/plat-water/internal/service"
)

const schema = `
CREATE TABLE IF NOT EXISTS exports (
	session_id VARCHAR NOT NULL,
	name       VARCHAR NOT NULL,
	path       VARCHAR NOT NULL,
	region     INTEGER NOT NULL,
	kind       VARCHAR,
	lat        DOUBLE,
	lng        DOUBLE,
	area_km2   DOUBLE,
	url        VARCHAR,
	error      VARCHAR,
	params     VARCHAR,
	at         TIMESTAMP NOT NULL
)`

// Ledger records export outcomes. It implements service.Ledger.
type Ledger struct {
	db *sql.DB
}

var _ service.Ledger = (*Ledger)(nil)

// NewLedger creates the exports table if needed.
func NewLedger(ctx context.Context, db *sql.DB) (*Ledger, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating exports table: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record appends one outcome.
func (l *Ledger) Record(ctx context.Context, rec service.ExportRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO exports VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Name, rec.Path, rec.Region, rec.Kind, rec.Lat, rec.Lng,
		rec.AreaKm2, rec.URL, rec.Error, string(params), rec.At,
	)
	if err != nil {
		return fmt.Errorf("inserting export: %w", err)
	}
	return nil
}

// Filter narrows List.
type Filter struct {
	SessionID string
	Failed    *bool
	Limit     int
	Offset    int
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Failed != nil {
		if *f.Failed {
			conds = append(conds, "error <> ''")
		} else {
			conds = append(conds, "error = ''")
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns matching records newest first, with the unpaged total.
func (l *Ledger) List(ctx context.Context, f Filter) ([]service.ExportRecord, int, error) {
	where, args := f.where()

	var total int
	if err := l.db.QueryRowContext(ctx, "SELECT count(*) FROM exports"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting exports: %w", err)
	}

	q := `SELECT session_id, name, path, region, kind, lat, lng, area_km2, url, error, params, at
		FROM exports` + where + ` ORDER BY at DESC, region ASC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing exports: %w", err)
	}
	defer rows.Close()

	out := []service.ExportRecord{}
	for rows.Next() {
		var rec service.ExportRecord
		var params string
		if err := rows.Scan(&rec.SessionID, &rec.Name, &rec.Path, &rec.Region, &rec.Kind,
			&rec.Lat, &rec.Lng, &rec.AreaKm2, &rec.URL, &rec.Error, &params, &rec.At); err != nil {
			return nil, 0, fmt.Errorf("scanning export: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
			return nil, 0, fmt.Errorf("decoding params: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// PathSummary counts outcomes per export path.
type PathSummary struct {
	Path      string  `json:"path" doc:"drawn or selected"`
	Succeeded int     `json:"succeeded" doc:"Exports with a download link"`
	Failed    int     `json:"failed" doc:"Exports the backend rejected"`
	AreaKm2   float64 `json:"areaKm2" doc:"Total area of successful exports"`
}

// Summary aggregates the ledger by path.
func (l *Ledger) Summary(ctx context.Context) ([]PathSummary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT path,
			count(*) FILTER (WHERE error = '') AS ok,
			count(*) FILTER (WHERE error <> '') AS failed,
			coalesce(sum(area_km2) FILTER (WHERE error = ''), 0) AS area
		FROM exports GROUP BY path ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("summarising exports: %w", err)
	}
	defer rows.Close()

	out := []PathSummary{}
	for rows.Next() {
		var s PathSummary
		if err := rows.Scan(&s.Path, &s.Succeeded, &s.Failed, &s.AreaKm2); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
