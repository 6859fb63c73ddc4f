// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolution keeps a local ledger of geocoding outcomes so that
// batch runs and the API can be audited, exported and queried spatially.
package resolution

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sendasf/senda/geocode"
	"github.com/sendasf/senda/spatial"
	"github.com/sendasf/senda/textutil"
)

// MinCellRes and MaxCellRes bound the H3 resolutions stored per record,
// from neighbourhood (6) down to block (9) size.
const (
	MinCellRes = 6
	MaxCellRes = 9
)

// Record is the outcome of resolving one address.
type Record struct {
	ID        int64                `json:"-"`
	Address   geocode.AddressQuery `json:"address"`
	Reference string               `json:"reference,omitempty"`
	Found     bool                 `json:"found"`
	Strategy  geocode.Strategy     `json:"strategy"`
	Query     string               `json:"query,omitempty"`
	Point     *spatial.Point       `json:"point,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	H3Res6    int64                `json:"-"`
	H3Res7    int64                `json:"-"`
	H3Res8    int64                `json:"-"`
	H3Res9    int64                `json:"-"`
}

// NewRecord builds a Record from a Resolve outcome. m may be nil.
func NewRecord(q geocode.AddressQuery, reference string, m *geocode.Match) *Record {
	r := &Record{
		Address:   q,
		Reference: normalizeReference(reference),
		CreatedAt: time.Now().UTC(),
	}

	if m != nil {
		p := m.Point
		r.Found = true
		r.Strategy = m.Strategy
		r.Query = m.Query
		r.Point = &p
	}

	return r
}

func (r *Record) computeH3() error {
	r.H3Res6, r.H3Res7, r.H3Res8, r.H3Res9 = 0, 0, 0, 0

	if r.Point == nil {
		return nil
	}

	for res := MinCellRes; res <= MaxCellRes; res++ {
		cell, err := r.Point.Cell(res)
		if err != nil {
			return err
		}

		switch res {
		case 6:
			r.H3Res6 = cell
		case 7:
			r.H3Res7 = cell
		case 8:
			r.H3Res8 = cell
		case 9:
			r.H3Res9 = cell
		}
	}

	return nil
}

// Stats summarizes the ledger.
type Stats struct {
	Total      int            `json:"total"`
	Found      int            `json:"found"`
	NotFound   int            `json:"not_found"`
	ByStrategy map[string]int `json:"by_strategy"`
}

// CellCount is the number of resolved records inside an H3 cell.
type CellCount struct {
	Cell  string `json:"cell"`
	Count int    `json:"count"`
}

// Nearby is a resolved record with its distance to a reference point.
type Nearby struct {
	Record   *Record `json:"record"`
	Distance float64 `json:"distance"` // meters
}

// Repository handles persistence of resolution records.
type Repository interface {
	// CreateSchema creates the resolutions table
	CreateSchema() error

	// Save inserts a record and assigns its ID
	Save(record *Record) error

	// BulkInsert inserts a slice of records in a single transaction
	BulkInsert(records []*Record) error

	// List returns records, newest first
	List(limit, offset int) ([]*Record, error)

	// Search returns records whose address or reference matches text,
	// ignoring case and accents
	Search(text string, limit int) ([]*Record, error)

	// GetAllSorted returns all records in a stable order suited for export
	GetAllSorted() ([]*Record, error)

	// Stats returns counts by outcome and strategy
	Stats() (*Stats, error)

	// Nearby returns resolved records within radius meters of p, closest first
	Nearby(p spatial.Point, radius float64) ([]*Nearby, error)

	// CellCounts aggregates resolved records by H3 cell
	CellCounts(res int) ([]*CellCount, error)

	// Clusters groups resolved records closer than threshold meters
	Clusters(threshold float64) ([][]*Record, error)
}

type sqlRepository struct {
	db *sql.DB
}

// NewRepository creates a new DuckDB backed repository.
func NewRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db}
}

func (r *sqlRepository) CreateSchema() error {
	_, err := r.db.Exec(`
		CREATE SEQUENCE IF NOT EXISTS resolutions_seq START 1;

		CREATE TABLE IF NOT EXISTS resolutions (
			id BIGINT PRIMARY KEY DEFAULT nextval('resolutions_seq'),
			street VARCHAR NOT NULL,
			number VARCHAR NOT NULL,
			city VARCHAR NOT NULL,
			province VARCHAR NOT NULL,
			postal_code VARCHAR NOT NULL,
			reference VARCHAR NOT NULL,
			found BOOLEAN NOT NULL,
			strategy VARCHAR NOT NULL,
			query VARCHAR NOT NULL,
			lat DOUBLE,
			lng DOUBLE,
			created_at TIMESTAMP NOT NULL,
			h3_res6 BIGINT,
			h3_res7 BIGINT,
			h3_res8 BIGINT,
			h3_res9 BIGINT
		);
	`)

	return err
}

const insertSQL = `
	INSERT INTO resolutions(
		street, number, city, province, postal_code, reference,
		found, strategy, query, lat, lng, created_at,
		h3_res6, h3_res7, h3_res8, h3_res9
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING id
`

func insertArgs(rec *Record) []any {
	var lat, lng, h6, h7, h8, h9 any

	if rec.Point != nil {
		lat, lng = rec.Point.Lat, rec.Point.Lng
		h6, h7, h8, h9 = rec.H3Res6, rec.H3Res7, rec.H3Res8, rec.H3Res9
	}

	return []any{
		rec.Address.Street,
		rec.Address.Number,
		rec.Address.City,
		rec.Address.Province,
		rec.Address.PostalCode,
		rec.Reference,
		rec.Found,
		rec.Strategy.String(),
		rec.Query,
		lat,
		lng,
		rec.CreatedAt,
		h6, h7, h8, h9,
	}
}

func validate(rec *Record) error {
	if rec.Found && rec.Point == nil {
		return errors.New("point can't be null for a found record")
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	return rec.computeH3()
}

func (r *sqlRepository) Save(rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	return r.db.QueryRow(insertSQL, insertArgs(rec)...).Scan(&rec.ID)
}

func (r *sqlRepository) BulkInsert(records []*Record) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			err = errors.Join(err, rErr)
		}

		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		err := validate(rec)
		if err == nil {
			err = stmt.QueryRow(insertArgs(rec)...).Scan(&rec.ID)
		}

		if err != nil {
			if rErr := tx.Rollback(); rErr != nil {
				err = errors.Join(err, rErr)
			}

			return fmt.Errorf("inserting %q: %w", rec.Address.String(), err)
		}
	}

	return tx.Commit()
}

const selectColumns = `
	SELECT id, street, number, city, province, postal_code, reference,
	       found, strategy, query, lat, lng, created_at,
	       h3_res6, h3_res7, h3_res8, h3_res9
	FROM resolutions
`

func (r *sqlRepository) list(query string, args ...any) ([]*Record, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record

	for rows.Next() {
		rec := &Record{}

		var (
			strategy       string
			lat, lng       sql.NullFloat64
			h6, h7, h8, h9 sql.NullInt64
		)

		if err := rows.Scan(
			&rec.ID,
			&rec.Address.Street,
			&rec.Address.Number,
			&rec.Address.City,
			&rec.Address.Province,
			&rec.Address.PostalCode,
			&rec.Reference,
			&rec.Found,
			&strategy,
			&rec.Query,
			&lat,
			&lng,
			&rec.CreatedAt,
			&h6, &h7, &h8, &h9,
		); err != nil {
			return nil, err
		}

		if err := rec.Strategy.UnmarshalText([]byte(strategy)); err != nil {
			return nil, err
		}

		if lat.Valid && lng.Valid {
			rec.Point = &spatial.Point{Lat: lat.Float64, Lng: lng.Float64}
		}

		rec.H3Res6, rec.H3Res7, rec.H3Res8, rec.H3Res9 = h6.Int64, h7.Int64, h8.Int64, h9.Int64

		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *sqlRepository) List(limit, offset int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}

	return r.list(selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
}

func (r *sqlRepository) Search(text string, limit int) ([]*Record, error) {
	all, err := r.list(selectColumns + ` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}

	var matches []*Record

	for _, rec := range all {
		if textutil.ContainsFolded(rec.Address.String(), text) || textutil.ContainsFolded(rec.Reference, text) {
			matches = append(matches, rec)
			if limit > 0 && len(matches) >= limit {
				break
			}
		}
	}

	return matches, nil
}

func (r *sqlRepository) GetAllSorted() ([]*Record, error) {
	records, err := r.list(selectColumns)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Address.Province != b.Address.Province {
			return a.Address.Province < b.Address.Province
		}

		if a.Address.City != b.Address.City {
			return a.Address.City < b.Address.City
		}

		if sa, sb := a.Address.String(), b.Address.String(); sa != sb {
			return sa < sb
		}

		return a.CreatedAt.Before(b.CreatedAt)
	})

	return records, nil
}

func (r *sqlRepository) Stats() (*Stats, error) {
	rows, err := r.db.Query(`
		SELECT found, strategy, count(*)
		FROM resolutions
		GROUP BY found, strategy
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &Stats{ByStrategy: make(map[string]int)}

	for rows.Next() {
		var (
			found    bool
			strategy string
			count    int
		)

		if err := rows.Scan(&found, &strategy, &count); err != nil {
			return nil, err
		}

		stats.Total += count

		if found {
			stats.Found += count
			stats.ByStrategy[strategy] += count
		} else {
			stats.NotFound += count
		}
	}

	return stats, rows.Err()
}

func (r *sqlRepository) Nearby(p spatial.Point, radius float64) ([]*Nearby, error) {
	sw, ne := p.BoundingBox(radius)

	candidates, err := r.list(selectColumns+`
		WHERE found AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`,
		sw.Lat, ne.Lat, sw.Lng, ne.Lng)
	if err != nil {
		return nil, err
	}

	var result []*Nearby

	for _, rec := range candidates {
		if d := p.HaversineDistance(rec.Point); d <= radius {
			result = append(result, &Nearby{Record: rec, Distance: math.Round(d*10) / 10})
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Distance < result[j].Distance
	})

	return result, nil
}

func (r *sqlRepository) CellCounts(res int) ([]*CellCount, error) {
	if res < MinCellRes || res > MaxCellRes {
		return nil, fmt.Errorf("h3 resolution must be between %d and %d, got %d", MinCellRes, MaxCellRes, res)
	}

	// res is validated above, so formatting the column name is safe
	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT h3_res%[1]d, count(*) AS n
		FROM resolutions
		WHERE found AND h3_res%[1]d IS NOT NULL
		GROUP BY h3_res%[1]d
		ORDER BY n DESC, h3_res%[1]d
	`, res))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []*CellCount

	for rows.Next() {
		var (
			cell  int64
			count int
		)

		if err := rows.Scan(&cell, &count); err != nil {
			return nil, err
		}

		counts = append(counts, &CellCount{Cell: fmt.Sprintf("%x", cell), Count: count})
	}

	return counts, rows.Err()
}

func (r *sqlRepository) Clusters(threshold float64) ([][]*Record, error) {
	records, err := r.list(selectColumns + ` WHERE found ORDER BY id`)
	if err != nil {
		return nil, err
	}

	var clusters [][]*Record

	for _, c := range clusterRecords(records, threshold) {
		if len(c) > 1 {
			clusters = append(clusters, c)
		}
	}

	return clusters, nil
}

// normalizeReference trims references so that exports diff cleanly.
func normalizeReference(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
