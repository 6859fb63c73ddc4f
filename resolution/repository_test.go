// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package resolution

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/sendasf/senda/geocode"
	"github.com/sendasf/senda/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*sql.DB, Repository) {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.CreateSchema())

	return db, repo
}

var (
	comedor = geocode.AddressQuery{
		Street: "Av. Aristóbulo del Valle", Number: "6500", City: "Santa Fe Capital", Province: "Santa Fe",
	}
	parroquia = geocode.AddressQuery{
		Street: "San Martín", Number: "2345", City: "Santa Fe", Province: "Santa Fe", PostalCode: "3000",
	}
	merendero = geocode.AddressQuery{
		Street: "Calle Falsa", Number: "S/N", City: "Rafaela", Province: "Santa Fe",
	}
)

func match(lat, lng float64, s geocode.Strategy, q string) *geocode.Match {
	return &geocode.Match{Point: spatial.Point{Lat: lat, Lng: lng}, Strategy: s, Query: q}
}

func seed(t *testing.T, repo Repository) {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []*Record{
		NewRecord(comedor, "Comedor Los Ñandúes", match(-31.6106, -60.6973, geocode.StrategyNumber, "q1")),
		NewRecord(parroquia, "Parroquia San José", match(-31.6450, -60.7060, geocode.StrategyPostalNumber, "q2")),
		NewRecord(parroquia, "  Parroquia   San José (duplicado) ", match(-31.6451, -60.7061, geocode.StrategyStreet, "q3")),
		NewRecord(merendero, "", nil),
	}

	for i, rec := range records {
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
	}

	require.NoError(t, repo.BulkInsert(records))
}

func TestCreateSchema(t *testing.T) {
	db, repo := setupTestDB(t)

	var tableName string

	err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = 'resolutions'").Scan(&tableName)
	require.NoError(t, err)
	assert.Equal(t, "resolutions", tableName)

	// idempotent
	require.NoError(t, repo.CreateSchema())
}

func TestSaveAndList(t *testing.T) {
	_, repo := setupTestDB(t)

	rec := NewRecord(comedor, "Comedor Los Ñandúes", match(-31.6106, -60.6973, geocode.StrategyNumber,
		"Av. Aristóbulo del Valle 6500, Santa Fe Capital, Santa Fe, Argentina"))
	require.NoError(t, repo.Save(rec))
	assert.NotZero(t, rec.ID)
	assert.NotZero(t, rec.H3Res9)

	missing := NewRecord(merendero, "", nil)
	require.NoError(t, repo.Save(missing))
	assert.Greater(t, missing.ID, rec.ID)

	records, err := repo.List(10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	got := records[1]
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, comedor, got.Address)
	assert.True(t, got.Found)
	assert.Equal(t, geocode.StrategyNumber, got.Strategy)
	require.NotNil(t, got.Point)
	assert.InDelta(t, -31.6106, got.Point.Lat, 1e-9)
	assert.InDelta(t, -60.6973, got.Point.Lng, 1e-9)
	assert.Equal(t, rec.H3Res7, got.H3Res7)

	assert.False(t, records[0].Found)
	assert.Nil(t, records[0].Point)
	assert.Equal(t, geocode.StrategyNone, records[0].Strategy)
	assert.Zero(t, records[0].H3Res9)

	page, err := repo.List(1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, rec.ID, page[0].ID)
}

func TestSaveRejectsFoundWithoutPoint(t *testing.T) {
	_, repo := setupTestDB(t)

	err := repo.Save(&Record{Address: comedor, Found: true, Strategy: geocode.StrategyCity})
	assert.Error(t, err)
}

func TestNewRecordNormalizesReference(t *testing.T) {
	rec := NewRecord(comedor, "  Comedor \t Los   Ñandúes ", nil)
	assert.Equal(t, "Comedor Los Ñandúes", rec.Reference)
	assert.False(t, rec.Found)
}

func TestSearch(t *testing.T) {
	_, repo := setupTestDB(t)
	seed(t, repo)

	got, err := repo.Search("nandues", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, comedor, got[0].Address)

	got, err = repo.Search("SAN MARTIN", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = repo.Search("san martin", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = repo.Search("rosario", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStats(t *testing.T) {
	_, repo := setupTestDB(t)
	seed(t, repo)

	stats, err := repo.Stats()
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Found)
	assert.Equal(t, 1, stats.NotFound)
	assert.Equal(t, map[string]int{"number": 1, "postal_number": 1, "street": 1}, stats.ByStrategy)
}

func TestGetAllSorted(t *testing.T) {
	_, repo := setupTestDB(t)
	seed(t, repo)

	records, err := repo.GetAllSorted()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, "Rafaela", records[0].Address.City)
	assert.Equal(t, "Santa Fe", records[1].Address.City)
	assert.Equal(t, "Santa Fe", records[2].Address.City)
	assert.True(t, records[1].CreatedAt.Before(records[2].CreatedAt))
	assert.Equal(t, "Santa Fe Capital", records[3].Address.City)
}

func TestNearby(t *testing.T) {
	_, repo := setupTestDB(t)
	seed(t, repo)

	center := spatial.Point{Lat: -31.6450, Lng: -60.7060}

	near, err := repo.Nearby(center, 500)
	require.NoError(t, err)
	require.Len(t, near, 2)
	assert.Zero(t, near[0].Distance)
	assert.Greater(t, near[1].Distance, 0.0)

	far, err := repo.Nearby(center, 10000)
	require.NoError(t, err)
	assert.Len(t, far, 3)
}

func TestCellCounts(t *testing.T) {
	_, repo := setupTestDB(t)
	seed(t, repo)

	counts, err := repo.CellCounts(6)
	require.NoError(t, err)
	require.NotEmpty(t, counts)

	total := 0
	for _, c := range counts {
		total += c.Count
		assert.NotEmpty(t, c.Cell)
	}

	assert.Equal(t, 3, total)
	assert.GreaterOrEqual(t, counts[0].Count, counts[len(counts)-1].Count)

	_, err = repo.CellCounts(12)
	assert.Error(t, err)
}

func TestClusters(t *testing.T) {
	_, repo := setupTestDB(t)
	seed(t, repo)

	clusters, err := repo.Clusters(50)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0], 2)
	assert.Equal(t, parroquia, clusters[0][0].Address)
}

func TestClusterRecords(t *testing.T) {
	p := func(lat, lng float64) *spatial.Point { return &spatial.Point{Lat: lat, Lng: lng} }

	records := []*Record{
		{Point: p(-31.6000, -60.7000)},
		{Point: p(-31.6002, -60.7000)}, // ~22m from the first
		{Point: p(-31.6004, -60.7000)}, // ~22m from the second, chained
		{Point: p(-31.7000, -60.7000)},
		{},
	}

	clusters := clusterRecords(records, 30)
	require.Len(t, clusters, 2)
	assert.Len(t, clusters[0], 3)
	assert.Len(t, clusters[1], 1)
}

func TestClusterRecordsChainOutOfOrder(t *testing.T) {
	p := func(lng float64) *spatial.Point { return &spatial.Point{Lat: -31.6, Lng: lng} }

	// b only reaches a through c, which comes after it (~38m per hop, ~76m a-b).
	a := &Record{Reference: "a", Point: p(-60.7000)}
	b := &Record{Reference: "b", Point: p(-60.6992)}
	c := &Record{Reference: "c", Point: p(-60.6996)}

	for _, order := range [][]*Record{{a, b, c}, {b, a, c}, {c, b, a}, {b, c, a}} {
		clusters := clusterRecords(order, 50)
		require.Len(t, clusters, 1)
		assert.Equal(t, order, clusters[0])
	}

	clusters := clusterRecords([]*Record{a, b, c}, 30)
	assert.Len(t, clusters, 3)
}

func TestClustersChainOutOfOrder(t *testing.T) {
	_, repo := setupTestDB(t)

	q := geocode.AddressQuery{Street: "Bv. Gálvez", City: "Santa Fe", Province: "Santa Fe"}

	require.NoError(t, repo.BulkInsert([]*Record{
		NewRecord(q, "a", match(-31.6, -60.7000, geocode.StrategyStreet, "q")),
		NewRecord(q, "b", match(-31.6, -60.6992, geocode.StrategyStreet, "q")),
		NewRecord(q, "c", match(-31.6, -60.6996, geocode.StrategyStreet, "q")),
	}))

	clusters, err := repo.Clusters(50)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0], 3)
}
