// Copyright 2026 The Senda Authors
//
// SPDX-License-Identifier: Apache-2.0

// Package spatial holds the geographic value types shared by the geocoder,
// the resolution ledger and the HTTP API.
package spatial

import (
	"fmt"
	"math"

	"github.com/uber/h3-go/v4"
)

const earthRadius = 6371e3 // meters

// Point represents a geographical point with latitude and longitude.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String returns a string representation of the Point.
func (p Point) String() string {
	return fmt.Sprintf("POINT(%f %f)", p.Lng, p.Lat)
}

// Valid reports whether the point lies within WGS84 bounds. The null island
// (0, 0) is rejected since providers use it as an "unknown" marker.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}

	if p.Lat == 0 && p.Lng == 0 {
		return false
	}

	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// HaversineDistance calculates the distance between two points on Earth in meters.
func (p *Point) HaversineDistance(other *Point) float64 {
	lat1 := p.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - p.Lat) * math.Pi / 180
	dLng := (other.Lng - p.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// BoundingBox returns the south-west and north-east corners of a box that
// contains every point within radius meters of p.
func (p Point) BoundingBox(radius float64) (Point, Point) {
	dLat := radius / earthRadius * 180 / math.Pi

	cos := math.Cos(p.Lat * math.Pi / 180)
	if cos < 1e-6 {
		cos = 1e-6
	}

	dLng := dLat / cos

	return Point{Lat: p.Lat - dLat, Lng: p.Lng - dLng},
		Point{Lat: p.Lat + dLat, Lng: p.Lng + dLng}
}

// Cell returns the H3 index of the point at the given resolution.
func (p Point) Cell(res int) (int64, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lng), res)
	if err != nil {
		return 0, fmt.Errorf("converting to h3 cell at res %d: %w", res, err)
	}

	return int64(cell), nil
}
