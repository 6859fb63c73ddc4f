// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the address resolution engine and its ledger over HTTP.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sendasf/senda/geocode"
	"github.com/sendasf/senda/resolution"
	"github.com/sendasf/senda/spatial"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit    = 50
	defaultNearbyRadius    = 1000.0
	defaultClusterDistance = 50.0
	defaultCellRes         = 8
)

// NotFoundWarning is returned when every strategy failed. Clients may still
// place the point manually.
const NotFoundWarning = "No pudimos ubicar la dirección automáticamente. Podés marcar la ubicación en el mapa."

// Resolver is the subset of *geocode.Resolver the server needs.
type Resolver interface {
	Resolve(ctx context.Context, q geocode.AddressQuery) (*geocode.Match, error)
}

type Server struct {
	resolver Resolver
	repo     resolution.Repository
	logger   *zap.Logger
}

func NewServer(resolver Resolver, repo resolution.Repository, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		resolver: resolver,
		repo:     repo,
		logger:   logger,
	}
}

// Handler returns the router with every API route registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.Default()
	s.routes(r)

	return r
}

func (s *Server) Run(addr string) error {
	return s.Handler().Run(addr)
}

func (s *Server) routes(r gin.IRouter) {
	api := r.Group("/api/geocode")
	api.POST("", s.geocode)
	api.GET("/history", s.history)
	api.GET("/progress", s.progress)
	api.GET("/nearby", s.nearby)
	api.GET("/cells", s.cells)
	api.GET("/clusters", s.clusters)
}

type GeocodeRequest struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
	Reference  string `json:"reference"`
}

type GeocodeResponse struct {
	Found       bool           `json:"found"`
	Point       *spatial.Point `json:"point,omitempty"`
	Strategy    string         `json:"strategy,omitempty"`
	Query       string         `json:"query,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Warning     string         `json:"warning,omitempty"`
}

func (s *Server) geocode(ctx *gin.Context) {
	var req GeocodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	if strings.TrimSpace(req.City) == "" || strings.TrimSpace(req.Province) == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "city and province are required"})

		return
	}

	q := geocode.AddressQuery{
		Street:     req.Street,
		Number:     req.Number,
		City:       req.City,
		Province:   req.Province,
		PostalCode: req.PostalCode,
	}

	m, err := s.resolver.Resolve(ctx.Request.Context(), q)
	if err != nil {
		s.logger.Warn("resolve aborted", zap.Stringer("address", q), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if s.repo != nil {
		if err := s.repo.Save(resolution.NewRecord(q, req.Reference, m)); err != nil {
			s.logger.Error("saving resolution", zap.Stringer("address", q), zap.Error(err))
		}
	}

	if m == nil {
		ctx.JSON(http.StatusOK, GeocodeResponse{Found: false, Warning: NotFoundWarning})

		return
	}

	p := m.Point
	ctx.JSON(http.StatusOK, GeocodeResponse{
		Found:       true,
		Point:       &p,
		Strategy:    m.Strategy.String(),
		Query:       m.Query,
		DisplayName: m.DisplayName,
	})
}

func intQuery(ctx *gin.Context, name string, def int) (int, bool) {
	v := ctx.Query(name)
	if v == "" {
		return def, true
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})

		return 0, false
	}

	return n, true
}

func floatQuery(ctx *gin.Context, name string, def float64, required bool) (float64, bool) {
	v := ctx.Query(name)
	if v == "" {
		if required {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": name + " query parameter is required"})

			return 0, false
		}

		return def, true
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})

		return 0, false
	}

	return f, true
}

func (s *Server) history(ctx *gin.Context) {
	limit, ok := intQuery(ctx, "limit", defaultHistoryLimit)
	if !ok {
		return
	}

	offset, ok := intQuery(ctx, "offset", 0)
	if !ok {
		return
	}

	var (
		records []*resolution.Record
		err     error
	)

	if q := strings.TrimSpace(ctx.Query("q")); q != "" {
		records, err = s.repo.Search(q, limit)
	} else {
		records, err = s.repo.List(limit, offset)
	}

	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if records == nil {
		records = []*resolution.Record{}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"records": records,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Server) progress(ctx *gin.Context) {
	stats, err := s.repo.Stats()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, stats)
}

func (s *Server) nearby(ctx *gin.Context) {
	lat, ok := floatQuery(ctx, "lat", 0, true)
	if !ok {
		return
	}

	lng, ok := floatQuery(ctx, "lng", 0, true)
	if !ok {
		return
	}

	radius, ok := floatQuery(ctx, "radius", defaultNearbyRadius, false)
	if !ok {
		return
	}

	p := spatial.Point{Lat: lat, Lng: lng}
	if !p.Valid() || radius <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid point or radius"})

		return
	}

	result, err := s.repo.Nearby(p, radius)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if result == nil {
		result = []*resolution.Nearby{}
	}

	ctx.JSON(http.StatusOK, result)
}

func (s *Server) cells(ctx *gin.Context) {
	res, ok := intQuery(ctx, "res", defaultCellRes)
	if !ok {
		return
	}

	if res < resolution.MinCellRes || res > resolution.MaxCellRes {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "res must be between 6 and 9"})

		return
	}

	counts, err := s.repo.CellCounts(res)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if counts == nil {
		counts = []*resolution.CellCount{}
	}

	ctx.JSON(http.StatusOK, counts)
}

func (s *Server) clusters(ctx *gin.Context) {
	threshold, ok := floatQuery(ctx, "threshold", defaultClusterDistance, false)
	if !ok {
		return
	}

	if threshold <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be positive"})

		return
	}

	clusters, err := s.repo.Clusters(threshold)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if clusters == nil {
		clusters = [][]*resolution.Record{}
	}

	ctx.JSON(http.StatusOK, clusters)
}
