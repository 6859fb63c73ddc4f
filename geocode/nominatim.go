// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sendasf/senda/spatial"
)

// DefaultLookupBaseURL is the public OpenStreetMap Nominatim instance.
const DefaultLookupBaseURL = "https://nominatim.openstreetmap.org"

// Candidate is one match returned by the lookup service. Coordinates are kept
// as the decimal strings the provider sends.
type Candidate struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Point parses the candidate coordinates.
func (c Candidate) Point() (spatial.Point, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(c.Lat), 64)
	if err != nil {
		return spatial.Point{}, fmt.Errorf("%w: lat %q", ErrInvalidCoordinates, c.Lat)
	}

	lng, err := strconv.ParseFloat(strings.TrimSpace(c.Lon), 64)
	if err != nil {
		return spatial.Point{}, fmt.Errorf("%w: lon %q", ErrInvalidCoordinates, c.Lon)
	}

	p := spatial.Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return spatial.Point{}, fmt.Errorf("%w: %v", ErrInvalidCoordinates, p)
	}

	return p, nil
}

// Searcher is the lookup service: it maps a free text query to candidate
// matches. An empty slice with a nil error means "no match".
type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// NominatimClient queries the Nominatim search endpoint. The provider's usage
// policy requires an identifying User-Agent, which the caller configures on
// the http.Client (see httputils.NewClient).
type NominatimClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewNominatimClient creates a new Nominatim lookup client.
func NewNominatimClient(baseURL string, httpClient *http.Client) *NominatimClient {
	if baseURL == "" {
		baseURL = DefaultLookupBaseURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &NominatimClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Search implements Searcher. Only the best match is requested.
func (c *NominatimClient) Search(ctx context.Context, query string) ([]Candidate, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", query)
	params.Set("limit", "1")

	reqURL := c.baseURL + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building nominatim request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError("nominatim", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return nil, ClassifyHTTPError(resp.StatusCode, string(body))
	}

	var candidates []Candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("decoding nominatim response: %w", err)
	}

	return candidates, nil
}
