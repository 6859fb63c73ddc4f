// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultAssistantEndpoint is the generateContent endpoint of the model used
// to rewrite malformed addresses.
const DefaultAssistantEndpoint = "https://generativelanguage.googleapis.com/v1/models/gemini-1.5-flash:generateContent"

const maxAssistantResponse = 1 << 20

const normalizePrompt = `Interpret this address and return a standardized, searchable address string for OpenStreetMap/Nominatim in Argentina.
Input: Calle %q, Altura %q, Ciudad %q, Provincia %q, CP %q.
The address might contain typos, descriptive landmarks or local names for streets.
Return ONLY the standardized address string, for example: "Avenida Alem 1234, Santa Fe, Argentina".
Do not use markdown and do not add any commentary.`

// Normalizer is the text-normalization assistant: it rewrites a malformed
// address into a single string the lookup service is more likely to match.
type Normalizer interface {
	Normalize(ctx context.Context, q AddressQuery) (string, error)
}

// GeminiNormalizer asks a Gemini model to standardize an address.
type GeminiNormalizer struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewGeminiNormalizer creates a normalizer posting to endpoint with apiKey.
func NewGeminiNormalizer(endpoint, apiKey string, httpClient *http.Client) *GeminiNormalizer {
	if endpoint == "" {
		endpoint = DefaultAssistantEndpoint
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &GeminiNormalizer{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

func buildNormalizePrompt(q AddressQuery) string {
	postalCode := q.PostalCode
	if strings.TrimSpace(postalCode) == "" {
		postalCode = "N/A"
	}

	return fmt.Sprintf(normalizePrompt, q.Street, q.Number, q.City, q.Province, postalCode)
}

// Normalize implements Normalizer. The reply is read from
// candidates[0].content.parts[0].text; any other shape is ErrNoCandidate.
func (g *GeminiNormalizer) Normalize(ctx context.Context, q AddressQuery) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: buildNormalizePrompt(q)}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encoding assistant request: %w", err)
	}

	u, err := url.Parse(g.endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing assistant endpoint: %w", err)
	}

	params := u.Query()
	params.Set("key", g.apiKey)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building assistant request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError("assistant", err)
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssistantResponse))
	if err != nil {
		return "", fmt.Errorf("reading assistant response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", ClassifyHTTPError(resp.StatusCode, gjson.GetBytes(data, "error.message").String())
	}

	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("%w: malformed JSON", ErrNoCandidate)
	}

	text := gjson.GetBytes(data, "candidates.0.content.parts.0.text")
	if !text.Exists() {
		return "", ErrNoCandidate
	}

	cleaned := stripCodeFences(text.String())
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty reply", ErrNoCandidate)
	}

	return cleaned, nil
}

// stripCodeFences removes a Markdown code fence wrapping the reply, with or
// without a language tag, and any surrounding quotes.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")

		// The opening line may carry a language tag.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}

		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	return strings.Trim(strings.TrimSpace(s), "\"'`")
}
