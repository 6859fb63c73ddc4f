// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func geminiServer(t *testing.T, status int, body string, capture *[]byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		if capture != nil {
			*capture, _ = io.ReadAll(r.Body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func geminiReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})

	return string(b)
}

var malformedAddress = AddressQuery{
	Street:   "bv galvez frente a la plaza",
	Number:   "s/n",
	City:     "santa fe",
	Province: "SF",
}

func TestGeminiNormalize(t *testing.T) {
	var body []byte

	srv := geminiServer(t, http.StatusOK, geminiReply("Bulevar Gálvez 1150, Santa Fe, Argentina\n"), &body)

	got, err := NewGeminiNormalizer(srv.URL+"/v1/models/gemini-1.5-flash:generateContent", "test-key", srv.Client()).
		Normalize(context.Background(), malformedAddress)
	require.NoError(t, err)
	assert.Equal(t, "Bulevar Gálvez 1150, Santa Fe, Argentina", got)

	prompt := gjson.GetBytes(body, "contents.0.parts.0.text").String()
	assert.Contains(t, prompt, `Calle "bv galvez frente a la plaza"`)
	assert.Contains(t, prompt, `Altura "s/n"`)
	assert.Contains(t, prompt, `CP "N/A"`)
	assert.Contains(t, prompt, "Nominatim")
}

func TestGeminiNormalizeFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"no candidates", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`},
		{"candidate without content", http.StatusOK, `{"candidates":[{"finishReason":"SAFETY"}]}`},
		{"empty candidates", http.StatusOK, `{"candidates":[]}`},
		{"empty text", http.StatusOK, geminiReply("  ")},
		{"malformed json", http.StatusOK, `{"candidates":`},
		{"quota", http.StatusTooManyRequests, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`},
		{"bad key", http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := geminiServer(t, tt.status, tt.body, nil)

			got, err := NewGeminiNormalizer(srv.URL, "test-key", srv.Client()).
				Normalize(context.Background(), malformedAddress)
			require.Error(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Avenida Alem 1234, Santa Fe, Argentina", "Avenida Alem 1234, Santa Fe, Argentina"},
		{"```\nAvenida Alem 1234, Santa Fe, Argentina\n```", "Avenida Alem 1234, Santa Fe, Argentina"},
		{"```text\nAvenida Alem 1234, Santa Fe, Argentina\n```\n", "Avenida Alem 1234, Santa Fe, Argentina"},
		{"```Avenida Alem 1234```", "Avenida Alem 1234"},
		{`"Avenida Alem 1234, Santa Fe"`, "Avenida Alem 1234, Santa Fe"},
		{"`Avenida Alem 1234`", "Avenida Alem 1234"},
		{"```\n```", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFences(tt.input))
		})
	}
}

func TestResolverUsesAssistantEndpoint(t *testing.T) {
	var lookups []string

	lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		lookups = append(lookups, q)

		if q == "Bulevar Gálvez 1150, Santa Fe, Argentina" {
			_, _ = w.Write([]byte(`[{"lat":"-31.6350","lon":"-60.6950"}]`))

			return
		}

		_, _ = w.Write([]byte(`[]`))
	}))
	defer lookup.Close()

	assistant := geminiServer(t, http.StatusOK, geminiReply("```\nBulevar Gálvez 1150, Santa Fe, Argentina\n```"), nil)

	r, err := New(Config{
		LookupBaseURL:     lookup.URL,
		UserAgent:         "senda-test",
		AssistantAPIKey:   "test-key",
		AssistantEndpoint: assistant.URL + "/v1/models/gemini-1.5-flash:generateContent",
	}, nil)
	require.NoError(t, err)

	m, err := r.Resolve(context.Background(), AddressQuery{
		Street: "bv galvez", Number: "1150", City: "santa fe", Province: "santa fe",
	})
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, StrategyAssistant, m.Strategy)
	assert.Len(t, lookups, 3)
}
