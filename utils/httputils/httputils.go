// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

// Package httputils provides utility functions for working with HTTP.
package httputils

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"
)

/////////////////////////////////////////
/// RoundTrippers

// LoggingRoundTripper adds a very primitive logging to a http transaction.
type LoggingRoundTripper struct {
	Transport http.RoundTripper
	Writer    io.Writer
	DumpBody  bool
}

// reduce the content of the lines.
func abbreviate(lines []string, prefix rune) []string {
	const maxLines, maxChars = 2048, 512

	for i, line := range lines {
		if i >= maxLines {
			break
		}

		lines[i] = fmt.Sprintf("%c %s", prefix, line)
	}

	if len(lines) > maxLines {
		lines = lines[:maxLines]
		lines = append(lines, "…")
	}

	for i, line := range lines {
		if len(line) > maxChars {
			lines[i] = line[0:maxChars] + "…"
		}
	}

	return lines
}

// redactKey hides the API key the assistant endpoint carries in its query string.
func redactKey(lines []string) []string {
	for i, line := range lines {
		if idx := strings.Index(line, "key="); idx >= 0 {
			end := strings.IndexAny(line[idx:], "& ")
			if end < 0 {
				lines[i] = line[:idx] + "key=REDACTED"
			} else {
				lines[i] = line[:idx] + "key=REDACTED" + line[idx+end:]
			}
		}
	}

	return lines
}

func (t *LoggingRoundTripper) dumpRequest(req *http.Request) error {
	dump, err := httputil.DumpRequestOut(req, t.DumpBody)
	if err != nil {
		return fmt.Errorf("tracing HTTP request: %w", err)
	}

	lines := redactKey(abbreviate(strings.Split(string(dump), "\n"), '>'))
	lines = append(lines, "")
	_, err = fmt.Fprint(t.Writer, strings.Join(lines, "\n"))

	return err
}

func (t *LoggingRoundTripper) dumpResponse(resp *http.Response, duration time.Duration) error {
	dump, err := httputil.DumpResponse(resp, t.DumpBody)
	if err != nil {
		return fmt.Errorf("tracing HTTP response: %w", err)
	}

	lines := abbreviate(strings.Split(string(dump), "\n"), '<')

	_, err = fmt.Fprintf(t.Writer, "< RESPONSE: [%v]\n", duration)
	if err != nil {
		return fmt.Errorf("tracing HTTP response: %w", err)
	}

	lines = append(lines, "")
	_, err = fmt.Fprint(t.Writer, strings.Join(lines, "\n"))

	return err
}

// RoundTrip implements the http.RoundTripper interface.
func (t *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Writer == nil {
		return t.Transport.RoundTrip(req)
	}

	if err := t.dumpRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		fmt.Fprintf(t.Writer, "< ERROR: [%v] %v\n", time.Since(start), err)

		return nil, err
	}

	if err := t.dumpResponse(resp, time.Since(start)); err != nil {
		return nil, err
	}

	return resp, nil
}

// AppendRequestHeadersRoundTripper adds headers to the request.
type AppendRequestHeadersRoundTripper struct {
	Transport http.RoundTripper
	Headers   map[string]string
}

// RoundTrip implements the http.RoundTripper interface.
func (t *AppendRequestHeadersRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	return t.Transport.RoundTrip(req)
}

////////////////////////////////////////////////////

// ClientOptions configures NewClient.
type ClientOptions struct {
	// Transport is the innermost round tripper. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Headers are set on every outgoing request.
	Headers map[string]string
	// Trace, when set, receives a dump of every request and response.
	Trace     io.Writer
	TraceBody bool
	Timeout   time.Duration
}

// NewClient builds an http.Client that sets the given headers and optionally
// traces the exchange.
func NewClient(opts ClientOptions) *http.Client {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	if opts.Trace != nil {
		transport = &LoggingRoundTripper{
			Transport: transport,
			Writer:    opts.Trace,
			DumpBody:  opts.TraceBody,
		}
	}

	if len(opts.Headers) > 0 {
		transport = &AppendRequestHeadersRoundTripper{
			Transport: transport,
			Headers:   opts.Headers,
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
}
