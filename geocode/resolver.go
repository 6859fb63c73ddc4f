// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

// Package geocode resolves Argentine postal addresses into coordinates.
//
// A Resolver walks a fixed ladder of strategies, from the most precise query
// (street, number and postal code) to a city level fallback, and stops at the
// first match. When every street level query fails, an AI assistant is asked
// to rewrite the address before giving up on street precision.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/sendasf/senda/spatial"
	"github.com/sendasf/senda/utils/httputils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Strategy identifies one rung of the resolution ladder.
type Strategy int

const (
	// StrategyNone is the zero value, used for unresolved addresses.
	StrategyNone Strategy = iota
	// StrategyPostalNumber queries street, number, city, province and postal code.
	StrategyPostalNumber
	// StrategyNumber queries street, number, city and province.
	StrategyNumber
	// StrategyPostalStreet queries street, city, province and postal code.
	StrategyPostalStreet
	// StrategyStreet queries street, city and province.
	StrategyStreet
	// StrategyAssistant queries the address as rewritten by the assistant.
	StrategyAssistant
	// StrategyCity queries city and province only.
	StrategyCity
)

var strategyNames = map[Strategy]string{
	StrategyNone:         "none",
	StrategyPostalNumber: "postal_number",
	StrategyNumber:       "number",
	StrategyPostalStreet: "postal_street",
	StrategyStreet:       "street",
	StrategyAssistant:    "assistant",
	StrategyCity:         "city",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}

	return fmt.Sprintf("Strategy(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	for k, v := range strategyNames {
		if v == string(text) {
			*s = k

			return nil
		}
	}

	return fmt.Errorf("unknown strategy %q", text)
}

// StreetLevel reports whether the strategy locates the street (or better)
// rather than just the city.
func (s Strategy) StreetLevel() bool {
	return s >= StrategyPostalNumber && s <= StrategyAssistant
}

// Outcome classifies the result of a single strategy.
type Outcome int

const (
	// NotFound means the lookup answered without a usable match.
	NotFound Outcome = iota
	// Found means the lookup produced coordinates.
	Found
	// TransportError means the lookup could not be completed.
	TransportError
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case TransportError:
		return "transport_error"
	default:
		return "not_found"
	}
}

// Result is the outcome of one strategy. Point is set for Found, Err for
// TransportError (and, for diagnostics, on some NotFound results).
type Result struct {
	Outcome     Outcome
	Point       spatial.Point
	DisplayName string
	Err         error
}

// Match is a successful resolution.
type Match struct {
	Point       spatial.Point `json:"point"`
	Strategy    Strategy      `json:"strategy"`
	Query       string        `json:"query"`
	DisplayName string        `json:"display_name,omitempty"`
}

// Resolver runs the resolution ladder. It holds no mutable state and is safe
// for concurrent use.
type Resolver struct {
	searcher   Searcher
	normalizer Normalizer
	logger     *zap.Logger
}

// NewResolver creates a Resolver. normalizer may be nil, in which case the
// assistant strategy never produces a query.
func NewResolver(searcher Searcher, normalizer Normalizer, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		searcher:   searcher,
		normalizer: normalizer,
		logger:     logger,
	}
}

// Config holds everything needed to talk to the external services. It is
// never read from the environment by this package.
type Config struct {
	// LookupBaseURL is the Nominatim instance. Defaults to DefaultLookupBaseURL.
	LookupBaseURL string
	// UserAgent identifies the application to the lookup provider. Required.
	UserAgent string
	// AssistantAPIKey enables the assistant strategy when not empty.
	AssistantAPIKey string
	// AssistantEndpoint defaults to DefaultAssistantEndpoint.
	AssistantEndpoint string
	// RequestsPerSecond limits lookup calls; zero disables limiting.
	RequestsPerSecond float64
	// Timeout bounds each HTTP request. Defaults to 10 seconds.
	Timeout time.Duration
	// Trace, when set, receives a dump of every HTTP exchange.
	Trace     io.Writer
	TraceBody bool
}

const defaultTimeout = 10 * time.Second

// New builds a Resolver backed by Nominatim and, when an API key is
// configured, the Gemini assistant.
func New(cfg Config, logger *zap.Logger) (*Resolver, error) {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, errors.New("a user agent is required by the lookup provider")
	}

	if cfg.LookupBaseURL == "" {
		cfg.LookupBaseURL = DefaultLookupBaseURL
	}

	if _, err := url.ParseRequestURI(cfg.LookupBaseURL); err != nil {
		return nil, fmt.Errorf("invalid lookup base url: %w", err)
	}

	if cfg.AssistantEndpoint == "" {
		cfg.AssistantEndpoint = DefaultAssistantEndpoint
	}

	if _, err := url.ParseRequestURI(cfg.AssistantEndpoint); err != nil {
		return nil, fmt.Errorf("invalid assistant endpoint: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := httputils.NewClient(httputils.ClientOptions{
		Headers:   map[string]string{"User-Agent": cfg.UserAgent},
		Trace:     cfg.Trace,
		TraceBody: cfg.TraceBody,
		Timeout:   cfg.Timeout,
	})

	var searcher Searcher = NewNominatimClient(cfg.LookupBaseURL, client)
	if cfg.RequestsPerSecond > 0 {
		searcher = RateLimited(searcher, rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1))
	}

	var normalizer Normalizer
	if cfg.AssistantAPIKey != "" {
		normalizer = NewGeminiNormalizer(cfg.AssistantEndpoint, cfg.AssistantAPIKey, client)
	}

	return NewResolver(searcher, normalizer, logger), nil
}

// Resolve converts an address into coordinates. It returns (nil, nil) when
// every strategy failed; that is an expected outcome the caller must handle.
// Failures of individual lookups are logged and never returned. The only
// error returned is the context's: once it is cancelled, or when its deadline
// leaves no room to wait for the lookup rate limiter (that error wraps
// context.DeadlineExceeded).
func (r *Resolver) Resolve(ctx context.Context, q AddressQuery) (*Match, error) {
	clean := sanitize(q)
	log := r.logger.With(zap.String("address", q.String()))

	for _, s := range clean.deterministic() {
		if m, err := r.attempt(ctx, log, s.strategy, s.query); m != nil || err != nil {
			return m, err
		}
	}

	if m, err := r.assist(ctx, log, q); m != nil || err != nil {
		return m, err
	}

	m, err := r.attempt(ctx, log, StrategyCity, clean.cityQuery())
	if m == nil && err == nil {
		log.Info("address not resolved")
	}

	return m, err
}

// assist asks the normalizer to rewrite the raw address and looks up its
// answer verbatim. Assistant failures only end this strategy.
func (r *Resolver) assist(ctx context.Context, log *zap.Logger, raw AddressQuery) (*Match, error) {
	if r.normalizer == nil {
		log.Debug("assistant not configured, skipping", zap.Stringer("strategy", StrategyAssistant))

		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Debug("street level lookups failed, asking assistant")

	query, err := r.normalizer.Normalize(ctx, raw)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		log.Warn("assistant normalization failed",
			zap.Stringer("strategy", StrategyAssistant),
			zap.Bool("timeout", IsTimeoutError(err)),
			zap.Bool("quota", IsQuotaExceededError(err)),
			zap.Error(err),
		)

		return nil, nil
	}

	query = strings.TrimSpace(query)
	if query == "" {
		log.Warn("assistant returned an empty address", zap.Stringer("strategy", StrategyAssistant))

		return nil, nil
	}

	return r.attempt(ctx, log, StrategyAssistant, query)
}

func (r *Resolver) attempt(ctx context.Context, log *zap.Logger, strategy Strategy, query string) (*Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := r.lookup(ctx, query)

	fields := []zap.Field{
		zap.Stringer("strategy", strategy),
		zap.String("query", query),
		zap.Stringer("outcome", res.Outcome),
	}

	switch res.Outcome {
	case Found:
		log.Debug("geocoding attempt", append(fields, zap.Stringer("point", res.Point))...)

		return &Match{
			Point:       res.Point,
			Strategy:    strategy,
			Query:       query,
			DisplayName: res.DisplayName,
		}, nil
	case TransportError:
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if errors.Is(res.Err, errLimiterDeadline) {
			return nil, res.Err
		}

		log.Warn("geocoding attempt failed",
			append(fields,
				zap.Bool("timeout", IsTimeoutError(res.Err)),
				zap.Bool("rate_limited", IsRateLimitError(res.Err)),
				zap.Error(res.Err),
			)...)
	default:
		if res.Err != nil {
			fields = append(fields, zap.Error(res.Err))
		}

		log.Debug("geocoding attempt", fields...)
	}

	return nil, nil
}

// lookup issues one search and folds the answer into a Result. Non-success
// HTTP statuses and unusable candidates count as NotFound; anything else that
// prevented an answer is a TransportError.
func (r *Resolver) lookup(ctx context.Context, query string) Result {
	candidates, err := r.searcher.Search(ctx, query)
	if err != nil {
		if IsHTTPStatus(err) {
			return Result{Outcome: NotFound, Err: err}
		}

		return Result{Outcome: TransportError, Err: err}
	}

	if len(candidates) == 0 {
		return Result{Outcome: NotFound}
	}

	p, err := candidates[0].Point()
	if err != nil {
		return Result{Outcome: NotFound, Err: err}
	}

	return Result{Outcome: Found, Point: p, DisplayName: candidates[0].DisplayName}
}
