// Copyright 2026 The Senda Authors
// SPDX-License-Identifier: Apache-2.0

package geocode

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// errLimiterDeadline reports that waiting for the limiter would outlive the
// caller's deadline. It wraps context.DeadlineExceeded.
var errLimiterDeadline = errors.New("lookup rate limiter wait exceeds context deadline")

type rateLimitedSearcher struct {
	next    Searcher
	limiter *rate.Limiter
}

// RateLimited wraps a Searcher so that every call first waits on limiter.
// Share one limiter across all resolvers talking to the same provider.
func RateLimited(next Searcher, limiter *rate.Limiter) Searcher {
	return &rateLimitedSearcher{next: next, limiter: limiter}
}

func (s *rateLimitedSearcher) Search(ctx context.Context, query string) ([]Candidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		// Wait fails early when the delay would pass the deadline.
		return nil, fmt.Errorf("%w: %w", errLimiterDeadline, context.DeadlineExceeded)
	}

	return s.next.Search(ctx, query)
}
