package client

import (
	"context"
	"net/http"

	"github.com/panyam/shopauth"
)

// RequestContext describes one outbound call. BeforeRetry hooks may change Bearer
// for the next attempt.
type RequestContext struct {
	Method string
	URL    string

	// Exempt is set for calls to the token endpoint
	Exempt bool

	// PolicyExempt calls skip the 401/403 session expiry policy
	PolicyExempt bool

	// Bearer overrides the token selected from the credential store
	Bearer *shopauth.BearerToken

	Attempt int
}

// RetryPolicy is a finite retry plan for a single call
type RetryPolicy struct {
	MaxAttempts int

	// ShouldRetry decides, after attempt finished with res, whether to try again
	ShouldRetry func(attempt int, res *shopauth.Result) bool

	// BeforeRetry runs before each retry
	BeforeRetry func(ctx context.Context, rc *RequestContext)
}

// NoRetry sends a call exactly once
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) shouldRetry(attempt int, res *shopauth.Result) bool {
	if attempt >= p.maxAttempts() || p.ShouldRetry == nil {
		return false
	}
	return p.ShouldRetry(attempt, res)
}

// LoginRetryPolicy retries a login or registration call once when the first
// attempt is rejected with 401, after minting a fresh client token
func LoginRetryPolicy(tokens *TokenManager) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		ShouldRetry: func(attempt int, res *shopauth.Result) bool {
			return attempt == 1 && res != nil && res.Status == http.StatusUnauthorized
		},
		BeforeRetry: func(ctx context.Context, rc *RequestContext) {
			if tok := tokens.Refresh(ctx); tok != nil {
				rc.Bearer = tok
			}
		},
	}
}
