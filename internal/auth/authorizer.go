// Package auth gates every mutating engine entry point on an operator identity
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"

	"golang.org/x/time/rate"
)

// DefaultRateLimitPerKey is the default number of requests per second allowed per operator key
const DefaultRateLimitPerKey = 20

// Authorizer validates operator identities and rate limits them
type Authorizer struct {
	keys          []string
	limiters      map[string]*rate.Limiter
	rateLimit     int
	logger        core.ILogger
	failureLogger core.ILogger
	mu            sync.RWMutex
}

// NewAuthorizer creates an authorizer for the given operator keys
func NewAuthorizer(keys []string, rateLimit int, logger core.ILogger) *Authorizer {
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimitPerKey
	}
	a := &Authorizer{
		limiters:      make(map[string]*rate.Limiter),
		rateLimit:     rateLimit,
		logger:        logger.WithField("component", "auth"),
		failureLogger: logger.WithField("component", "auth_failure"),
	}
	for _, k := range keys {
		if k != "" {
			a.keys = append(a.keys, k)
		}
	}
	return a
}

// Authorize returns nil when caller is a configured operator.
// Comparison is constant time across every key.
func (a *Authorizer) Authorize(caller string) error {
	if !a.valid(caller) {
		a.failureLogger.Warn("Unauthorized caller rejected")
		return fmt.Errorf("caller not an operator: %w", apperrors.ErrUnauthorized)
	}
	return nil
}

func (a *Authorizer) valid(caller string) bool {
	if caller == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	match := 0
	for _, k := range a.keys {
		match |= subtle.ConstantTimeCompare([]byte(caller), []byte(k))
	}
	return match == 1
}

// AddKey adds an operator key (for key rotation)
func (a *Authorizer) AddKey(key string) {
	if key == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	a.logger.Info("Operator key added")
}

// RemoveKey removes an operator key (for key rotation)
func (a *Authorizer) RemoveKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.keys[:0]
	for _, k := range a.keys {
		if k != key {
			kept = append(kept, k)
		}
	}
	a.keys = kept
	delete(a.limiters, key)
	a.logger.Info("Operator key removed")
}

// Allow reports whether key is within its request budget
func (a *Authorizer) Allow(key string) bool {
	a.mu.Lock()
	limiter, ok := a.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(a.rateLimit), a.rateLimit)
		a.limiters[key] = limiter
	}
	a.mu.Unlock()
	return limiter.Allow()
}

type callerKey struct{}

// WithCaller stores the authenticated caller on the context
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller stored by WithCaller
func CallerFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(callerKey{}).(string); ok {
		return c
	}
	return ""
}
