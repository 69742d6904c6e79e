package identity

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"bookchat/pkg/types"
)

// API is the slice of the REST client the resolver needs.
type API interface {
	CurrentIdentity(ctx context.Context) (*types.Identity, error)
}

// Resolver looks up the locally authenticated participant's identity and
// caches the answer. Resolution fails soft: a failed lookup leaves the
// resolver unresolved, and the next call retries against the endpoint.
// A connection must not start until resolution has succeeded, since
// without a local identity no message can be tagged as mine.
type Resolver struct {
	api    API
	logger *zap.Logger

	mu       sync.RWMutex
	identity *types.Identity
}

// NewResolver creates a resolver backed by the identity endpoint.
func NewResolver(api API, logger *zap.Logger) *Resolver {
	return &Resolver{api: api, logger: logger}
}

// Resolve returns the cached identity, resolving it on first use. On
// failure the error is returned and the resolver stays unresolved.
func (r *Resolver) Resolve(ctx context.Context) (*types.Identity, error) {
	r.mu.RLock()
	if r.identity != nil {
		identity := r.identity
		r.mu.RUnlock()
		return identity, nil
	}
	r.mu.RUnlock()

	identity, err := r.api.CurrentIdentity(ctx)
	if err != nil {
		r.logger.Warn("identity resolution failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnresolved, err)
	}

	r.mu.Lock()
	r.identity = identity
	r.mu.Unlock()

	r.logger.Info("identity resolved",
		zap.Int64("user_id", identity.ID),
		zap.String("nickname", identity.Nickname))
	return identity, nil
}

// Current returns the cached identity without touching the endpoint, or
// nil if resolution has not succeeded yet.
func (r *Resolver) Current() *types.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identity
}
