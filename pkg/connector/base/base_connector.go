// Package base provides the BaseConnector that concrete connectors
// embed. It carries the shared pieces: structured logging, resumable
// state, rate limiting and retry with backoff.
package base

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/crmflow/crmflow/pkg/clients"
	"github.com/crmflow/crmflow/pkg/config"
	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/errors"
	"github.com/crmflow/crmflow/pkg/logger"
)

// BaseConnector implements the pieces common to all connectors.
// Embed it and override per-connector behavior.
type BaseConnector struct {
	name          string
	connectorType core.ConnectorType
	version       string
	logger        *zap.Logger

	state      core.State
	stateMutex sync.RWMutex

	rateLimiter clients.RateLimiter
	retryPolicy *RetryPolicy

	closed     bool
	closeMutex sync.Mutex
}

// NewBaseConnector creates a base connector with defaults: no rate
// limiter and the default retry policy.
func NewBaseConnector(name string, connectorType core.ConnectorType, version string) *BaseConnector {
	return &BaseConnector{
		name:          name,
		connectorType: connectorType,
		version:       version,
		state:         make(core.State),
		logger:        logger.Get().With(zap.String("connector", name)),
		retryPolicy:   DefaultRetryPolicy(),
	}
}

// Configure applies the shared settings from a BaseConfig: request
// rate and retry behavior.
func (bc *BaseConnector) Configure(cfg *config.BaseConfig) {
	if cfg.Performance.RequestsPerSecond > 0 {
		bc.rateLimiter = clients.NewTokenBucketRateLimiter(
			float64(cfg.Performance.RequestsPerSecond),
			cfg.Performance.RequestsPerSecond*2,
		)
	}
	bc.retryPolicy = &RetryPolicy{
		MaxAttempts:     cfg.Reliability.MaxRetries,
		InitialDelay:    cfg.Reliability.RetryDelay,
		MaxDelay:        cfg.Reliability.MaxRetryDelay,
		Multiplier:      cfg.Reliability.RetryMultiplier,
		RandomizeFactor: 0.25,
	}
}

// Name returns the connector name.
func (bc *BaseConnector) Name() string {
	return bc.name
}

// Type returns the connector type.
func (bc *BaseConnector) Type() core.ConnectorType {
	return bc.connectorType
}

// Version returns the connector version.
func (bc *BaseConnector) Version() string {
	return bc.version
}

// Logger returns the connector's logger.
func (bc *BaseConnector) Logger() *zap.Logger {
	return bc.logger
}

// GetState returns a copy of the current state.
func (bc *BaseConnector) GetState() core.State {
	bc.stateMutex.RLock()
	defer bc.stateMutex.RUnlock()

	stateCopy := make(core.State, len(bc.state))
	for k, v := range bc.state {
		stateCopy[k] = v
	}
	return stateCopy
}

// SetState replaces the connector state.
func (bc *BaseConnector) SetState(state core.State) error {
	bc.stateMutex.Lock()
	defer bc.stateMutex.Unlock()

	bc.state = state
	bc.logger.Debug("state updated", zap.Any("state", state))
	return nil
}

// UpdateState sets a single state key.
func (bc *BaseConnector) UpdateState(key string, value interface{}) {
	bc.stateMutex.Lock()
	defer bc.stateMutex.Unlock()
	bc.state[key] = value
}

// StateValue reads a single state key.
func (bc *BaseConnector) StateValue(key string) (interface{}, bool) {
	bc.stateMutex.RLock()
	defer bc.stateMutex.RUnlock()
	v, ok := bc.state[key]
	return v, ok
}

// RateLimit blocks until the configured rate allows another request.
// No-op when no rate limiter is configured.
func (bc *BaseConnector) RateLimit(ctx context.Context) error {
	if bc.rateLimiter == nil {
		return nil
	}
	return bc.rateLimiter.Wait(ctx)
}

// ExecuteWithRetry runs fn with exponential backoff, retrying only
// errors classified as retryable.
func (bc *BaseConnector) ExecuteWithRetry(ctx context.Context, fn func() error) error {
	return bc.retryPolicy.ExecuteWithCondition(ctx, fn, errors.IsRetryable)
}

// Closed reports whether Close has completed.
func (bc *BaseConnector) Closed() bool {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()
	return bc.closed
}

// Close marks the connector closed. Safe to call more than once.
func (bc *BaseConnector) Close(ctx context.Context) error {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()

	if bc.closed {
		return nil
	}
	bc.closed = true
	bc.logger.Info("connector closed")
	return nil
}
