package clients

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int32

const (
	// StateClosed allows all requests.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests until the recovery timeout.
	StateOpen
	// StateHalfOpen allows a limited number of probe requests.
	StateHalfOpen
)

// CircuitBreaker protects an upstream API from hammering while it is
// failing. It trips open after consecutive failures or a high failure
// rate over a sliding window.
type CircuitBreaker struct {
	config *HTTPConfig
	logger *zap.Logger

	state           int32
	lastStateChange time.Time
	nextRetryTime   time.Time

	consecutiveFailures  int32
	consecutiveSuccesses int32

	window          *slidingWindow
	halfOpenLimit   int32
	halfOpenCounter int32

	mu sync.RWMutex
}

// NewCircuitBreaker creates a breaker in the closed state, tracking
// failures over a one-minute sliding window.
func NewCircuitBreaker(config *HTTPConfig, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		config:          config,
		logger:          logger.With(zap.String("component", "circuit_breaker")),
		state:           int32(StateClosed),
		lastStateChange: time.Now(),
		halfOpenLimit:   5,
		window:          newSlidingWindow(10*time.Second, 60*time.Second),
	}
}

// Execute runs fn under breaker protection, recording the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return fmt.Errorf("circuit breaker is open")
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		return true

	case StateOpen:
		cb.mu.RLock()
		shouldRetry := time.Now().After(cb.nextRetryTime)
		cb.mu.RUnlock()

		if shouldRetry {
			cb.transitionToHalfOpen()
			return cb.allowHalfOpen()
		}
		return false

	case StateHalfOpen:
		return cb.allowHalfOpen()

	default:
		return false
	}
}

// RecordSuccess records a successful request. Enough successes in
// half-open state close the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.window.record(true)

	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)

	case StateHalfOpen:
		if atomic.AddInt32(&cb.consecutiveSuccesses, 1) >= int32(cb.config.SuccessThreshold) {
			cb.transitionToClosed()
		}
	}
}

// RecordFailure records a failed request. In half-open state any
// failure reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.window.record(false)

	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		failures := atomic.AddInt32(&cb.consecutiveFailures, 1)
		if failures >= int32(cb.config.FailureThreshold) || cb.window.failureRate() > 0.5 {
			cb.transitionToOpen()
		}

	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

func (cb *CircuitBreaker) allowHalfOpen() bool {
	if atomic.LoadInt32(&cb.halfOpenCounter) >= cb.halfOpenLimit {
		return false
	}
	atomic.AddInt32(&cb.halfOpenCounter, 1)
	return true
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateOpen)) {
		atomic.CompareAndSwapInt32(&cb.state, int32(StateClosed), int32(StateOpen))
	}

	cb.lastStateChange = time.Now()
	cb.nextRetryTime = time.Now().Add(cb.config.RecoveryTimeout)
	atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt32(&cb.halfOpenCounter, 0)

	cb.logger.Warn("circuit breaker opened",
		zap.Time("retry_after", cb.nextRetryTime),
		zap.Int32("consecutive_failures", atomic.LoadInt32(&cb.consecutiveFailures)))
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)

		cb.logger.Info("circuit breaker half-open")
	}
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateClosed)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)

		cb.logger.Info("circuit breaker closed")
	}
}

// State returns the current state as a string with counters.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	stateStr := "unknown"
	switch CircuitState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		stateStr = "closed"
	case StateOpen:
		stateStr = "open"
	case StateHalfOpen:
		stateStr = "half_open"
	}

	total, failed, rate := cb.window.stats()
	return CircuitBreakerState{
		State:               stateStr,
		LastStateChange:     cb.lastStateChange,
		ConsecutiveFailures: atomic.LoadInt32(&cb.consecutiveFailures),
		TotalRequests:       total,
		FailedRequests:      failed,
		FailureRate:         rate,
		NextRetryTime:       cb.nextRetryTime,
	}
}

// CircuitBreakerState is a snapshot of breaker state and counters.
type CircuitBreakerState struct {
	State               string    `json:"state"`
	LastStateChange     time.Time `json:"last_state_change"`
	ConsecutiveFailures int32     `json:"consecutive_failures"`
	TotalRequests       int64     `json:"total_requests"`
	FailedRequests      int64     `json:"failed_requests"`
	FailureRate         float64   `json:"failure_rate"`
	NextRetryTime       time.Time `json:"next_retry_time,omitempty"`
}

// slidingWindow tracks request outcomes in fixed-size time buckets.
type slidingWindow struct {
	buckets        []int64
	failureBuckets []int64
	bucketSize     time.Duration
	currentBucket  int
	lastUpdate     time.Time
	mu             sync.Mutex
}

func newSlidingWindow(bucketSize, windowSize time.Duration) *slidingWindow {
	numBuckets := int(windowSize / bucketSize)
	return &slidingWindow{
		buckets:        make([]int64, numBuckets),
		failureBuckets: make([]int64, numBuckets),
		bucketSize:     bucketSize,
		lastUpdate:     time.Now(),
	}
}

func (sw *slidingWindow) record(success bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()
	sw.buckets[sw.currentBucket]++
	if !success {
		sw.failureBuckets[sw.currentBucket]++
	}
}

// advance rotates expired buckets. Caller holds sw.mu.
func (sw *slidingWindow) advance() {
	now := time.Now()
	elapsed := now.Sub(sw.lastUpdate)
	if elapsed < sw.bucketSize {
		return
	}

	steps := int(elapsed / sw.bucketSize)
	if steps > len(sw.buckets) {
		steps = len(sw.buckets)
	}
	for i := 0; i < steps; i++ {
		sw.currentBucket = (sw.currentBucket + 1) % len(sw.buckets)
		sw.buckets[sw.currentBucket] = 0
		sw.failureBuckets[sw.currentBucket] = 0
	}
	sw.lastUpdate = now
}

func (sw *slidingWindow) failureRate() float64 {
	_, _, rate := sw.stats()
	return rate
}

func (sw *slidingWindow) stats() (total, failed int64, rate float64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	for i := range sw.buckets {
		total += sw.buckets[i]
		failed += sw.failureBuckets[i]
	}
	if total > 0 {
		rate = float64(failed) / float64(total)
	}
	return total, failed, rate
}
