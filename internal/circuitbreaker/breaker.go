package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// Counts holds the statistics of the current generation
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker guards calls to one downstream dependency.
type Breaker struct {
	name    string
	service string
	config  Config
	logger  *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
}

// New creates a closed breaker. service groups breakers in metrics.
func New(name, service string, config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{name: name, service: service, config: config, logger: logger}
	b.resetGeneration(time.Now())
	stateGauge.WithLabelValues(name, service).Set(float64(StateClosed))
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the breaker rejects the call. Errors matched by
// config.IsSuccessful are passed through without counting as failures. An
// error returned after ctx is done is the caller giving up and is not
// counted either way.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen, err := b.admit()
	if err != nil {
		requestsTotal.WithLabelValues(b.name, b.service, b.State().String(), "rejected").Inc()
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(gen, false)
			panic(r)
		}
	}()

	err = fn()
	if err != nil && ctx.Err() != nil {
		b.release(gen)
		return err
	}
	ok := err == nil || (b.config.IsSuccessful != nil && b.config.IsSuccessful(err))
	b.record(gen, ok)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.current(time.Now())
	return state
}

// Counts returns a snapshot of the current generation.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, gen := b.current(time.Now())
	switch {
	case state == StateOpen:
		return gen, ErrCircuitBreakerOpen
	case state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests:
		return gen, ErrTooManyRequests
	}
	b.counts.Requests++
	return gen, nil
}

func (b *Breaker) record(gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, current := b.current(now)
	result := "success"
	if !ok {
		result = "failure"
	}
	requestsTotal.WithLabelValues(b.name, b.service, state.String(), result).Inc()
	// Results from an older generation no longer describe the dependency.
	if current != gen {
		return
	}

	if ok {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.config.SuccessThreshold {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	if state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
		b.transition(StateOpen, now)
	}
}

// release hands back the admission slot of a call whose caller went away.
func (b *Breaker) release(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, current := b.current(time.Now())
	requestsTotal.WithLabelValues(b.name, b.service, state.String(), "abandoned").Inc()
	if current == gen && b.counts.Requests > 0 {
		b.counts.Requests--
	}
}

func (b *Breaker) current(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.resetGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.resetGeneration(now)

	stateGauge.WithLabelValues(b.name, b.service).Set(float64(to))
	stateChanges.WithLabelValues(b.name, b.service, from.String(), to.String()).Inc()
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("service", b.service),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (b *Breaker) resetGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}
	switch b.state {
	case StateClosed:
		if b.config.Interval > 0 {
			b.expiry = now.Add(b.config.Interval)
		} else {
			b.expiry = time.Time{}
		}
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	default:
		b.expiry = time.Time{}
	}
}

// Set lazily creates one breaker per key, so a failing capability does not
// trip calls to its healthy peers.
type Set struct {
	service string
	config  Config
	logger  *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates an empty breaker set sharing one configuration.
func NewSet(service string, config Config, logger *zap.Logger) *Set {
	return &Set{service: service, config: config, logger: logger, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key, creating it on first use.
func (s *Set) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = New(key, s.service, s.config, s.logger)
		s.breakers[key] = b
	}
	return b
}

// States reports the state of every breaker created so far.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	list := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		list = append(list, b)
	}
	s.mu.Unlock()

	out := make(map[string]State, len(list))
	for _, b := range list {
		out[b.name] = b.State()
	}
	return out
}
