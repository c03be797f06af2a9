// Package circuitbreaker tracks consecutive delivery failures per notification channel.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type channelState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker opens a channel after threshold consecutive failures and
// lets a single probe through once cooldown has elapsed.
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*channelState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		states:    make(map[string]*channelState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (cb *CircuitBreaker) Allow(channel string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[channel]
	if !ok {
		return nil
	}

	switch s.state {
	case StateOpen:
		if cb.clock().Sub(s.openedAt) >= cb.cooldown {
			s.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(channel string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[channel]
	if !ok {
		return
	}
	s.state = StateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(channel string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[channel]
	if !ok {
		s = &channelState{state: StateClosed}
		cb.states[channel] = s
	}

	s.consecutiveFailures++
	if s.state == StateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = StateOpen
		s.openedAt = cb.clock()
	}
}

// State reports the channel's current state without advancing it.
func (cb *CircuitBreaker) State(channel string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.states[channel]; ok {
		return s.state
	}
	return StateClosed
}
