package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerSet keeps one circuit breaker per platform account so a failing
// account does not block sends for the others. Only unavailability counts
// as a failure; a bad recipient says nothing about the platform's health.
type BreakerSet struct {
	mu          sync.Mutex
	breakers    map[string]*gobreaker.CircuitBreaker
	maxFailures uint32
	openTimeout time.Duration
}

func NewBreakerSet(maxFailures uint32, openTimeout time.Duration) *BreakerSet {
	if maxFailures == 0 {
		maxFailures = 5
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &BreakerSet{
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		maxFailures: maxFailures,
		openTimeout: openTimeout,
	}
}

func (s *BreakerSet) get(key string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[key]; ok {
		return cb
	}
	maxFailures := s.maxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     s.openTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrChannelUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("⚡ circuit breaker state changed")
		},
	})
	s.breakers[key] = cb
	return cb
}

// Execute runs send through the breaker of platform/account. An open
// breaker fails fast with ErrChannelUnavailable.
func (s *BreakerSet) Execute(platform Type, account string, send func() (string, error)) (string, error) {
	if s == nil {
		return send()
	}
	cb := s.get(platform.String() + ":" + account)
	out, err := cb.Execute(func() (interface{}, error) {
		return send()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", &SendError{Platform: platform, Kind: ErrChannelUnavailable, Message: err.Error()}
		}
		return "", err
	}
	id, _ := out.(string)
	return id, nil
}

// State reports the breaker state for an account.
func (s *BreakerSet) State(platform Type, account string) gobreaker.State {
	return s.get(platform.String() + ":" + account).State()
}

// Unhealthy returns the state of every breaker that is not closed, keyed
// by platform:account.
func (s *BreakerSet) Unhealthy() map[string]string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for key, cb := range s.breakers {
		if st := cb.State(); st != gobreaker.StateClosed {
			out[key] = st.String()
		}
	}
	return out
}
