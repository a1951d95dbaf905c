package proxy

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/piewallah/pw-gateway/internal/config"
)

// Breakers keeps one circuit breaker per endpoint family so a failing
// upstream resource does not take the others down with it.
type Breakers struct {
	cfg config.BreakerConfig
	log logrus.FieldLogger

	mu sync.Mutex
	m  map[string]*gobreaker.CircuitBreaker
}

// NewBreakers returns nil when breaking is disabled; a nil *Breakers runs
// every call directly.
func NewBreakers(cfg config.BreakerConfig, log logrus.FieldLogger) *Breakers {
	if !cfg.Enabled {
		return nil
	}
	return &Breakers{cfg: cfg, log: log, m: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *Breakers) get(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.m[name]; ok {
		return cb
	}
	minReq, ratio := b.cfg.MinRequests, b.cfg.FailureRatio
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: b.cfg.MaxRequests,
		Interval:    b.cfg.Interval,
		Timeout:     b.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minReq && failureRatio >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if b.log != nil {
				b.log.WithFields(logrus.Fields{"family": name, "from": from.String(), "to": to.String()}).
					Warn("proxy: circuit breaker state changed")
			}
		},
	})
	b.m[name] = cb
	return cb
}

// Execute runs fn under the breaker of family name.
func (b *Breakers) Execute(name string, fn func() (any, error)) (any, error) {
	if b == nil {
		return fn()
	}
	return b.get(name).Execute(fn)
}

// State reports the breaker state of a family, "closed" when none exists.
func (b *Breakers) State(name string) string {
	if b == nil {
		return gobreaker.StateClosed.String()
	}
	b.mu.Lock()
	cb, ok := b.m[name]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}
