// Package netstatus tracks whether the upstream is reachable and announces
// offline to online transitions.
package netstatus

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piewallah/pw-gateway/internal/logging"
)

// Monitor probes a URL and keeps the last known state. The zero state is
// online so nothing is short-circuited before the first probe.
type Monitor struct {
	url    string
	client *http.Client
	log    logrus.FieldLogger

	online atomic.Bool

	mu   sync.Mutex
	subs []chan struct{}
}

func NewMonitor(url string, timeout time.Duration, log logrus.FieldLogger) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logging.Discard()
	}
	m := &Monitor{url: url, client: &http.Client{Timeout: timeout}, log: log}
	m.online.Store(true)
	return m
}

// Online reports the last known state.
func (m *Monitor) Online() bool { return m.online.Load() }

// Subscribe returns a channel that receives a value on every transition to
// online. Slow receivers miss transitions rather than block the monitor.
func (m *Monitor) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Set records a state and notifies subscribers when it went from offline
// to online.
func (m *Monitor) Set(online bool) {
	prev := m.online.Swap(online)
	if prev == online {
		return
	}
	m.log.WithField("online", online).Info("netstatus: connectivity changed")
	if !online {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Probe checks reachability once. Any HTTP answer counts as online.
func (m *Monitor) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.url, nil)
	if err != nil {
		m.Set(false)
		return false
	}
	res, err := m.client.Do(req)
	if err != nil {
		m.log.WithError(err).Debug("netstatus: probe failed")
		m.Set(false)
		return false
	}
	res.Body.Close()
	m.Set(true)
	return true
}

// Run probes every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m.Probe(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Probe(ctx)
		}
	}
}
