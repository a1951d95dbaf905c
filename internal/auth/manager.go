// Package auth owns the token lifecycle: validity with an expiry buffer,
// coalesced refresh exchanges, OTP login, logout and the periodic liveness
// check that ends silently expired sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/piewallah/pw-gateway/internal/fetch"
	"github.com/piewallah/pw-gateway/internal/logging"
	"github.com/piewallah/pw-gateway/internal/model"
	"github.com/piewallah/pw-gateway/internal/session"
)

// State is the lifecycle state of the one session a Manager tracks.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateValid           State = "valid"
	StateExpiringSoon    State = "expiring-soon"
	StateRefreshing      State = "refreshing"
	StateExpired         State = "expired"
)

// DefaultBuffer is how long before expiry a token stops counting as valid.
const DefaultBuffer = 5 * time.Minute

// Gateway auth exchange paths.
const (
	PathOTP     = "/api/auth/otp"
	PathToken   = "/api/auth/token"
	PathRefresh = "/api/auth/refresh"
	PathLogout  = "/api/auth/logout"
)

var (
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	ErrNoRefreshToken   = errors.New("auth: no refresh token stored")
	ErrEmptyGrant       = errors.New("auth: token exchange returned no access token")
)

// Caller performs one HTTP exchange. *fetch.Client satisfies it.
type Caller interface {
	Do(ctx context.Context, req model.RequestContext) (*fetch.Response, error)
}

// EventPublisher receives session lifecycle events. Publishing is best
// effort: failures are logged and never change the outcome of a call.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.SessionEvent) error
}

// Options configures a Manager.
type Options struct {
	Store     *session.Store
	Caller    Caller
	Navigator fetch.Navigator
	Events    EventPublisher
	Buffer    time.Duration
	Log       logrus.FieldLogger
	Now       func() time.Time
}

// Manager is safe for concurrent use.
type Manager struct {
	store  *session.Store
	caller Caller
	nav    fetch.Navigator
	events EventPublisher
	buffer time.Duration
	log    logrus.FieldLogger
	now    func() time.Time

	flight     singleflight.Group
	refreshing atomic.Bool
}

func New(opts Options) *Manager {
	m := &Manager{
		store:  opts.Store,
		caller: opts.Caller,
		nav:    opts.Navigator,
		events: opts.Events,
		buffer: opts.Buffer,
		log:    opts.Log,
		now:    opts.Now,
	}
	if m.store == nil {
		m.store = session.NewStore(nil, nil, opts.Log)
	}
	if m.buffer <= 0 {
		m.buffer = DefaultBuffer
	}
	if m.log == nil {
		m.log = logging.Discard()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// State reports where the session currently is.
func (m *Manager) State(ctx context.Context) State {
	if m.refreshing.Load() {
		return StateRefreshing
	}
	c, ok := m.store.Get(ctx)
	if !ok {
		return StateUnauthenticated
	}
	now, exp := m.now(), c.ExpiresAt()
	switch {
	case !now.Before(exp):
		return StateExpired
	case !now.Before(exp.Add(-m.buffer)):
		return StateExpiringSoon
	}
	return StateValid
}

// IsValid reports whether a token exists and now < expiry - buffer. It never
// triggers a refresh.
func (m *Manager) IsValid(ctx context.Context) bool {
	c, ok := m.store.Get(ctx)
	return ok && m.valid(c)
}

func (m *Manager) valid(c model.Credential) bool {
	return c.AccessToken != "" && m.now().Before(c.ExpiresAt().Add(-m.buffer))
}

// ValidToken returns the access token when it is valid.
func (m *Manager) ValidToken() (string, bool) {
	c, ok := m.store.Get(context.Background())
	if !ok || !m.valid(c) {
		return "", false
	}
	return c.AccessToken, true
}

// Credential returns the stored credential, valid or not.
func (m *Manager) Credential(ctx context.Context) (model.Credential, bool) {
	return m.store.Get(ctx)
}

// EnsureValid refreshes only when the token is not valid and reports the
// resulting validity. An unauthenticated session returns false without any
// network call. The error is non-nil only when ctx ended first.
func (m *Manager) EnsureValid(ctx context.Context) (bool, error) {
	if m.IsValid(ctx) {
		return true, nil
	}
	if _, ok := m.store.Get(ctx); !ok {
		return false, nil
	}
	if _, err := m.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return m.IsValid(ctx), nil
}

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers share one in-flight exchange so a refresh token is never spent
// twice. A failed exchange clears the session and redirects to login.
func (m *Manager) Refresh(ctx context.Context) (model.Credential, error) {
	ch := m.flight.DoChan("refresh", func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return model.Credential{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return model.Credential{}, r.Err
		}
		return r.Val.(model.Credential), nil
	}
}

func (m *Manager) refresh(ctx context.Context) (model.Credential, error) {
	m.refreshing.Store(true)
	defer m.refreshing.Store(false)

	cur, ok := m.store.Get(ctx)
	if !ok {
		return model.Credential{}, ErrNotAuthenticated
	}
	// Another caller may have refreshed between our validity check and now.
	if m.valid(cur) {
		return cur, nil
	}
	if cur.RefreshToken == "" {
		m.terminate(ctx, cur, "no-refresh-token", false)
		return model.Credential{}, ErrNoRefreshToken
	}

	grant, err := m.exchange(ctx, PathRefresh, map[string]string{"refresh_token": cur.RefreshToken})
	if err != nil {
		m.log.WithError(err).WithField("subject", logging.TokenDigest(cur.AccessToken)).
			Warn("auth: refresh failed, clearing session")
		m.terminate(ctx, cur, "refresh-failed", fetch.IsKind(err, fetch.KindUnauthorized))
		return model.Credential{}, fmt.Errorf("auth: refresh: %w", err)
	}

	refresh := grant.RefreshToken
	if refresh == "" {
		refresh = cur.RefreshToken
	}
	profile := cur.UserProfile
	if len(grant.User) > 0 {
		profile = grant.User
	}
	next := model.NewCredential(grant.AccessToken, refresh, grant.ExpiresIn, profile, m.now())
	if err := m.store.Set(ctx, next); err != nil {
		m.log.WithError(err).WithField("subject", logging.TokenDigest(cur.AccessToken)).
			Warn("auth: refreshed credential not stored, clearing session")
		m.terminate(ctx, cur, "store-failed", false)
		return model.Credential{}, fmt.Errorf("auth: store refreshed credential: %w", err)
	}
	m.publish(ctx, model.EventRefresh, next, "")
	m.log.WithField("subject", logging.TokenDigest(next.AccessToken)).Info("auth: token refreshed")
	return next, nil
}

// SendOTP asks the platform to text a one-time password to phone.
func (m *Manager) SendOTP(ctx context.Context, phone string) error {
	_, err := m.caller.Do(ctx, model.RequestContext{
		Method:     http.MethodPost,
		TargetPath: PathOTP,
		Body:       map[string]string{"phone": phone},
		Anonymous:  true,
	})
	if err != nil {
		return fmt.Errorf("auth: send otp: %w", err)
	}
	return nil
}

// VerifyOTP completes the login and stores a fresh credential.
func (m *Manager) VerifyOTP(ctx context.Context, phone, otp string) (model.Credential, error) {
	grant, err := m.exchange(ctx, PathToken, map[string]string{"phone": phone, "otp": otp})
	if err != nil {
		return model.Credential{}, fmt.Errorf("auth: verify otp: %w", err)
	}
	c := model.NewCredential(grant.AccessToken, grant.RefreshToken, grant.ExpiresIn, grant.User, m.now())
	if err := m.store.Set(ctx, c); err != nil {
		return model.Credential{}, fmt.Errorf("auth: store credential: %w", err)
	}
	m.publish(ctx, model.EventLogin, c, "")
	return c, nil
}

// Logout ends the session. The upstream revoke is best effort; local state
// is always cleared.
func (m *Manager) Logout(ctx context.Context) {
	c, ok := m.store.Get(ctx)
	if !ok {
		return
	}
	_, err := m.caller.Do(ctx, model.RequestContext{
		Method:       http.MethodPost,
		TargetPath:   PathLogout,
		Body:         map[string]string{"refresh_token": c.RefreshToken},
		ExtraHeaders: http.Header{"Authorization": []string{"Bearer " + c.AccessToken}},
		Anonymous:    true,
	})
	if err != nil {
		m.log.WithError(err).Debug("auth: upstream logout failed")
	}
	m.store.Clear(context.WithoutCancel(ctx))
	m.publish(ctx, model.EventLogout, c, "")
}

// Invalidate drops the session after a downstream call proved the token
// invalid, whatever its local expiry says.
func (m *Manager) Invalidate(ctx context.Context, reason string) {
	c, ok := m.store.Get(ctx)
	if !ok {
		return
	}
	m.terminate(ctx, c, reason, false)
}

// CheckLiveness logs out a stored credential that is no longer valid. It
// reports whether a logout happened.
func (m *Manager) CheckLiveness(ctx context.Context) bool {
	c, ok := m.store.Get(ctx)
	if !ok || m.valid(c) {
		return false
	}
	m.log.WithField("subject", logging.TokenDigest(c.AccessToken)).
		Info("auth: liveness check found an expired session")
	m.terminate(ctx, c, "session-expired", false)
	return true
}

// terminate clears the session and sends the user back to login. The
// redirect is skipped when the fetch client already issued one.
func (m *Manager) terminate(ctx context.Context, c model.Credential, reason string, redirected bool) {
	m.store.Clear(context.WithoutCancel(ctx))
	m.publish(ctx, model.EventForcedLogout, c, reason)
	if m.nav != nil && !redirected {
		m.nav.RedirectToLogin(reason)
	}
}

func (m *Manager) exchange(ctx context.Context, path string, body any) (model.TokenGrant, error) {
	res, err := m.caller.Do(ctx, model.RequestContext{
		Method:     http.MethodPost,
		TargetPath: path,
		Body:       body,
		Anonymous:  true,
	})
	if err != nil {
		return model.TokenGrant{}, err
	}
	var g model.TokenGrant
	if err := res.Decode(&g); err != nil {
		return model.TokenGrant{}, fmt.Errorf("decode token grant: %w", err)
	}
	if g.AccessToken == "" {
		return model.TokenGrant{}, ErrEmptyGrant
	}
	return g, nil
}

func (m *Manager) publish(ctx context.Context, t model.SessionEventType, c model.Credential, reason string) {
	if m.events == nil {
		return
	}
	ev := model.SessionEvent{
		ID:         uuid.NewString(),
		Type:       t,
		Subject:    Subject(c),
		Reason:     reason,
		Source:     "client",
		OccurredAt: m.now().UTC(),
	}
	if err := m.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		m.log.WithError(err).WithField("event", t).Warn("auth: publish session event failed")
	}
}
