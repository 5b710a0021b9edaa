package nms

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"

	"github.com/gugahnugraha/nms-client-go/nms/rest"
	"github.com/gugahnugraha/nms-client-go/nms/store"
)

const sessionStoreKey = "session"

type refreshOutcome struct {
	token string
	err   error
}

// SessionGuardian owns the access/refresh token pair. It decides when to
// refresh and serializes concurrent refresh attempts: for any burst of
// callers, at most one refresh request reaches the server and every caller
// receives that request's outcome.
type SessionGuardian struct {
	rest   *rest.Client
	store  store.Store
	logger Logger

	lead          time.Duration
	checkInterval time.Duration

	mu         sync.Mutex
	session    *Session
	refreshing bool
	waiters    []chan refreshOutcome
	blocked    bool
	warned     bool

	onLogout        func(error)
	onExpiryWarning func(remaining time.Duration)

	watchCancel context.CancelFunc
}

// NewSessionGuardian builds the guardian and rehydrates any persisted
// session from the durable store.
func NewSessionGuardian(rc *rest.Client, st store.Store, cfg Config, logger Logger) *SessionGuardian {
	g := &SessionGuardian{
		rest:          rc,
		store:         st,
		logger:        logger,
		lead:          cfg.RefreshLead,
		checkInterval: cfg.ExpiryCheckInterval,
	}
	if blob, ok, err := st.Get(sessionStoreKey); err == nil && ok {
		var s Session
		if err := json.Unmarshal([]byte(blob), &s); err == nil {
			g.session = &s
		}
	}
	return g
}

// OnLogout registers the forced-logout callback, fired when the session is
// torn down after an unrecoverable refresh failure or an explicit Logout.
func (g *SessionGuardian) OnLogout(fn func(error)) { g.onLogout = fn }

// OnExpiryWarning registers the callback fired by the expiry watch when the
// token is about to expire.
func (g *SessionGuardian) OnExpiryWarning(fn func(time.Duration)) { g.onExpiryWarning = fn }

// Login authenticates, installs the new session, and persists it.
func (g *SessionGuardian) Login(ctx context.Context, username, password string) error {
	resp, err := g.rest.Login(ctx, rest.LoginRequest{Username: username, Password: password})
	if err != nil {
		return WrapError(CodeUnauthorized, "login failed", err)
	}
	g.install(sessionFromResponse(resp))
	return nil
}

// Logout destroys the session and clears the persisted blob. The expiry
// watch stops with it.
func (g *SessionGuardian) Logout() {
	g.teardown(nil)
}

// UserID returns the authenticated identity, or "" when logged out.
func (g *SessionGuardian) UserID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return ""
	}
	return g.session.UserID
}

// Authenticated reports whether a session is present and not blocked by a
// prior unauthorized failure. Group joins and other room traffic are
// skipped while this is false.
func (g *SessionGuardian) Authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session != nil && !g.blocked
}

// EnsureFreshToken returns a valid access token, refreshing first if the
// token expires within the configured lead time.
func (g *SessionGuardian) EnsureFreshToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	if g.session != nil && !g.expiringLocked(time.Now()) {
		token := g.session.AccessToken
		g.mu.Unlock()
		return token, nil
	}
	return g.refreshLocked(ctx)
}

// Token implements rest.TokenSource.
func (g *SessionGuardian) Token(ctx context.Context) (string, error) {
	return g.EnsureFreshToken(ctx)
}

// Recover implements rest.TokenSource: the HTTP client calls it after a 401
// on a request it has not yet replayed. It forces a refresh (or joins the
// one in flight) and returns the token for the single replay.
func (g *SessionGuardian) Recover(ctx context.Context) (string, error) {
	g.mu.Lock()
	return g.refreshLocked(ctx)
}

// refreshLocked enters with g.mu held and releases it. The first caller
// while no refresh is in flight becomes the sole performer; everyone else
// enqueues and shares the performer's outcome.
func (g *SessionGuardian) refreshLocked(ctx context.Context) (string, error) {
	if g.refreshing {
		ch := make(chan refreshOutcome, 1)
		g.waiters = append(g.waiters, ch)
		g.mu.Unlock()
		select {
		case out := <-ch:
			return out.token, out.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	g.refreshing = true
	var refreshToken string
	if g.session != nil {
		refreshToken = g.session.RefreshToken
	}
	g.mu.Unlock()

	// A missing refresh token settles exactly like an expired one: the
	// request fails and the session is torn down.
	resp, err := g.rest.Refresh(ctx, rest.RefreshRequest{RefreshToken: refreshToken})

	g.mu.Lock()
	g.refreshing = false
	waiters := g.waiters
	g.waiters = nil

	var out refreshOutcome
	if err != nil {
		out = refreshOutcome{err: WrapError(CodeRefreshFailed, "token refresh failed", err)}
		g.mu.Unlock()
		g.teardown(out.err)
	} else {
		s := sessionFromResponse(resp)
		g.session = s
		g.blocked = false
		g.warned = false
		out = refreshOutcome{token: s.AccessToken}
		g.mu.Unlock()
		g.persist(s)
	}

	for _, ch := range waiters {
		ch <- out
	}
	return out.token, out.err
}

// WatchExpiry starts the recurring local expiry check. It decodes the
// token's embedded expiry claim, never touching the network, and fires the
// warning callback once per session when expiry is imminent. The watch
// stops when ctx is cancelled or the session is torn down.
func (g *SessionGuardian) WatchExpiry(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	if g.watchCancel != nil {
		g.watchCancel()
	}
	g.watchCancel = cancel
	g.mu.Unlock()

	interval := g.checkInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				g.checkExpiry(time.Now())
			}
		}
	}()
}

func (g *SessionGuardian) checkExpiry(now time.Time) {
	g.mu.Lock()
	if g.session == nil || g.warned {
		g.mu.Unlock()
		return
	}
	exp := g.expiryLocked()
	remaining := exp.Sub(now)
	fire := remaining < g.lead
	if fire {
		g.warned = true
	}
	fn := g.onExpiryWarning
	g.mu.Unlock()

	if fire && fn != nil {
		if remaining < 0 {
			remaining = 0
		}
		fn(remaining)
	}
}

// expiringLocked reports whether the access token is expired or will expire
// within the lead time. Callers hold g.mu.
func (g *SessionGuardian) expiringLocked(now time.Time) bool {
	return g.expiryLocked().Sub(now) < g.lead
}

// expiryLocked resolves the token's embedded expiry claim. A token that
// cannot be decoded counts as already expired (fail safe).
func (g *SessionGuardian) expiryLocked() time.Time {
	exp, err := tokenExpiry(g.session.AccessToken)
	if err != nil {
		return time.Time{}
	}
	return exp
}

// tokenExpiry decodes the exp claim without verifying the signature; the
// client holds no verification key and only needs the timestamp.
func tokenExpiry(token string) (time.Time, error) {
	claims := &jwt.StandardClaims{}
	parser := &jwt.Parser{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	return time.Unix(claims.ExpiresAt, 0), nil
}

func (g *SessionGuardian) install(s *Session) {
	g.mu.Lock()
	g.session = s
	g.blocked = false
	g.warned = false
	g.mu.Unlock()
	g.persist(s)
}

func (g *SessionGuardian) persist(s *Session) {
	blob, err := json.Marshal(s)
	if err != nil {
		g.logger.Error("persist session", map[string]any{"error": err.Error()})
		return
	}
	if err := g.store.Put(sessionStoreKey, string(blob)); err != nil {
		g.logger.Error("persist session", map[string]any{"error": err.Error()})
	}
}

// teardown destroys the session: persisted state is cleared, the tab is
// flagged blocked, the expiry watch stops, and the logout callback fires.
func (g *SessionGuardian) teardown(cause error) {
	g.mu.Lock()
	g.session = nil
	g.blocked = true
	g.warned = false
	cancel := g.watchCancel
	g.watchCancel = nil
	fn := g.onLogout
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := g.store.Delete(sessionStoreKey); err != nil {
		g.logger.Error("clear session", map[string]any{"error": err.Error()})
	}
	if fn != nil {
		fn(cause)
	}
}

func sessionFromResponse(resp *rest.SessionResponse) *Session {
	return &Session{
		UserID:       resp.UserID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt,
	}
}
