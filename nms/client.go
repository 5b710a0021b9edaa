// Package nms is the client-side realtime coordination layer for the
// monitoring dashboard: it keeps the authenticated session alive, owns the
// single persistent server connection, tracks who is online, and drives
// per-message delivery/read state while keeping unread counters consistent
// with the durable store.
package nms

import (
	"context"
	"time"

	"github.com/gugahnugraha/nms-client-go/nms/rest"
	"github.com/gugahnugraha/nms-client-go/nms/store"
)

// Client owns every coordination component. It is constructed exactly once
// at application startup and passed to dependents by reference; there are
// no package-level instances.
type Client struct {
	cfg    Config
	logger Logger
	st     store.Store

	rest       *rest.Client
	dispatcher *Dispatcher
	guardian   *SessionGuardian
	conn       *ConnectionManager
	presence   *PresenceTracker
	ledger     *UnreadLedger
	channel    *MessageChannel

	subs []*Subscription
}

// New constructs the client and rehydrates durable state. With an empty
// StorePath the durable store is in-memory and nothing survives a restart.
func New(cfg Config) (*Client, error) {
	return NewWithLogger(cfg, noopLogger{})
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(cfg Config, logger Logger) (*Client, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	var st store.Store
	if cfg.StorePath != "" {
		s, err := store.Open(cfg.StorePath)
		if err != nil {
			return nil, WrapError(CodeUnknown, "open durable store", err)
		}
		st = s
	} else {
		st = store.NewMemory()
	}

	rc := rest.NewClient(cfg.RESTBaseURL)
	guardian := NewSessionGuardian(rc, st, cfg, logger)
	rc.SetTokenSource(guardian)

	dispatcher := &Dispatcher{}
	conn := NewConnectionManager(cfg, dispatcher, guardian, logger)
	presence := NewPresenceTracker(rc, logger)
	ledger := NewUnreadLedger(st, cfg, logger)
	ledger.Rehydrate()
	channel := NewMessageChannel(rc, ledger, presence, logger)

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		st:         st,
		rest:       rc,
		dispatcher: dispatcher,
		guardian:   guardian,
		conn:       conn,
		presence:   presence,
		ledger:     ledger,
		channel:    channel,
	}

	// Event wiring happens here, once per client. Reconnects and repeated
	// Connect calls reuse these subscriptions, so each server event is
	// handled exactly once.
	c.subs = []*Subscription{
		dispatcher.SubscribePresenceOnline(func(ev PresenceEvent) { presence.ApplyOnline(ev.UserID) }),
		dispatcher.SubscribePresenceOffline(func(ev PresenceEvent) { presence.ApplyOffline(ev.UserID) }),
		dispatcher.SubscribePresenceList(func(ev PresenceListEvent) { presence.ApplySnapshot(ev.UserIDs) }),
		dispatcher.SubscribeMessages(func(ev MessageEvent) { channel.ReceiveIncoming(ev.Message) }),
		dispatcher.SubscribeMessageStatus(func(ev MessageStatusEvent) { channel.ApplyStatus(ev) }),
	}
	return c, nil
}

// Login authenticates and starts the expiry watch.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if err := c.guardian.Login(ctx, username, password); err != nil {
		return err
	}
	c.guardian.WatchExpiry(context.Background())
	userID := c.guardian.UserID()
	c.presence.SetSelf(userID)
	c.channel.SetSelf(userID)
	return nil
}

// Connect opens the realtime connection as the authenticated identity and
// self-registers presence.
func (c *Client) Connect(ctx context.Context) error {
	identity := c.guardian.UserID()
	if identity == "" {
		return NewError(CodeUnauthorized, "not logged in")
	}
	if err := c.conn.Connect(ctx, identity); err != nil {
		return err
	}
	c.presence.SetSelf(identity)
	c.channel.SetSelf(identity)
	return nil
}

// Logout tears down the session. The realtime connection stays up only for
// unauthenticated traffic; callers normally Close right after.
func (c *Client) Logout() {
	c.guardian.Logout()
}

// Close shuts everything down: connection, timers, pending persists, and
// the durable store handle.
func (c *Client) Close() error {
	for _, s := range c.subs {
		s.Unsubscribe()
	}
	err := c.conn.Close()
	c.ledger.Close()
	if cerr := c.st.Close(); err == nil {
		err = cerr
	}
	return err
}

// Component accessors for the UI layer.

// Session returns the session guardian.
func (c *Client) Session() *SessionGuardian { return c.guardian }

// Connection returns the connection manager.
func (c *Client) Connection() *ConnectionManager { return c.conn }

// Presence returns the presence tracker.
func (c *Client) Presence() *PresenceTracker { return c.presence }

// Messages returns the message channel.
func (c *Client) Messages() *MessageChannel { return c.channel }

// Unread returns the unread ledger.
func (c *Client) Unread() *UnreadLedger { return c.ledger }

// REST returns the underlying REST client.
func (c *Client) REST() *rest.Client { return c.rest }

// OnError registers a callback for protocol, decode, and exhausted-
// reconnect errors. Only user-actionable failures arrive here.
func (c *Client) OnError(fn func(error)) *Subscription {
	return c.dispatcher.SubscribeErrors(fn)
}

// OnState registers the connection state callback.
func (c *Client) OnState(fn func(StateChange)) { c.conn.OnState(fn) }

// OnExpiryWarning registers the imminent-expiry callback.
func (c *Client) OnExpiryWarning(fn func(time.Duration)) { c.guardian.OnExpiryWarning(fn) }

// OnLogout registers the forced-logout callback.
func (c *Client) OnLogout(fn func(error)) { c.guardian.OnLogout(fn) }
