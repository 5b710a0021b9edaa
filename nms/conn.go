package nms

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gugahnugraha/nms-client-go/nms/internal"
)

// ConnectionManager owns the single persistent realtime connection: the
// connect/reconnect lifecycle, subscription replay after reconnect, and the
// connection state machine. It is constructed once; event handler wiring
// happens through dispatcher subscriptions taken at construction time, so a
// remounting caller can never attach the same handler twice.
type ConnectionManager struct {
	cfg        Config
	logger     Logger
	dispatcher *Dispatcher
	guardian   *SessionGuardian
	clientID   string

	mu             sync.Mutex
	state          ConnState
	conn           *internal.Conn
	writeCh        chan Inbound
	cancel         context.CancelFunc
	identity       string
	watchedDevices []string
	joinedGroups   []string
	attempts       int
	replayRetried  bool
	onState        func(StateChange)
}

// NewConnectionManager builds the manager. It does not dial.
func NewConnectionManager(cfg Config, d *Dispatcher, g *SessionGuardian, logger Logger) *ConnectionManager {
	return &ConnectionManager{
		cfg:        cfg,
		logger:     logger,
		dispatcher: d,
		guardian:   g,
		clientID:   uuid.NewString(),
		state:      StateDisconnected,
	}
}

// OnState registers the state-change callback.
func (c *ConnectionManager) OnState(fn func(StateChange)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *ConnectionManager) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the current reconnect attempt counter. It is zero
// whenever the connection is up.
func (c *ConnectionManager) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect dials the server, announces identity, and replays subscription
// state that was active before any prior disconnect.
func (c *ConnectionManager) Connect(ctx context.Context, identity string) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return NewError(CodeConnection, "already connected")
	}
	c.identity = identity
	c.mu.Unlock()

	c.setState(StateConnecting, nil)
	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected, err)
		return WrapError(CodeConnection, "connect failed", err)
	}
	return nil
}

// dial opens the socket, identifies, starts the loops, and replays
// subscriptions. On success the attempt counter resets to zero.
func (c *ConnectionManager) dial(ctx context.Context) error {
	if c.cfg.WSURL == "" {
		return NewError(CodeConnection, "empty realtime URL")
	}
	conn, err := internal.Dial(ctx, c.cfg.WSURL, c.cfg.HandshakeTimeout, c.cfg.ReadTimeout, c.cfg.WriteTimeout)
	if err != nil {
		return err
	}

	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()

	identify := Inbound{
		Type: inboundIdentify,
		Data: IdentifyPayload{Protocol: ProtocolVersion, Identity: identity, ClientID: c.clientID},
	}
	if err := conn.Write(ctx, identify); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "identify error")
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.writeCh = make(chan Inbound, 16)
	c.cancel = cancel
	c.attempts = 0
	c.replayRetried = false
	writeCh := c.writeCh
	c.mu.Unlock()

	c.setState(StateConnected, nil)

	go c.readLoop(runCtx, conn)
	go c.writeLoop(runCtx, conn, writeCh)
	c.replaySubscriptions(runCtx)
	return nil
}

// WatchDevices replaces the watched device set. The list is remembered and
// replayed after every reconnect.
func (c *ConnectionManager) WatchDevices(ctx context.Context, deviceIDs []string) error {
	c.mu.Lock()
	c.watchedDevices = append([]string(nil), deviceIDs...)
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.send(ctx, Inbound{Type: inboundSubscribeDevices, Data: SubscribeDevicesPayload{DeviceIDs: deviceIDs}})
}

// JoinGroup subscribes to a group thread room. Joins are skipped while
// unauthenticated or after the session was blocked by an unauthorized
// response, to avoid spamming requests that can only fail.
func (c *ConnectionManager) JoinGroup(ctx context.Context, groupID string) error {
	if !c.guardian.Authenticated() {
		c.logger.Debug("join skipped, not authenticated", map[string]any{"group": groupID})
		return nil
	}
	c.mu.Lock()
	found := false
	for _, g := range c.joinedGroups {
		if g == groupID {
			found = true
			break
		}
	}
	if !found {
		c.joinedGroups = append(c.joinedGroups, groupID)
	}
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.send(ctx, Inbound{Type: inboundJoinGroup, Data: JoinGroupPayload{GroupID: groupID}})
}

// replaySubscriptions re-announces the device watch list and joined rooms
// on a fresh connection. An empty replay set usually means dependent data
// has not loaded yet, so it is retried once after a short delay.
func (c *ConnectionManager) replaySubscriptions(ctx context.Context) {
	c.mu.Lock()
	devices := append([]string(nil), c.watchedDevices...)
	groups := append([]string(nil), c.joinedGroups...)
	retried := c.replayRetried
	c.mu.Unlock()

	if len(devices) == 0 && len(groups) == 0 {
		if retried {
			return
		}
		c.mu.Lock()
		c.replayRetried = true
		c.mu.Unlock()
		delay := c.cfg.ReplayRetryDelay
		if delay <= 0 {
			delay = 2 * time.Second
		}
		time.AfterFunc(delay, func() {
			if ctx.Err() == nil {
				c.replaySubscriptions(ctx)
			}
		})
		return
	}

	if len(devices) > 0 {
		_ = c.send(ctx, Inbound{Type: inboundSubscribeDevices, Data: SubscribeDevicesPayload{DeviceIDs: devices}})
	}
	if c.guardian.Authenticated() {
		for _, g := range groups {
			_ = c.send(ctx, Inbound{Type: inboundJoinGroup, Data: JoinGroupPayload{GroupID: g}})
		}
	}
}

// RetryNow makes a single reconnect attempt out of the Failed state. It is
// the hook for external wake-ups (the page-refocus analog). A failed
// attempt leaves the state Failed without another user-visible error.
func (c *ConnectionManager) RetryNow(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateFailed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(StateReconnecting, nil)
	if err := c.dial(ctx); err != nil {
		c.setState(StateFailed, err)
		return WrapError(CodeConnection, "retry failed", err)
	}
	return nil
}

// Close tears down the connection and all timers.
func (c *ConnectionManager) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.setState(StateDisconnected, nil)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

func (c *ConnectionManager) send(ctx context.Context, in Inbound) error {
	c.mu.Lock()
	writeCh := c.writeCh
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || writeCh == nil {
		return NewError(CodeNotConnected, "not connected")
	}
	select {
	case writeCh <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ConnectionManager) readLoop(ctx context.Context, conn *internal.Conn) {
	for {
		var out Outbound
		if err := conn.Read(ctx, &out); err != nil {
			if internal.IsExpectedDisconnect(ctx, err) {
				return
			}
			c.logger.Warn("connection dropped", map[string]any{"error": err.Error()})
			c.reconnectLoop(err)
			return
		}
		c.dispatcher.Dispatch(out)
	}
}

func (c *ConnectionManager) writeLoop(ctx context.Context, conn *internal.Conn, writeCh chan Inbound) {
	for {
		select {
		case in := <-writeCh:
			if err := conn.Write(ctx, in); err != nil {
				c.logger.Warn("write loop exit", map[string]any{"error": err.Error()})
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// reconnectLoop retries with a fixed delay up to the configured attempt
// cap. On success the counter resets to zero; on exhaustion the state goes
// Failed and exactly one connectivity error reaches the error subscribers.
func (c *ConnectionManager) reconnectLoop(cause error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	c.setState(StateReconnecting, cause)

	max := c.cfg.MaxReconnectAttempts
	if max <= 0 {
		max = 5
	}
	delay := c.cfg.ReconnectDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}

	for {
		c.mu.Lock()
		if c.state != StateReconnecting {
			// Close happened mid-retry.
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		time.Sleep(delay)

		c.mu.Lock()
		stopped := c.state != StateReconnecting
		c.mu.Unlock()
		if stopped {
			return
		}

		err := c.dial(context.Background())
		if err == nil {
			c.logger.Info("reconnected", map[string]any{"attempt": attempt})
			return
		}
		c.logger.Warn("reconnect attempt failed", map[string]any{
			"attempt": attempt,
			"max":     max,
			"error":   err.Error(),
		})
		if attempt >= max {
			exhausted := WrapError(CodeReconnectExhausted, "reconnect attempts exhausted", err)
			c.setState(StateFailed, exhausted)
			c.dispatcher.fireError(exhausted)
			return
		}
	}
}

// setState moves the state machine and notifies the subscriber.
func (c *ConnectionManager) setState(next ConnState, err error) {
	c.mu.Lock()
	old := c.state
	c.state = next
	fn := c.onState
	c.mu.Unlock()
	if old != next && fn != nil {
		fn(StateChange{Old: old, New: next, Err: err})
	}
}
