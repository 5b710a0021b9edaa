package nms

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/gugahnugraha/nms-client-go/nms/rest"
	"github.com/gugahnugraha/nms-client-go/nms/store"
)

// frame is the server-side view of a client envelope.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func fastConfig(wsURL string) Config {
	cfg := DefaultConfig()
	cfg.WSURL = wsURL
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ReadTimeout = 0
	cfg.WriteTimeout = 2 * time.Second
	cfg.MaxReconnectAttempts = 3
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.ReplayRetryDelay = 20 * time.Millisecond
	return cfg
}

func connGuardian(t *testing.T) *SessionGuardian {
	t.Helper()
	g := NewSessionGuardian(rest.NewClient(""), store.NewMemory(), DefaultConfig(), noopLogger{})
	g.install(&Session{UserID: "me", AccessToken: signedToken(t, time.Hour), RefreshToken: "r1"})
	return g
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnectIdentifiesAndDispatches(t *testing.T) {
	frames := make(chan frame, 16)
	srv, wsURL := startWSServer(t, func(conn int, c *websocket.Conn, ctx context.Context) {
		for {
			var f frame
			if err := wsjson.Read(ctx, c, &f); err != nil {
				return
			}
			frames <- f
			if f.Type == inboundIdentify {
				raw, _ := json.Marshal(PresenceEvent{UserID: "u1"})
				_ = wsjson.Write(ctx, c, Outbound{Type: outboundEvent, Event: eventPresenceOnline, Data: raw})
			}
		}
	})
	defer srv.Close()

	var d Dispatcher
	online := make(chan PresenceEvent, 1)
	d.SubscribePresenceOnline(func(ev PresenceEvent) { online <- ev })

	cm := NewConnectionManager(fastConfig(wsURL), &d, connGuardian(t), noopLogger{})
	defer cm.Close()

	if err := cm.Connect(context.Background(), "me"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := cm.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}

	f := <-frames
	if f.Type != inboundIdentify {
		t.Fatalf("first frame = %q, want identify", f.Type)
	}
	var id IdentifyPayload
	json.Unmarshal(f.Data, &id)
	if id.Identity != "me" {
		t.Fatalf("identity = %q, want me", id.Identity)
	}

	select {
	case ev := <-online:
		if ev.UserID != "u1" {
			t.Fatalf("presence event for %q, want u1", ev.UserID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("presence event never dispatched")
	}

	if err := cm.Connect(context.Background(), "me"); err == nil {
		t.Fatalf("second Connect should fail while connected")
	}
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	frames := make(chan frame, 16)
	srv, wsURL := startWSServer(t, func(conn int, c *websocket.Conn, ctx context.Context) {
		if conn == 1 {
			// Read the handshake, then drop the connection abruptly.
			var f frame
			_ = wsjson.Read(ctx, c, &f)
			c.CloseNow()
			return
		}
		for {
			var f frame
			if err := wsjson.Read(ctx, c, &f); err != nil {
				return
			}
			frames <- f
		}
	})
	defer srv.Close()

	var d Dispatcher
	cm := NewConnectionManager(fastConfig(wsURL), &d, connGuardian(t), noopLogger{})
	defer cm.Close()

	cm.WatchDevices(context.Background(), []string{"sw-01", "sw-02"})
	if err := cm.Connect(context.Background(), "me"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The second connection must see identify followed by the replayed
	// device subscription.
	var got []string
	waitFor(t, "replay after reconnect", func() bool {
		for {
			select {
			case f := <-frames:
				got = append(got, f.Type)
			default:
				for _, ty := range got {
					if ty == inboundSubscribeDevices {
						return true
					}
				}
				return false
			}
		}
	})
	if got[0] != inboundIdentify {
		t.Fatalf("frames = %v, want identify first", got)
	}

	waitFor(t, "connected state", func() bool { return cm.State() == StateConnected })
	if got := cm.Attempts(); got != 0 {
		t.Fatalf("attempt counter = %d, want 0 after successful reconnect", got)
	}
}

func TestReconnectExhaustionAndRetryNow(t *testing.T) {
	srv, wsURL := startWSServer(t, func(conn int, c *websocket.Conn, ctx context.Context) {
		var f frame
		_ = wsjson.Read(ctx, c, &f)
		c.CloseNow()
	})

	cfg := fastConfig(wsURL)
	var d Dispatcher
	var connErrs int32
	d.SubscribeErrors(func(err error) {
		if IsConnectionError(err) {
			atomic.AddInt32(&connErrs, 1)
		}
	})

	cm := NewConnectionManager(cfg, &d, connGuardian(t), noopLogger{})
	defer cm.Close()

	if err := cm.Connect(context.Background(), "me"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Kill the server entirely: the drop triggers reconnects and every
	// attempt fails.
	addr := srv.addr
	srv.Close()

	waitFor(t, "failed state", func() bool { return cm.State() == StateFailed })
	if got := cm.Attempts(); got != cfg.MaxReconnectAttempts {
		t.Fatalf("attempts = %d, want %d", got, cfg.MaxReconnectAttempts)
	}
	if got := atomic.LoadInt32(&connErrs); got != 1 {
		t.Fatalf("connectivity errors surfaced = %d, want exactly 1", got)
	}

	// The server comes back; an external wake-up retries once and the
	// counter clears.
	srv2 := restartWSServer(t, addr, func(conn int, c *websocket.Conn, ctx context.Context) {
		for {
			var f frame
			if err := wsjson.Read(ctx, c, &f); err != nil {
				return
			}
		}
	})
	defer srv2.Close()

	if err := cm.RetryNow(context.Background()); err != nil {
		t.Fatalf("RetryNow: %v", err)
	}
	if got := cm.State(); got != StateConnected {
		t.Fatalf("state after RetryNow = %v, want connected", got)
	}
	if got := cm.Attempts(); got != 0 {
		t.Fatalf("attempts after RetryNow = %d, want 0", got)
	}
}

// wsServer is a minimal websocket test server with per-connection handlers.
type wsServer struct {
	srv  *http.Server
	addr string
}

func (s *wsServer) Close() { s.srv.Close() }

func startWSServer(t *testing.T, handle func(conn int, c *websocket.Conn, ctx context.Context)) (*wsServer, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return serveWS(t, l, handle), "ws://" + l.Addr().String()
}

func restartWSServer(t *testing.T, addr string, handle func(conn int, c *websocket.Conn, ctx context.Context)) *wsServer {
	t.Helper()
	var l net.Listener
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		l, err = net.Listen("tcp", strings.TrimPrefix(addr, "ws://"))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rebind %s: %v", addr, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return serveWS(t, l, handle)
}

func serveWS(t *testing.T, l net.Listener, handle func(conn int, c *websocket.Conn, ctx context.Context)) *wsServer {
	t.Helper()
	var conns int32
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer c.CloseNow()
		handle(int(atomic.AddInt32(&conns, 1)), c, r.Context())
	})}
	go srv.Serve(l)
	return &wsServer{srv: srv, addr: "ws://" + l.Addr().String()}
}
