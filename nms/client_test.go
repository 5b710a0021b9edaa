package nms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/gugahnugraha/nms-client-go/nms/rest"
)

func TestNewClientInMemory(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestConnectRequiresLogin(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if err := c.Connect(context.Background()); !IsAuthError(err) {
		t.Fatalf("Connect without login: got %v, want auth error", err)
	}
}

func TestLoginConnectFlow(t *testing.T) {
	token := signedToken(t, time.Hour)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(rest.SessionResponse{UserID: "me", AccessToken: token, RefreshToken: "r1"})
	}))
	defer api.Close()

	srv, wsURL := startWSServer(t, func(conn int, c *websocket.Conn, ctx context.Context) {
		for {
			var f frame
			if err := wsjson.Read(ctx, c, &f); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	cfg := fastConfig(wsURL)
	cfg.RESTBaseURL = api.URL
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Login(context.Background(), "operator", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := c.Session().UserID(); got != "me" {
		t.Fatalf("UserID = %q, want me", got)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Presence().Online("me") {
		t.Fatalf("local identity not self-registered in presence")
	}
	if got := c.Connection().State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
}
