package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/AgentForge/internal/port/broadcast"
)

func TestNewHub(t *testing.T) {
	hub := NewHub("", nil)
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub("", nil)

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub("", nil)

	// A channel cannot be marshaled to JSON; should log error, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub("", nil)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel})
}

func TestHubDeliversToClient(t *testing.T) {
	hub := NewHub("", nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = client.CloseNow() }()

	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })

	hub.BroadcastEvent(ctx, broadcast.EventDeploymentProgress, map[string]any{"progress": 40})

	_, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != broadcast.EventDeploymentProgress {
		t.Errorf("expected %s, got %s", broadcast.EventDeploymentProgress, msg.Type)
	}
	if string(msg.Payload) != `{"progress":40}` {
		t.Errorf("unexpected payload %s", msg.Payload)
	}

	_ = client.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return hub.ConnectionCount() == 0 })
}

func TestHubClose(t *testing.T) {
	hub := NewHub("", nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = client.CloseNow() }()
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })

	hub.Close()
	if hub.ConnectionCount() != 0 {
		t.Errorf("expected no connections after Close, got %d", hub.ConnectionCount())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewHubOriginPattern(t *testing.T) {
	tests := []struct {
		origin string
		want   []string
	}{
		{"", nil},
		{"http://localhost:5173", []string{"localhost:5173"}},
		{"dashboard.example.com", []string{"dashboard.example.com"}},
	}
	for _, tt := range tests {
		hub := NewHub(tt.origin, nil)
		if len(hub.origins) != len(tt.want) || (len(tt.want) == 1 && hub.origins[0] != tt.want[0]) {
			t.Errorf("NewHub(%q).origins = %v, want %v", tt.origin, hub.origins, tt.want)
		}
	}
}
