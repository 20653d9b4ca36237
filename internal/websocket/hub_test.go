package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBalanceUpdateReachesOnlyItsUser(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("user"), nil)
	}))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=u1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	other, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=u2", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer other.Close()
	waitFor(t, func() bool { return hub.Connected("u1") == 1 && hub.Connected("u2") == 1 })

	hub.BroadcastBalance(BalanceUpdate{UserID: "u1", Balance: "5.00", Delta: "5.00", Reason: "referral_bonus"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got BalanceUpdate
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Balance != "5.00" || got.Reason != "referral_bonus" {
		t.Fatalf("unexpected update %+v", got)
	}

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatalf("u2 must not receive u1's balance")
	}
}

func TestClientUnregistersOnClose(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "u1", nil)
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, func() bool { return hub.Connected("u1") == 1 })
	_ = conn.Close()
	waitFor(t, func() bool { return hub.Connected("u1") == 0 })
}

func TestBroadcastWithoutClientsIsNoop(t *testing.T) {
	hub := NewHub()
	hub.BroadcastBalance(BalanceUpdate{UserID: "nobody", Balance: "1.00"})
	if hub.Connected("nobody") != 0 {
		t.Fatalf("expected no clients")
	}
}

func TestSnapshotIsSentFirst(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "u1", &BalanceUpdate{UserID: "u1", Balance: "12.50", Delta: "0.00", Reason: "snapshot"})
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var got BalanceUpdate
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Reason != "snapshot" || got.Balance != "12.50" {
		t.Fatalf("unexpected first frame %+v", got)
	}
}

func TestOriginAllowList(t *testing.T) {
	hub := NewHub("https://app.example.com")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "u1", nil)
	}))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil {
		t.Fatalf("foreign origin must be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://app.example.com"}})
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	_ = conn.Close()
}
