package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hostlink-platform/internal/signaling"
)

func newTestHub() *Hub {
	return NewHub(nil, slog.New(slog.NewTextHandler(testWriter{}, nil)))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func stubVerify(t *testing.T, wantToken, userID, role string) VerifyFunc {
	return func(token string) (string, string, error) {
		if token != wantToken {
			return "", "", errors.New("bad token")
		}
		return userID, role, nil
	}
}

func dialWS(t *testing.T, serverURL, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	return conn
}

func TestHandleWS_RejectsMissingAndInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := newTestHub()

	r := gin.New()
	r.GET("/ws", hub.HandleWS(stubVerify(t, "good", "u1", "customer"), nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil); err == nil {
		t.Fatalf("expected dial without token to fail")
	}
	if _, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?token=bad", nil); err == nil {
		t.Fatalf("expected dial with bad token to fail")
	}
}

func TestHub_DeliversEventToConnectedUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := newTestHub()

	r := gin.New()
	r.GET("/ws", hub.HandleWS(stubVerify(t, "tok-c1", "c1", "customer"), nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialWS(t, srv.URL, "tok-c1")
	defer conn.Close()

	// Wait for registration before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount("c1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := &signaling.CallRequest{ID: "r1", CustomerID: "c1", HostID: "h1", Status: signaling.RequestStatusAccepted}
	hub.NotifyCallEvent(context.Background(), signaling.CallEvent{
		Type:    signaling.EventRequestAccepted,
		UserID:  "c1",
		Request: req,
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != signaling.EventRequestAccepted {
		t.Fatalf("expected %s, got %s", signaling.EventRequestAccepted, env.Type)
	}
	if env.Request == nil || env.Request.ID != "r1" {
		t.Fatalf("expected request r1 in frame, got %+v", env.Request)
	}
}

func TestHub_EventForOtherUserIsNotDelivered(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := newTestHub()

	r := gin.New()
	r.GET("/ws", hub.HandleWS(stubVerify(t, "tok-c1", "c1", "customer"), nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialWS(t, srv.URL, "tok-c1")
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount("c1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.NotifyCallEvent(context.Background(), signaling.CallEvent{
		Type:   signaling.EventRequestCreated,
		UserID: "someone-else",
	})

	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no frame for another user's event")
	}
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	hub := newTestHub()
	c := &client{userID: "u1", send: make(chan []byte, 1)}
	hub.register(c)
	defer func() {
		// drain what landed so unregister's close is safe to observe
		hub.unregister(c)
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.NotifyCallEvent(context.Background(), signaling.CallEvent{Type: signaling.EventRequestCreated, UserID: "u1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("NotifyCallEvent blocked on a slow client")
	}
}
