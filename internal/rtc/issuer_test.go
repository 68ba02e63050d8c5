package rtc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStaticIssuer_IssuesSignedToken(t *testing.T) {
	iss := NewStaticIssuer("app-1", "k")
	iss.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }

	cred, err := iss.Issue(context.Background(), "call_h1_1", "u1", RolePublisher, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cred.Token == "" || !strings.Contains(cred.Token, ".") {
		t.Fatalf("expected signed token, got %q", cred.Token)
	}
	if cred.Channel != "call_h1_1" || cred.UID != "u1" || cred.Role != RolePublisher {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if !cred.ExpiresAt.Equal(time.Unix(1700000000, 0).Add(time.Hour).UTC()) {
		t.Fatalf("unexpected expiry: %v", cred.ExpiresAt)
	}

	// Deterministic for identical inputs.
	again, err := iss.Issue(context.Background(), "call_h1_1", "u1", RolePublisher, time.Hour)
	if err != nil {
		t.Fatalf("issue again: %v", err)
	}
	if again.Token != cred.Token {
		t.Fatalf("expected deterministic token")
	}
}

func TestStaticIssuer_RejectsBadInput(t *testing.T) {
	iss := NewStaticIssuer("app-1", "k")
	if _, err := iss.Issue(context.Background(), "", "u1", RolePublisher, time.Hour); err == nil {
		t.Fatalf("expected error for empty channel")
	}
	if _, err := iss.Issue(context.Background(), "ch", "u1", Role("owner"), time.Hour); err == nil {
		t.Fatalf("expected error for bad role")
	}
}

func TestHTTPIssuer_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"token":"opaque-token","appId":"app-9"}`))
	}))
	defer srv.Close()

	iss := NewHTTPIssuer(srv.URL, "app-1", "svc-key")
	cred, err := iss.Issue(context.Background(), "ch", "42", RoleSubscriber, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cred.Token != "opaque-token" || cred.AppID != "app-9" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
}

func TestHTTPIssuer_UpstreamFailureIsErrUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	iss := NewHTTPIssuer(srv.URL, "app-1", "")
	_, err := iss.Issue(context.Background(), "ch", "42", RolePublisher, time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPIssuer_ConnectFailureIsErrUnavailable(t *testing.T) {
	iss := NewHTTPIssuer("http://127.0.0.1:1", "app-1", "")
	iss.Client.Timeout = 200 * time.Millisecond
	_, err := iss.Issue(context.Background(), "ch", "42", RolePublisher, time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
