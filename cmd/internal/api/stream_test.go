package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"acteezer/cmd/internal/notify"

	"github.com/coder/websocket"
)

func TestStream_DeliversPersistedRecords(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 5, Config{})
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/notifications/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{streamSubprotocol},
		HTTPHeader:   http.Header{UserHeader: []string{"org"}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ready := readFrame(ctx, t, conn)
	if ready.Type != "ready" || ready.SessionID == "" {
		t.Fatalf("unexpected first frame: %+v", ready)
	}
	if n := env.hub.Sessions("org"); n != 1 {
		t.Fatalf("sessions=%d want 1", n)
	}

	if rr := env.do(t, http.MethodPost, "/v1/activities/act-1/participants", "u1", ""); rr.Code != http.StatusCreated {
		t.Fatalf("join status=%d", rr.Code)
	}

	frame := readFrame(ctx, t, conn)
	if frame.Type != "notification" || frame.Notification == nil {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if frame.Notification.Kind != notify.KindActivityJoinRequest || frame.Notification.RecipientID != "org" {
		t.Fatalf("unexpected record: %+v", frame.Notification)
	}
}

func TestStream_RequiresUser(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 5, Config{})
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/notifications/stream"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without user")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestStream_IgnoresQueryIdentity(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 5, Config{})
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/notifications/stream?user_id=org"
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "done")
		t.Fatalf("expected dial to fail without %s header", UserHeader)
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
	if n := env.hub.Sessions("org"); n != 0 {
		t.Fatalf("sessions=%d want 0", n)
	}
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) streamFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f streamFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}
