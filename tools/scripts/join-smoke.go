// Package main is a CI-friendly smoke test for a running acteezer server.
//
// It expects the activity, organizer and requester to already exist in the database and
// validates:
//   - notification stream handshake + ready frame for the organizer
//   - eligibility check for the requester
//   - join request -> live activity_join_request notification
//   - approve -> activity_join_approved in the requester's inbox
//   - cancel frees the seat
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "acteezer.notifications.v1"
	maxReadBytes = 1 << 20
)

type frame struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	Notification *struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"notification"`
}

type participant struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type client struct {
	base    string
	http    *http.Client
	verbose bool
}

func main() {
	var (
		baseURL    = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		origin     = flag.String("origin", "http://localhost", "Origin header for the stream handshake")
		activityID = flag.String("activity", "", "Activity ID (must exist, with at least one free seat)")
		organizer  = flag.String("organizer", "", "Organizer user ID")
		requester  = flag.String("user", "", "Requesting user ID (must have no existing request)")
		timeout    = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if *activityID == "" || *organizer == "" || *requester == "" {
		fatalf("-activity, -organizer and -user are required")
	}
	u, err := url.Parse(*baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fatalf("invalid -url %q", *baseURL)
	}

	c := &client{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: *timeout}, verbose: *verbose}
	root := context.Background()

	conn, frames := mustStream(root, c.base, *organizer, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	var elig struct {
		Allowed bool   `json:"allowed"`
		Code    string `json:"code"`
	}
	c.mustDo(http.MethodGet, "/v1/activities/"+*activityID+"/eligibility", *requester, nil, http.StatusOK, &elig)
	if !elig.Allowed {
		fatalf("requester not eligible: code=%q", elig.Code)
	}

	var joined struct {
		Participant participant `json:"participant"`
	}
	c.mustDo(http.MethodPost, "/v1/activities/"+*activityID+"/participants", *requester,
		map[string]string{"message": "smoke test"}, http.StatusCreated, &joined)
	if joined.Participant.Status != "pending" {
		fatalf("join: status=%q want pending", joined.Participant.Status)
	}
	pid := joined.Participant.ID

	mustReadKind(root, frames, "activity_join_request", *timeout)

	var approved struct {
		Participant participant `json:"participant"`
	}
	c.mustDo(http.MethodPost, "/v1/activities/"+*activityID+"/participants/"+pid+"/approve", *organizer,
		map[string]string{"response": "see you there"}, http.StatusOK, &approved)
	if approved.Participant.Status != "approved" {
		fatalf("approve: status=%q want approved", approved.Participant.Status)
	}

	var inbox struct {
		Notifications []struct {
			Kind string `json:"kind"`
		} `json:"notifications"`
	}
	c.mustDo(http.MethodGet, "/v1/notifications?limit=10", *requester, nil, http.StatusOK, &inbox)
	found := false
	for _, n := range inbox.Notifications {
		if n.Kind == "activity_join_approved" {
			found = true
			break
		}
	}
	if !found {
		fatalf("requester inbox has no activity_join_approved record")
	}

	c.mustDo(http.MethodDelete, "/v1/activities/"+*activityID+"/participants/"+pid, *requester, nil, http.StatusOK, nil)

	fmt.Println("OK: join smoke passed")
}

func mustStream(parent context.Context, base, userID, origin string, stepTimeout time.Duration) (*websocket.Conn, <-chan frame) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/v1/notifications/stream"
	h := http.Header{}
	h.Set("X-User-ID", userID)
	if origin != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("stream connect: %v", err)
	}
	if got := conn.Subprotocol(); got != subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	out := make(chan frame, 64)
	go func() {
		defer close(out)
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				return
			}
			out <- f
		}
	}()

	select {
	case f, ok := <-out:
		if !ok || f.Type != "ready" || f.SessionID == "" {
			fatalf("stream: expected ready frame, got %+v", f)
		}
	case <-ctx.Done():
		fatalf("stream: timeout waiting for ready")
	}
	return conn, out
}

func mustReadKind(parent context.Context, frames <-chan frame, kind string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q notification", kind)
		case f, ok := <-frames:
			if !ok {
				fatalf("stream closed while waiting for %q", kind)
			}
			if f.Type == "notification" && f.Notification != nil && f.Notification.Kind == kind {
				return
			}
		}
	}
}

func (c *client) mustDo(method, path, userID string, body any, wantStatus int, out any) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal %s %s: %v", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		fatalf("build %s %s: %v", method, path, err)
	}
	req.Header.Set("X-User-ID", userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil && !errors.Is(err, io.EOF) {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	if c.verbose {
		fmt.Printf("%s %s -> %d %s\n", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
