package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"acteezer/cmd/internal/notify"

	"github.com/coder/websocket"
)

const (
	streamSubprotocol = "acteezer.notifications.v1"

	defaultStreamQueue     = 64
	defaultStreamWrite     = 5 * time.Second
	defaultStreamHeartbeat = 25 * time.Second
	defaultStreamPingWait  = 5 * time.Second

	maxPingFailures = 3
)

// StreamConfig tunes the notification websocket.
type StreamConfig struct {
	// AllowedOrigins lists origins (scheme://host[:port] or host) permitted cross-origin.
	AllowedOrigins    []string
	QueueSize         int
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultStreamQueue
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultStreamWrite
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultStreamHeartbeat
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultStreamPingWait
	}
	return c
}

// handleStream pushes every record persisted for the caller while the socket is open.
// The caller is identified only by the gateway-set header; query parameters are ignored.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stream_disabled", "notification stream not configured")
		return
	}
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	cfg := h.cfg.Stream
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{streamSubprotocol},
		OriginPatterns: originPatterns(cfg.AllowedOrigins),
	})
	if err != nil {
		h.log.Info("api.stream.accept.fail", "user_id", userID, "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	sessionID := newSessionID()
	sub := notify.NewSubscriber(userID, sessionID, cfg.QueueSize)
	h.hub.Subscribe(sub)
	defer h.hub.Unsubscribe(userID, sessionID)

	// The stream is server -> client only; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	h.log.Info("api.stream.open", "user_id", userID, "session_id", sessionID)
	defer h.log.Info("api.stream.close", "user_id", userID, "session_id", sessionID)

	if err := writeFrame(ctx, conn, streamFrame{Type: "ready", SessionID: sessionID}, cfg.WriteTimeout); err != nil {
		return
	}

	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case rec := <-sub.Send:
			if err := writeFrame(ctx, conn, streamFrame{Type: "notification", Notification: &rec}, cfg.WriteTimeout); err != nil {
				h.log.Info("api.stream.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
				_ = conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, cfg.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				failures++
				h.log.Info("api.stream.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func writeFrame(parent context.Context, conn *websocket.Conn, f streamFrame, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func newSessionID() string {
	return strings.ToLower(rand.Text())
}

// originPatterns reduces allowed origins to the host[:port] patterns websocket.Accept
// matches against. Each host is allowed on any port.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	out := make([]string, 0, 2*len(allowed))
	for _, a := range allowed {
		h := originHost(a)
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if h == "*" {
			out = append(out, h)
			continue
		}
		out = append(out, h, h+":*")
	}
	return out
}

func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if s == "*" {
		return s
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}
