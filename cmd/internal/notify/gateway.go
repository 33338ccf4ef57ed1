package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultExpoPushURL is Expo's push send endpoint.
const DefaultExpoPushURL = "https://exp.host/--/api/v2/push/send"

// ErrTransport wraps every push delivery failure.
var ErrTransport = errors.New("push transport failure")

// Message is one batched push to all of a recipient's devices.
type Message struct {
	Tokens    []string
	Title     string
	Body      string
	Data      map[string]string
	ChannelID string
}

// PushGateway delivers a message to device tokens and returns a delivery id.
type PushGateway interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ExpoGateway sends pushes through the Expo push HTTP API.
type ExpoGateway struct {
	url         string
	accessToken string
	client      *http.Client
}

// ExpoOption configures ExpoGateway.
type ExpoOption func(*ExpoGateway)

// WithAccessToken sets the Expo access token (enhanced push security).
func WithAccessToken(token string) ExpoOption {
	return func(g *ExpoGateway) { g.accessToken = strings.TrimSpace(token) }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ExpoOption {
	return func(g *ExpoGateway) {
		if c != nil {
			g.client = c
		}
	}
}

// NewExpoGateway constructs an ExpoGateway. An empty url uses DefaultExpoPushURL.
func NewExpoGateway(url string, timeout time.Duration, opts ...ExpoOption) *ExpoGateway {
	url = strings.TrimSpace(url)
	if url == "" {
		url = DefaultExpoPushURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g := &ExpoGateway{url: url, client: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

type expoMessage struct {
	To        string            `json:"to"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Sound     string            `json:"sound"`
	Priority  string            `json:"priority"`
	ChannelID string            `json:"channelId"`
	Data      map[string]string `json:"data,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send posts one request containing a message per token.
// It succeeds when at least one ticket is accepted.
func (g *ExpoGateway) Send(ctx context.Context, msg Message) (string, error) {
	if len(msg.Tokens) == 0 {
		return "", fmt.Errorf("%w: no tokens", ErrTransport)
	}
	channel := msg.ChannelID
	if channel == "" {
		channel = "default"
	}

	batch := make([]expoMessage, 0, len(msg.Tokens))
	for _, tok := range msg.Tokens {
		batch = append(batch, expoMessage{
			To:        tok,
			Title:     msg.Title,
			Body:      msg.Body,
			Sound:     "default",
			Priority:  "high",
			ChannelID: channel,
			Data:      msg.Data,
		})
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.accessToken)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	var out expoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	if len(out.Errors) > 0 {
		return "", fmt.Errorf("%w: %s", ErrTransport, out.Errors[0].Message)
	}
	for _, t := range out.Data {
		if t.Status == "ok" {
			return t.ID, nil
		}
	}
	if len(out.Data) > 0 {
		return "", fmt.Errorf("%w: %s", ErrTransport, out.Data[0].Message)
	}
	return "", fmt.Errorf("%w: empty response", ErrTransport)
}

// LogGateway only logs pushes. It is used when push delivery is disabled.
type LogGateway struct {
	Log *slog.Logger
}

// Send implements PushGateway.
func (g LogGateway) Send(_ context.Context, msg Message) (string, error) {
	log := g.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notify.push.logged", "tokens", len(msg.Tokens), "title", msg.Title, "channel", msg.ChannelID)
	return "log", nil
}
