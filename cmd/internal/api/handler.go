// Package api is the HTTP/JSON surface over the participation engine and the notification inbox.
//
// Callers are identified by the X-User-ID header, which an upstream gateway is trusted to set.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"acteezer/cmd/internal/activity"
	"acteezer/cmd/internal/eligibility"
	"acteezer/cmd/internal/notify"
	"acteezer/cmd/internal/participation"
)

// UserHeader carries the authenticated caller id.
const UserHeader = "X-User-ID"

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 100
)

// Participation is the engine surface the handlers drive.
type Participation interface {
	CanJoin(ctx context.Context, activityID, userID string) (eligibility.Decision, error)
	RequestJoin(ctx context.Context, in participation.RequestJoinInput) (activity.Participant, error)
	Approve(ctx context.Context, in participation.DecisionInput) (activity.Participant, error)
	Reject(ctx context.Context, in participation.DecisionInput) (activity.Participant, error)
	CancelJoin(ctx context.Context, in participation.CancelInput) (activity.Participant, error)
	ListParticipants(ctx context.Context, activityID, viewerID string) ([]activity.Participant, error)
}

// Inbox reads and acknowledges a user's notification records.
type Inbox interface {
	List(ctx context.Context, recipientID string, limit int) ([]notify.Record, error)
	MarkAllRead(ctx context.Context, recipientID string) (int, error)
}

// RateObserver counts refused join requests.
type RateObserver interface {
	ObserveRateLimited()
}

// Config controls API limits.
type Config struct {
	MaxBodyBytes   int64
	JoinRateEvents int
	JoinRateWindow time.Duration
	Stream         StreamConfig
}

// Handler wires HTTP endpoints to the engine.
type Handler struct {
	log   *slog.Logger
	cfg   Config
	now   func() time.Time
	svc   Participation
	inbox Inbox
	hub   *notify.Hub

	joinLimiter *RateLimiter
	rateObs     RateObserver
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithRateObserver reports refused join requests.
func WithRateObserver(o RateObserver) HandlerOption {
	return func(h *Handler) {
		if o != nil {
			h.rateObs = o
		}
	}
}

// WithClock overrides the time source used by the rate limiter.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. A nil hub disables the notification stream.
func NewHandler(log *slog.Logger, cfg Config, svc Participation, inbox Inbox, hub *notify.Hub, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	cfg.Stream = cfg.Stream.withDefaults()

	h := &Handler{
		log:         log,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		svc:         svc,
		inbox:       inbox,
		hub:         hub,
		joinLimiter: NewRateLimiter(cfg.JoinRateEvents, cfg.JoinRateWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /v1/activities/{activityID}/eligibility", h.handleEligibility)
	mux.HandleFunc("POST /v1/activities/{activityID}/participants", h.handleRequestJoin)
	mux.HandleFunc("GET /v1/activities/{activityID}/participants", h.handleListParticipants)
	mux.HandleFunc("POST /v1/activities/{activityID}/participants/{participantID}/approve", h.handleApprove)
	mux.HandleFunc("POST /v1/activities/{activityID}/participants/{participantID}/reject", h.handleReject)
	mux.HandleFunc("DELETE /v1/activities/{activityID}/participants/{participantID}", h.handleCancel)

	mux.HandleFunc("GET /v1/notifications", h.handleInbox)
	mux.HandleFunc("POST /v1/notifications/read", h.handleMarkRead)
	mux.HandleFunc("GET /v1/notifications/stream", h.handleStream)
}

// ---- participation ----

func (h *Handler) handleEligibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	activityID, ok := pathID(w, r, "activityID")
	if !ok {
		return
	}

	d, err := h.svc.CanJoin(r.Context(), activityID, userID)
	if err != nil {
		writeServiceError(w, h.log, "api.eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, toEligibilityResponse(d))
}

func (h *Handler) handleRequestJoin(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	activityID, ok := pathID(w, r, "activityID")
	if !ok {
		return
	}

	var req joinRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	if allowed, retryAfter := h.joinLimiter.Allow(userID, h.now()); !allowed {
		if h.rateObs != nil {
			h.rateObs.ObserveRateLimited()
		}
		h.log.Info("api.join.rate_limited", "user_id", userID, "activity_id", activityID)
		writeRateLimited(w, retryAfter)
		return
	}

	p, err := h.svc.RequestJoin(r.Context(), participation.RequestJoinInput{
		ActivityID: activityID,
		UserID:     userID,
		Message:    req.Message,
	})
	if err != nil {
		writeServiceError(w, h.log, "api.join", err)
		return
	}
	writeJSON(w, http.StatusCreated, participantEnvelope{Participant: toParticipantResponse(p)})
}

func (h *Handler) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	activityID, ok := pathID(w, r, "activityID")
	if !ok {
		return
	}

	list, err := h.svc.ListParticipants(r.Context(), activityID, userID)
	if err != nil {
		writeServiceError(w, h.log, "api.participants.list", err)
		return
	}
	out := participantsResponse{Participants: make([]participantResponse, 0, len(list))}
	for _, p := range list {
		out.Participants = append(out.Participants, toParticipantResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, "api.approve", h.svc.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleDecision(w, r, "api.reject", h.svc.Reject)
}

func (h *Handler) handleDecision(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	decide func(context.Context, participation.DecisionInput) (activity.Participant, error),
) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	activityID, ok := pathID(w, r, "activityID")
	if !ok {
		return
	}
	participantID, ok := pathID(w, r, "participantID")
	if !ok {
		return
	}

	var req decisionRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return
	}

	p, err := decide(r.Context(), participation.DecisionInput{
		ActivityID:    activityID,
		ParticipantID: participantID,
		OrganizerID:   userID,
		Response:      req.Response,
	})
	if err != nil {
		writeServiceError(w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, participantEnvelope{Participant: toParticipantResponse(p)})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	activityID, ok := pathID(w, r, "activityID")
	if !ok {
		return
	}
	participantID, ok := pathID(w, r, "participantID")
	if !ok {
		return
	}

	p, err := h.svc.CancelJoin(r.Context(), participation.CancelInput{
		ActivityID:    activityID,
		ParticipantID: participantID,
		UserID:        userID,
	})
	if err != nil {
		writeServiceError(w, h.log, "api.cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, participantEnvelope{Participant: toParticipantResponse(p)})
}

// ---- inbox ----

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	limit := defaultInboxLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || validate.Var(n, "min=1,max="+strconv.Itoa(maxInboxLimit)) != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and "+strconv.Itoa(maxInboxLimit))
			return
		}
		limit = n
	}

	list, err := h.inbox.List(r.Context(), userID, limit)
	if err != nil {
		h.log.Error("api.inbox.fail", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if list == nil {
		list = []notify.Record{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Notifications: list})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	n, err := h.inbox.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.log.Error("api.inbox.read.fail", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{Updated: n})
}

// ---- helpers ----

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" || validate.Var(userID, "max=64,printascii") != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid "+UserHeader)
		return "", false
	}
	return userID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.PathValue(name))
	if err := validate.Var(v, "required,max=64,printascii"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+name)
		return "", false
	}
	return v, true
}
