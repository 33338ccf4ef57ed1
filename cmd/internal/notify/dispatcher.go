package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"acteezer/cmd/internal/ids"

	"golang.org/x/sync/semaphore"
)

// Outcome is the result of the push decision for one record.
type Outcome string

const (
	PushSent          Outcome = "sent"
	PushFailed        Outcome = "failed"
	SkippedDisabled   Outcome = "skipped_disabled"
	SkippedFlag       Outcome = "skipped_flag"
	SkippedQuietHours Outcome = "skipped_quiet_hours"
	SkippedNoTokens   Outcome = "skipped_no_tokens"
)

// Observer receives dispatch counters.
type Observer interface {
	ObserveNotification(kind Kind)
	ObservePush(kind Kind, outcome Outcome)
}

type noopObserver struct{}

func (noopObserver) ObserveNotification(Kind)  {}
func (noopObserver) ObservePush(Kind, Outcome) {}

// Dispatcher persists one record per event, publishes it to live sessions, and makes at
// most one push attempt. Push failures are logged and never returned.
type Dispatcher struct {
	records  RecordStore
	prefs    PreferenceStore
	tokens   TokenStore
	gateway  PushGateway
	renderer *Renderer
	hub      *Hub
	observer Observer
	log      *slog.Logger
	now      func() time.Time

	location    *time.Location
	language    string
	pushTimeout time.Duration

	// async push
	sem      *semaphore.Weighted
	inflight sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher) error

// WithHub enables live fan-out of persisted records.
func WithHub(h *Hub) DispatcherOption {
	return func(d *Dispatcher) error {
		d.hub = h
		return nil
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) error {
		if o == nil {
			return ErrInvalidInput
		}
		d.observer = o
		return nil
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) error {
		if log != nil {
			d.log = log
		}
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) error {
		if now == nil {
			return ErrInvalidInput
		}
		d.now = now
		return nil
	}
}

// WithLocation sets the zone used for recipients without one (default: UTC).
func WithLocation(loc *time.Location) DispatcherOption {
	return func(d *Dispatcher) error {
		if loc == nil {
			return ErrInvalidInput
		}
		d.location = loc
		return nil
	}
}

// WithLanguage sets the copy language for recipients without one (default: "en").
func WithLanguage(lang string) DispatcherOption {
	return func(d *Dispatcher) error {
		d.language = strings.TrimSpace(lang)
		return nil
	}
}

// WithPushTimeout bounds one gateway call (default: 10s).
func WithPushTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) error {
		if timeout <= 0 {
			return ErrInvalidInput
		}
		d.pushTimeout = timeout
		return nil
	}
}

// WithAsyncPush moves push attempts off the caller's path, with at most workers gateway
// calls in flight. workers <= 0 keeps pushes inline.
func WithAsyncPush(workers int) DispatcherOption {
	return func(d *Dispatcher) error {
		if workers > 0 {
			d.sem = semaphore.NewWeighted(int64(workers))
		} else {
			d.sem = nil
		}
		return nil
	}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(records RecordStore, prefs PreferenceStore, tokens TokenStore, gateway PushGateway, opts ...DispatcherOption) (*Dispatcher, error) {
	if records == nil || prefs == nil || tokens == nil || gateway == nil {
		return nil, ErrInvalidInput
	}
	d := &Dispatcher{
		records:     records,
		prefs:       prefs,
		tokens:      tokens,
		gateway:     gateway,
		observer:    noopObserver{},
		log:         slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		location:    time.UTC,
		language:    "en",
		pushTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	r, err := NewRenderer(d.language)
	if err != nil {
		return nil, err
	}
	d.renderer = r
	return d, nil
}

// Dispatch persists a record for ev and then decides on a push.
// Only a failure to persist is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (Record, error) {
	ev.RecipientID = strings.TrimSpace(ev.RecipientID)
	if ev.Kind == "" || ev.RecipientID == "" {
		return Record{}, ErrInvalidInput
	}

	prefs, prefsErr := d.resolvePreferences(ctx, ev.RecipientID)

	title, body, err := d.renderer.Render(ev, prefs.Language)
	if err != nil {
		return Record{}, err
	}

	now := d.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Record{}, err
	}

	rec, err := d.records.Create(ctx, Record{
		ID:                id,
		RecipientID:       ev.RecipientID,
		Kind:              ev.Kind,
		Title:             title,
		Body:              body,
		RelatedActivityID: ev.ActivityID,
		RelatedUserID:     ev.ActorID,
		Data:              eventData(ev),
		CreatedAt:         now,
	})
	if err != nil {
		d.log.Error("notify.record.fail", "kind", string(ev.Kind), "recipient_id", ev.RecipientID, "err", err)
		return Record{}, err
	}
	d.observer.ObserveNotification(rec.Kind)
	d.hub.Publish(rec)

	if prefsErr != nil {
		// Without the recipient's settings an opt-out cannot be honored.
		d.observer.ObservePush(rec.Kind, PushFailed)
		return rec, nil
	}

	if d.sem == nil {
		if outcome, at := d.deliver(ctx, rec, prefs); outcome == PushSent {
			rec.IsPushed = true
			rec.PushedAt = &at
		}
		return rec, nil
	}

	bg := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if err := d.sem.Acquire(bg, 1); err != nil {
			return
		}
		defer d.sem.Release(1)
		d.deliver(bg, rec, prefs)
	}()
	return rec, nil
}

// Wait blocks until in-flight async pushes finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Decide applies the push policy: push_enabled, then the kind's flag, then quiet hours.
// It returns "" when a push may be attempted.
func Decide(p Preferences, kind Kind, at time.Time, fallback *time.Location) Outcome {
	if !p.PushEnabled {
		return SkippedDisabled
	}
	if !p.AllowsKind(kind) {
		return SkippedFlag
	}
	if p.InQuietHours(at, fallback) {
		return SkippedQuietHours
	}
	return ""
}

// deliver returns the push outcome and, on PushSent, the time stored as pushed_at.
func (d *Dispatcher) deliver(ctx context.Context, rec Record, prefs Preferences) (Outcome, time.Time) {
	outcome, at := d.attempt(ctx, rec, prefs)
	d.observer.ObservePush(rec.Kind, outcome)
	return outcome, at
}

func (d *Dispatcher) attempt(ctx context.Context, rec Record, prefs Preferences) (Outcome, time.Time) {
	if skip := Decide(prefs, rec.Kind, d.now(), d.location); skip != "" {
		d.log.Debug("notify.push.skip", "notification_id", rec.ID, "recipient_id", rec.RecipientID, "reason", string(skip))
		return skip, time.Time{}
	}

	tokens, err := d.tokens.ActiveTokens(ctx, rec.RecipientID)
	if err != nil {
		d.log.Warn("notify.push.tokens_fail", "notification_id", rec.ID, "recipient_id", rec.RecipientID, "err", err)
		return PushFailed, time.Time{}
	}
	if len(tokens) == 0 {
		d.log.Debug("notify.push.skip", "notification_id", rec.ID, "recipient_id", rec.RecipientID, "reason", string(SkippedNoTokens))
		return SkippedNoTokens, time.Time{}
	}

	data := cloneData(rec.Data)
	if data == nil {
		data = make(map[string]string, 2)
	}
	data["notification_id"] = rec.ID
	data["notification_type"] = string(rec.Kind)

	sendCtx, cancel := context.WithTimeout(ctx, d.pushTimeout)
	deliveryID, err := d.gateway.Send(sendCtx, Message{
		Tokens:    tokens,
		Title:     rec.Title,
		Body:      rec.Body,
		Data:      data,
		ChannelID: ChannelFor(rec.Kind),
	})
	cancel()
	if err != nil {
		d.log.Warn("notify.push.fail", "notification_id", rec.ID, "recipient_id", rec.RecipientID, "tokens", len(tokens), "err", err)
		return PushFailed, time.Time{}
	}

	at := d.now()
	if err := d.records.MarkPushed(ctx, rec.ID, at); err != nil {
		d.log.Error("notify.push.mark_fail", "notification_id", rec.ID, "err", err)
		return PushFailed, time.Time{}
	}
	d.log.Info("notify.push.sent", "notification_id", rec.ID, "recipient_id", rec.RecipientID, "delivery_id", deliveryID, "tokens", len(tokens))
	return PushSent, at
}

func (d *Dispatcher) resolvePreferences(ctx context.Context, userID string) (Preferences, error) {
	p, ok, err := d.prefs.GetPreferences(ctx, userID)
	if err != nil {
		d.log.Warn("notify.prefs.fail", "recipient_id", userID, "err", err)
		return DefaultPreferences(), err
	}
	if !ok {
		return DefaultPreferences(), nil
	}
	return p, nil
}

func eventData(ev Event) map[string]string {
	data := cloneData(ev.Data)
	if ev.ActivityID != "" && IsActivityKind(ev.Kind) {
		if data == nil {
			data = make(map[string]string, 3)
		}
		if _, ok := data["screen"]; !ok {
			data["screen"] = "ActivityDetail"
		}
		data["activityId"] = ev.ActivityID
		if ev.ParticipantID != "" {
			data["participantId"] = ev.ParticipantID
		}
	}
	return data
}
