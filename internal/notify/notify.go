// Package notify implements the Notification Dispatcher: it watches
// registry transitions and pushes web-push and Slack notifications to
// subscribed clients, with cooldown, retry/backoff and dead-subscription
// cleanup.
package notify

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/slack-go/slack"
)

// EventKind is a notification-worthy state transition.
type EventKind string

const (
	EventWaitingPermission EventKind = "pane.waiting_permission"
	EventTaskCompleted     EventKind = "pane.task_completed"
)

// Transition is the minimal shape the dispatcher needs from a registry
// update: the pane ID and its previous and next state, plus the source
// that produced next (poll/hook/restore).
type Transition struct {
	PaneID    string
	PrevState string
	NextState string
	Source    string
	HasPrev   bool
}

// kindFor maps a transition to a notification kind, or "" for transitions
// that should not notify.
func kindFor(t Transition) EventKind {
	if t.PrevState == "RUNNING" && t.NextState == "WAITING_PERMISSION" {
		return EventWaitingPermission
	}
	if t.PrevState == "RUNNING" && t.NextState == "WAITING_INPUT" {
		return EventTaskCompleted
	}
	return ""
}

// Subscription describes one client's delivery target and filter.
type Subscription struct {
	ID      string
	PaneIDs []string    // empty/nil = wildcard
	Events  []EventKind // nil = use the dispatcher's global enabled set

	Cooldown        time.Duration
	LastDeliveredAt time.Time

	WebPush *webpush.Subscription
	Slack   *SlackTarget
}

// SlackTarget addresses a Slack channel/user via slack-go.
type SlackTarget struct {
	ChannelID string
}

func (s *Subscription) matchesPane(paneID string) bool {
	if len(s.PaneIDs) == 0 {
		return true
	}
	for _, id := range s.PaneIDs {
		if id == paneID {
			return true
		}
	}
	return false
}

func (s *Subscription) matchesKind(kind EventKind, enabled []EventKind) bool {
	types := s.Events
	if types == nil {
		types = enabled
	}
	for _, k := range types {
		if k == kind {
			return true
		}
	}
	return false
}

// VAPIDKeys are the Dispatcher's persisted web-push signing keys.
type VAPIDKeys struct {
	PrivateKey string
	PublicKey  string
}

// Sender abstracts webpush.SendNotification so Dispatcher can be tested
// without hitting a real push endpoint.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)
}

type realSender struct{}

func (realSender) Send(payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, opts)
}

// SlackPoster abstracts the slack-go client call Dispatcher uses, for
// the same testability reason as Sender.
type SlackPoster interface {
	PostMessage(channelID string, text string) error
}

type slackPoster struct{ client *slack.Client }

func (p slackPoster) PostMessage(channelID, text string) error {
	_, _, err := p.client.PostMessage(channelID, slack.MsgOptionText(text, false))
	return err
}

func NewSlackPoster(token string) SlackPoster {
	return slackPoster{client: slack.New(token)}
}

// Dispatcher is the full Notification Dispatcher.
type Dispatcher struct {
	Logger *slog.Logger

	VAPIDPublic, VAPIDPrivate string
	Subscriber                string // mailto: contact required by webpush-go

	EnabledEventTypes []EventKind

	sender Sender
	slack  SlackPoster

	mu            sync.Mutex
	subscriptions map[string]*Subscription
	lastState     map[string]string // paneID -> last observed state, for first-observation detection

	wg sync.WaitGroup // in-flight deliver goroutines, for graceful shutdown and tests
}

func NewDispatcher(keys VAPIDKeys, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Logger:            logger,
		VAPIDPublic:       keys.PublicKey,
		VAPIDPrivate:      keys.PrivateKey,
		Subscriber:        "mailto:vde-monitor@localhost",
		EnabledEventTypes: []EventKind{EventWaitingPermission, EventTaskCompleted},
		sender:            realSender{},
		subscriptions:     make(map[string]*Subscription),
		lastState:         make(map[string]string),
	}
}

// SetSlackPoster wires a Slack delivery channel; nil disables it.
func (d *Dispatcher) SetSlackPoster(p SlackPoster) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slack = p
}

func (d *Dispatcher) Subscribe(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscriptions[sub.ID] = sub
}

func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscriptions, id)
}

// Observe is called once per registry update, in registry.onChanged
// order, and performs the full skip/kind/filter/cooldown/deliver pipeline.
func (d *Dispatcher) Observe(paneID, nextState, reason, source string, now time.Time) {
	d.mu.Lock()
	prevState, hadPrev := d.lastState[paneID]
	d.lastState[paneID] = nextState
	d.mu.Unlock()

	if source == "restore" || !hadPrev {
		return
	}

	t := Transition{PaneID: paneID, PrevState: prevState, NextState: nextState, Source: source, HasPrev: hadPrev}
	kind := kindFor(t)
	if kind == "" {
		return
	}

	d.mu.Lock()
	var targets []*Subscription
	for _, sub := range d.subscriptions {
		if !sub.matchesPane(paneID) || !sub.matchesKind(kind, d.EnabledEventTypes) {
			continue
		}
		if sub.Cooldown > 0 && now.Sub(sub.LastDeliveredAt) < sub.Cooldown {
			continue
		}
		// Recorded at dispatch time rather than after the goroutine below
		// confirms delivery: cooldown gates how often we attempt to
		// notify, and delivery now happens off-tick, so the next Observe
		// call (possibly before this attempt's network round trip
		// finishes) must already see the gate closed.
		sub.LastDeliveredAt = now
		targets = append(targets, sub)
	}
	d.mu.Unlock()

	// deliver retries over a real backoff schedule and hits the network;
	// Observe is called synchronously from the monitor's single-writer
	// tick, so delivery must not block it. Each target is dispatched on
	// its own goroutine rather than run inline.
	for _, sub := range targets {
		sub := sub
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(sub, kind, paneID, reason, now)
		}()
	}
}

// WaitIdle blocks until every in-flight delivery goroutine has finished.
// Callers use it during graceful shutdown so the process doesn't exit
// mid-retry; it has no effect on Observe's own (synchronous) bookkeeping.
func (d *Dispatcher) WaitIdle() {
	d.wg.Wait()
}

var backoffSchedule = []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond}

func (d *Dispatcher) deliver(sub *Subscription, kind EventKind, paneID, reason string, now time.Time) {
	payload := []byte(`{"kind":"` + string(kind) + `","paneId":"` + paneID + `","reason":"` + reason + `"}`)

	if sub.Slack != nil && d.slack != nil {
		if err := d.slack.PostMessage(sub.Slack.ChannelID, string(payload)); err != nil {
			d.Logger.Warn("slack delivery failed", "subscription", sub.ID, "err", err)
		} else {
			d.markDelivered(sub, now)
		}
		return
	}

	if sub.WebPush == nil {
		return
	}

	var lastErr error
	for _, delay := range backoffSchedule {
		if delay > 0 {
			time.Sleep(delay)
		}
		resp, err := d.sender.Send(payload, sub.WebPush, &webpush.Options{
			VAPIDPublicKey:  d.VAPIDPublic,
			VAPIDPrivateKey: d.VAPIDPrivate,
			Subscriber:      d.Subscriber,
		})
		if err != nil {
			lastErr = err
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()

		switch {
		case status >= 200 && status < 300:
			d.markDelivered(sub, now)
			return
		case status == http.StatusGone:
			d.Unsubscribe(sub.ID)
			return
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			d.Unsubscribe(sub.ID)
			return
		case status >= 400 && status < 500:
			// non-retried client error
			return
		default:
			lastErr = errors.New(http.StatusText(status))
		}
	}
	if lastErr != nil {
		d.Logger.Warn("push delivery failed after retries", "subscription", sub.ID, "err", lastErr)
	}
}

func (d *Dispatcher) markDelivered(sub *Subscription, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.subscriptions[sub.ID]; ok {
		s.LastDeliveredAt = now
	}
}
