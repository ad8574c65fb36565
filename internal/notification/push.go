package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"grohe-sync-backend/internal/coordinator"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Message is the JSON body of a push notification.
type Message struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	ApplianceID string `json:"appliance_id"`
	StatusType  string `json:"status_type"`
	Value       any    `json:"value"`
}

// StatusAlerter pushes a notification to every subscription when a watched status type
// of an appliance changes value.
type StatusAlerter struct {
	options *webpush.Options
	sender  NotificationSender
	watch   map[string]bool
	logger  *zap.Logger

	mu            sync.Mutex
	subscriptions []*webpush.Subscription
}

// NewStatusAlerter creates an alerter for the given status types.
func NewStatusAlerter(options *webpush.Options, subscriptions []*webpush.Subscription, watch []string, logger *zap.Logger) *StatusAlerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := make(map[string]bool, len(watch))
	for _, t := range watch {
		w[t] = true
	}
	return &StatusAlerter{
		options:       options,
		sender:        &WebPushSender{},
		watch:         w,
		logger:        logger.Named("push"),
		subscriptions: subscriptions,
	}
}

func (a *StatusAlerter) Name() string { return "webpush" }

// Subscriptions returns the subscriptions that have not expired.
func (a *StatusAlerter) Subscriptions() []*webpush.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*webpush.Subscription, len(a.subscriptions))
	copy(out, a.subscriptions)
	return out
}

// Handle compares the status of the previous and current snapshot. The first snapshot
// of an appliance never alerts.
func (a *StatusAlerter) Handle(ctx context.Context, u coordinator.Update) error {
	if u.Kind != coordinator.SnapshotUpdated || u.Previous == nil || u.Current == nil {
		return nil
	}
	if u.Previous.Status == nil || u.Current.Status == nil {
		return nil
	}

	for _, statusType := range a.changed(u.Previous.Status, u.Current.Status) {
		value := u.Current.Status[statusType]
		msg := Message{
			Title:       u.Device.Name,
			Body:        fmt.Sprintf("%s changed from %v to %v", statusType, u.Previous.Status[statusType], value),
			ApplianceID: u.Device.ApplianceID,
			StatusType:  statusType,
			Value:       value,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode push message: %w", err)
		}
		a.broadcast(ctx, payload)
	}
	return nil
}

// changed returns the watched status types whose value differs, in stable order.
func (a *StatusAlerter) changed(prev, cur map[string]any) []string {
	var types []string
	for t := range a.watch {
		if !reflect.DeepEqual(prev[t], cur[t]) {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

func (a *StatusAlerter) broadcast(ctx context.Context, payload []byte) {
	for _, sub := range a.Subscriptions() {
		if ctx.Err() != nil {
			return
		}
		a.send(sub, payload)
	}
}

// send sends a single web push notification. Expired subscriptions are removed.
func (a *StatusAlerter) send(sub *webpush.Subscription, payload []byte) {
	resp, err := a.sender.Send(payload, sub, a.options)
	if err != nil {
		a.logger.Error("error sending notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		a.logger.Info("subscription expired, removing", zap.String("endpoint", sub.Endpoint))
		a.remove(sub.Endpoint)
	}
}

func (a *StatusAlerter) remove(endpoint string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var kept []*webpush.Subscription
	for _, s := range a.subscriptions {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	a.subscriptions = kept
}
