package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grohe-sync-backend/internal/coordinator"
	"grohe-sync-backend/internal/device"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// mockHandler records every update it handles.
type mockHandler struct {
	mu       sync.Mutex
	updates  []coordinator.Update
	HandleFn func(u coordinator.Update) error
}

func (m *mockHandler) Name() string { return "mock" }

func (m *mockHandler) Handle(ctx context.Context, u coordinator.Update) error {
	m.mu.Lock()
	m.updates = append(m.updates, u)
	m.mu.Unlock()
	if m.HandleFn != nil {
		return m.HandleFn(u)
	}
	return nil
}

func (m *mockHandler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

// mockPublisher records published topics.
type mockPublisher struct {
	published map[string]any
	err       error
}

func (m *mockPublisher) Publish(topic string, payload any, retained bool) error {
	if m.err != nil {
		return m.err
	}
	if m.published == nil {
		m.published = map[string]any{}
	}
	m.published[topic] = payload
	return nil
}

var kitchen = device.Identity{Name: "Kitchen", ApplianceID: "a1", Kind: device.KindSenseGuard}

func response(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewBufferString(""))}
}

func TestWorkerPool_Dispatch(t *testing.T) {
	wp := NewWorkerPool(1, 1, nil)

	assert.True(t, wp.Dispatch(coordinator.Update{Device: kitchen}))
	assert.False(t, wp.Dispatch(coordinator.Update{Device: kitchen}), "full queue drops instead of blocking")

	select {
	case job := <-wp.Jobs():
		assert.Equal(t, "a1", job.Device.ApplianceID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	failing := &mockHandler{HandleFn: func(u coordinator.Update) error { return errors.New("broker down") }}
	recording := &mockHandler{}
	wp := NewWorkerPool(2, 10, nil, failing, recording)

	ctx, cancel := context.WithCancel(context.Background())
	wp.Start(ctx)

	listener := wp.Listener()
	for i := 0; i < 5; i++ {
		listener(coordinator.Update{Device: kitchen})
	}

	assert.Eventually(t, func() bool { return recording.count() == 5 }, time.Second, 5*time.Millisecond,
		"a failing handler does not stop the others")
	assert.Equal(t, 5, failing.count())

	cancel()
	wp.Wait()
}

func TestStatePublisher(t *testing.T) {
	total := 1234.5
	snap := &coordinator.Snapshot{
		Details:          map[string]any{"appliance_id": "a1"},
		Status:           map[string]any{"connection": 1},
		TotalConsumption: &total,
	}

	t.Run("snapshot", func(t *testing.T) {
		pub := &mockPublisher{}
		h := NewStatePublisher(pub)

		err := h.Handle(context.Background(), coordinator.Update{Kind: coordinator.SnapshotUpdated, Device: kitchen, Current: snap})

		require.NoError(t, err)
		assert.Equal(t, snap, pub.published["a1/state"])
		assert.Equal(t, map[string]any{"connection": 1}, pub.published["a1/status"])
		assert.Equal(t, 1234.5, pub.published["a1/total_consumption"])
	})

	t.Run("interval change", func(t *testing.T) {
		pub := &mockPublisher{}
		h := NewStatePublisher(pub)

		err := h.Handle(context.Background(), coordinator.Update{Kind: coordinator.IntervalChanged, Device: kitchen, Interval: 90 * time.Second})

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a1/polling_interval": 90}, pub.published)
	})

	t.Run("publish error", func(t *testing.T) {
		h := NewStatePublisher(&mockPublisher{err: errors.New("client not connected")})

		err := h.Handle(context.Background(), coordinator.Update{Kind: coordinator.SnapshotUpdated, Device: kitchen, Current: snap})

		assert.ErrorContains(t, err, "a1/state")
	})
}

func TestStatusAlerter(t *testing.T) {
	subs := []*webpush.Subscription{
		{Endpoint: "https://example.com/push", Keys: webpush.Keys{P256dh: "p", Auth: "a"}},
		{Endpoint: "https://example.com/expired", Keys: webpush.Keys{P256dh: "p", Auth: "a"}},
	}
	before := &coordinator.Snapshot{Status: map[string]any{"leakage": 0, "wifi_quality": 3}}
	after := &coordinator.Snapshot{Status: map[string]any{"leakage": 1, "wifi_quality": 2}}

	testCases := []struct {
		name          string
		update        coordinator.Update
		expectedSends int
	}{
		{
			name:          "watched type changed",
			update:        coordinator.Update{Kind: coordinator.SnapshotUpdated, Device: kitchen, Previous: before, Current: after},
			expectedSends: 2,
		},
		{
			name:   "only unwatched type changed",
			update: coordinator.Update{Kind: coordinator.SnapshotUpdated, Device: kitchen, Previous: before, Current: &coordinator.Snapshot{Status: map[string]any{"leakage": 0, "wifi_quality": 1}}},
		},
		{
			name:   "first snapshot",
			update: coordinator.Update{Kind: coordinator.SnapshotUpdated, Device: kitchen, Current: after},
		},
		{
			name:   "unmappable status",
			update: coordinator.Update{Kind: coordinator.SnapshotUpdated, Device: kitchen, Previous: before, Current: &coordinator.Snapshot{}},
		},
		{
			name:   "interval change",
			update: coordinator.Update{Kind: coordinator.IntervalChanged, Device: kitchen, Current: after},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewStatusAlerter(&webpush.Options{}, subs, []string{"leakage"}, nil)
			var messages []Message
			a.sender = &mockSender{
				SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
					var msg Message
					require.NoError(t, json.Unmarshal(payload, &msg))
					messages = append(messages, msg)
					return response(http.StatusCreated), nil
				},
			}

			require.NoError(t, a.Handle(context.Background(), tc.update))

			assert.Len(t, messages, tc.expectedSends)
			for _, msg := range messages {
				assert.Equal(t, "Kitchen", msg.Title)
				assert.Equal(t, "leakage", msg.StatusType)
				assert.Equal(t, "leakage changed from 0 to 1", msg.Body)
				assert.Equal(t, float64(1), msg.Value)
			}
		})
	}
}

func TestStatusAlerter_RemovesExpiredSubscription(t *testing.T) {
	subs := []*webpush.Subscription{
		{Endpoint: "https://example.com/push"},
		{Endpoint: "https://example.com/expired"},
	}
	a := NewStatusAlerter(&webpush.Options{}, subs, []string{"leakage"}, nil)
	a.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			if sub.Endpoint == "https://example.com/expired" {
				return response(http.StatusGone), nil
			}
			return response(http.StatusCreated), nil
		},
	}

	update := coordinator.Update{
		Kind:     coordinator.SnapshotUpdated,
		Device:   kitchen,
		Previous: &coordinator.Snapshot{Status: map[string]any{"leakage": 0}},
		Current:  &coordinator.Snapshot{Status: map[string]any{"leakage": 1}},
	}
	require.NoError(t, a.Handle(context.Background(), update))

	remaining := a.Subscriptions()
	require.Len(t, remaining, 1)
	assert.Equal(t, "https://example.com/push", remaining[0].Endpoint)
}

func TestStatusAlerter_SendErrorIsLogged(t *testing.T) {
	a := NewStatusAlerter(&webpush.Options{}, []*webpush.Subscription{{Endpoint: "https://example.com/push"}}, []string{"leakage"}, nil)
	a.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}

	update := coordinator.Update{
		Kind:     coordinator.SnapshotUpdated,
		Device:   kitchen,
		Previous: &coordinator.Snapshot{Status: map[string]any{"leakage": 0}},
		Current:  &coordinator.Snapshot{Status: map[string]any{"leakage": 1}},
	}

	assert.NoError(t, a.Handle(context.Background(), update))
	assert.Len(t, a.Subscriptions(), 1, "send errors do not remove subscriptions")
}
