package notification

import (
	"context"
	"fmt"

	"grohe-sync-backend/internal/coordinator"
)

// Publisher publishes a JSON payload under a topic relative to the configured root.
type Publisher interface {
	Publish(topic string, payload any, retained bool) error
}

// StatePublisher mirrors every snapshot to retained topics below the appliance id.
type StatePublisher struct {
	publisher Publisher
}

// NewStatePublisher creates a handler that publishes through p.
func NewStatePublisher(p Publisher) *StatePublisher {
	return &StatePublisher{publisher: p}
}

func (s *StatePublisher) Name() string { return "mqtt" }

// Handle publishes <id>/state, <id>/status and <id>/total_consumption for snapshots and
// <id>/polling_interval for interval changes.
func (s *StatePublisher) Handle(ctx context.Context, u coordinator.Update) error {
	id := u.Device.ApplianceID

	if u.Kind == coordinator.IntervalChanged {
		return s.publish(id+"/polling_interval", int(u.Interval.Seconds()))
	}
	if u.Current == nil {
		return nil
	}

	if err := s.publish(id+"/state", u.Current); err != nil {
		return err
	}
	if u.Current.Status != nil {
		if err := s.publish(id+"/status", u.Current.Status); err != nil {
			return err
		}
	}
	if u.Current.TotalConsumption != nil {
		if err := s.publish(id+"/total_consumption", *u.Current.TotalConsumption); err != nil {
			return err
		}
	}
	return nil
}

func (s *StatePublisher) publish(topic string, payload any) error {
	if err := s.publisher.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
