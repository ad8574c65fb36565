package coordinator

import (
	"fmt"
	"time"

	"grohe-sync-backend/internal/device"
)

// RefreshPolicy configures the refresh-and-verify cycle of an appliance kind.
type RefreshPolicy struct {
	// PollInterval is the pause before each poll for fresh data.
	PollInterval time.Duration
	// Timeout bounds the polling phase; at most Timeout/PollInterval polls are made.
	Timeout time.Duration
	// TimestampPath is the dotted path of the measurement timestamp, rooted at the
	// snapshot document ("details", "status", "pressure").
	TimestampPath string
	// Command asks the appliance to take a new measurement.
	Command map[string]any
}

// MaxAttempts is the number of polls the cycle may make before timing out.
func (p RefreshPolicy) MaxAttempts() int {
	if p.PollInterval <= 0 {
		return 0
	}
	return int(p.Timeout / p.PollInterval)
}

// Profile is everything that differs between appliance kinds.
type Profile struct {
	Name     string
	Interval time.Duration
	// Refresh is nil for kinds that are fetched synchronously on every tick.
	Refresh     *RefreshPolicy
	Consumption bool
	Pressure    bool
	Commands    bool
	Valve       bool
}

// ProfileOptions carries the per-installation inputs of ProfileFor.
type ProfileOptions struct {
	Interval                      time.Duration
	MinPressureMeasurementVersion string
}

const defaultInterval = 300 * time.Second

func measurementCommand() map[string]any {
	return map[string]any{"command": map[string]any{"get_current_measurement": true}}
}

// ProfileFor returns the profile of an appliance.
func ProfileFor(id device.Identity, opts ProfileOptions) (Profile, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	switch id.Kind {
	case device.KindSense:
		return Profile{Name: "Grohe Sense", Interval: interval}, nil
	case device.KindSenseGuard:
		return Profile{
			Name:        "Grohe Sense Guard",
			Interval:    interval,
			Consumption: true,
			Pressure:    id.SupportsVersion(opts.MinPressureMeasurementVersion),
			Commands:    true,
			Valve:       true,
		}, nil
	case device.KindBlueHome:
		return Profile{
			Name:     "Grohe Blue Home",
			Interval: interval,
			Refresh: &RefreshPolicy{
				PollInterval:  10 * time.Second,
				Timeout:       30 * time.Second,
				TimestampPath: "details.data_latest.measurement.timestamp",
				Command:       measurementCommand(),
			},
			Commands: true,
		}, nil
	case device.KindBlueProfessional:
		return Profile{
			Name:     "Grohe Blue Professional",
			Interval: interval,
			Refresh: &RefreshPolicy{
				PollInterval:  1 * time.Second,
				Timeout:       10 * time.Second,
				TimestampPath: "details.data_latest_measurement.timestamp",
				Command:       measurementCommand(),
			},
			Commands: true,
		}, nil
	}
	return Profile{}, fmt.Errorf("no profile for appliance %s of type %s", id, id.Kind)
}
