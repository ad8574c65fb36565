package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Outcome is how a refresh-and-verify cycle ended.
type Outcome string

const (
	OutcomeFresh         Outcome = "fresh"
	OutcomeTimedOut      Outcome = "timed_out"
	OutcomeCommandFailed Outcome = "command_failed"
	OutcomePollFailed    Outcome = "poll_failed"
)

// commandAttempts bounds sends of the take-measurement command. Only timeouts are
// retried, without delay.
const commandAttempts = 3

// cycleResult summarizes one refresh-and-verify cycle.
type cycleResult struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

// startRefresh launches a background cycle unless one is already in flight. The cycle
// is detached from ctx's cancellation and always runs to completion.
func (c *Coordinator) startRefresh(ctx context.Context) bool {
	if !c.refreshing.CompareAndSwap(false, true) {
		c.logger.Debug("refresh already running, skipping")
		return false
	}

	c.cycles.Add(1)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer c.cycles.Done()
		defer c.refreshing.Store(false)

		res := c.refreshAndVerify(bg)
		if res.Err != nil {
			c.logger.Error("error in refresh workflow",
				zap.String("outcome", string(res.Outcome)),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err),
			)
		}
	}()
	return true
}

// refreshAndVerify sends the take-measurement command, then polls until the measurement
// timestamp moves past the marker recorded when the cycle started or the timeout budget
// is used up. Only a fresh measurement replaces the cached snapshot.
func (c *Coordinator) refreshAndVerify(ctx context.Context) (res cycleResult) {
	policy := c.profile.Refresh
	kind := c.device.Kind.String()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("refresh workflow panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = cycleResult{Outcome: OutcomePollFailed, Attempts: res.Attempts, Err: fmt.Errorf("refresh workflow panicked: %v", r)}
		}
		c.metrics.cycle(kind, res.Outcome)
	}()

	old := c.lastMeasurement()

	if err := c.sendRefreshCommand(ctx); err != nil {
		return cycleResult{Outcome: OutcomeCommandFailed, Err: err}
	}

	maxAttempts := policy.MaxAttempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.sleep(ctx, policy.PollInterval); err != nil {
			return cycleResult{Outcome: OutcomePollFailed, Attempts: attempt - 1, Err: err}
		}
		c.metrics.poll(kind)

		snap, err := c.fetch(ctx)
		if err != nil {
			if IsTimeout(err) {
				c.logger.Debug("poll timed out, waiting for next attempt",
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}
			return cycleResult{Outcome: OutcomePollFailed, Attempts: attempt, Err: err}
		}

		ts, ok := c.measuredAt(snap)
		if ok && (old.IsZero() || ts.After(old)) {
			c.publish(snap)
			c.logger.Debug("new measurement received",
				zap.Time("measured_at", ts),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
			)
			return cycleResult{Outcome: OutcomeFresh, Attempts: attempt}
		}
	}

	c.logger.Warn("no new measurement received",
		zap.Int("attempts", maxAttempts),
		zap.Duration("timeout", policy.Timeout),
	)
	return cycleResult{Outcome: OutcomeTimedOut, Attempts: maxAttempts}
}

// sendRefreshCommand sends the take-measurement command, retrying timeouts up to
// commandAttempts in total. Any other error aborts at once.
func (c *Coordinator) sendRefreshCommand(ctx context.Context) error {
	kind := c.device.Kind.String()

	var err error
	for attempt := 1; attempt <= commandAttempts; attempt++ {
		c.logger.Debug("sending refresh command",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", commandAttempts),
		)

		_, err = c.client.SendCommand(ctx, c.device, c.profile.Refresh.Command)
		c.metrics.command(kind, err)
		if err == nil {
			c.logger.Debug("refresh command sent")
			return nil
		}
		if !IsTimeout(err) {
			return fmt.Errorf("send refresh command to %s: %w", c.device, err)
		}
		if attempt < commandAttempts {
			c.logger.Debug("refresh command timed out, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}
	}

	return fmt.Errorf("refresh command to %s failed after %d attempts: %w", c.device, commandAttempts, err)
}
