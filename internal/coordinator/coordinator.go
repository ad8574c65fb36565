// Package coordinator keeps the cached state of one appliance in sync with the remote API.
//
// A Coordinator is driven by Run (or by external calls to Tick). Kinds with a refresh
// policy return their cached snapshot immediately and, in the background, ask the
// appliance for a new measurement and poll until its timestamp advances. Other kinds
// are fetched synchronously on every tick.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"grohe-sync-backend/internal/consumption"
	"grohe-sync-backend/internal/device"
	"grohe-sync-backend/internal/freshness"
)

// Client is the remote API as seen by a coordinator. It is shared by all coordinators.
type Client interface {
	ApplianceDetails(ctx context.Context, id device.Identity) (map[string]any, error)
	ApplianceCommand(ctx context.Context, id device.Identity) (map[string]any, error)
	SendCommand(ctx context.Context, id device.Identity, payload map[string]any) (map[string]any, error)
	PressureMeasurement(ctx context.Context, id device.Identity) (map[string]any, error)
	consumption.Source
}

// Options holds the optional collaborators of a Coordinator.
type Options struct {
	Logger         *zap.Logger
	Metrics        *Metrics
	Location       *time.Location
	VerboseLogging bool
}

// Coordinator owns the snapshot, the freshness marker and the refresh cycle of one appliance.
type Coordinator struct {
	client     Client
	device     device.Identity
	profile    Profile
	aggregator *consumption.Aggregator
	logger     *zap.Logger
	metrics    *Metrics
	loc        *time.Location

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	snapshot   atomic.Pointer[Snapshot]
	interval   atomic.Int64
	verbose    atomic.Bool
	refreshing atomic.Bool
	cycles     sync.WaitGroup

	markerMu sync.Mutex
	marker   time.Time

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// New creates a coordinator for one appliance. Nothing is fetched until InitialValue or
// Tick is called.
func New(client Client, id device.Identity, profile Profile, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logger = logger.With(
		zap.String("device", id.Name),
		zap.String("appliance_id", id.ApplianceID),
		zap.String("kind", id.Kind.String()),
	)

	c := &Coordinator{
		client:    client,
		device:    id,
		profile:   profile,
		logger:    logger,
		metrics:   opts.Metrics,
		loc:       loc,
		now:       time.Now,
		sleep:     sleepContext,
		listeners: make(map[int]Listener),
	}
	if profile.Consumption {
		c.aggregator = consumption.NewAggregator(client, id, loc, logger)
	}
	interval := profile.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	c.interval.Store(int64(interval))
	c.verbose.Store(opts.VerboseLogging)
	return c
}

// Device returns the identity of the coordinated appliance.
func (c *Coordinator) Device() device.Identity { return c.device }

// Profile returns the appliance profile.
func (c *Coordinator) Profile() Profile { return c.profile }

// Snapshot returns the cached snapshot, or nil before the first successful fetch.
func (c *Coordinator) Snapshot() *Snapshot { return c.snapshot.Load() }

// Interval returns the current tick period.
func (c *Coordinator) Interval() time.Duration { return time.Duration(c.interval.Load()) }

// Refreshing reports whether a refresh-and-verify cycle is in flight.
func (c *Coordinator) Refreshing() bool { return c.refreshing.Load() }

// Tick performs one scheduled update and returns the snapshot callers should use.
//
// With a refresh policy the cached snapshot is returned without blocking (a synchronous
// fetch happens only when nothing is cached yet) and a background refresh cycle is
// started unless one is already running. Without a refresh policy the appliance is
// fetched synchronously. A fetch error is returned and the cached snapshot is kept.
func (c *Coordinator) Tick(ctx context.Context) (*Snapshot, error) {
	c.logger.Debug("updating device data")

	if c.profile.Refresh == nil {
		snap, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.logResponse("fetched data", snap)
		return c.publish(snap), nil
	}

	snap := c.snapshot.Load()
	if snap == nil {
		fetched, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.logResponse("fetched initial data", fetched)
		snap = c.publish(fetched)
	} else {
		c.logResponse("using cached data", snap)
	}

	c.startRefresh(ctx)
	return snap, nil
}

// InitialValue fetches the appliance synchronously, bypassing the cache, and publishes
// the result.
func (c *Coordinator) InitialValue(ctx context.Context) (*Snapshot, error) {
	snap, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.logResponse("fetched initial value", snap)
	return c.publish(snap), nil
}

// SetPollingInterval changes the tick period. The running schedule picks it up after
// the current wait.
func (c *Coordinator) SetPollingInterval(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("polling interval must be positive, got %d", seconds)
	}
	interval := time.Duration(seconds) * time.Second
	c.interval.Store(int64(interval))
	c.logger.Info("polling interval changed", zap.Duration("interval", interval))
	c.notify(Update{Kind: IntervalChanged, Device: c.device, Current: c.snapshot.Load(), Interval: interval})
	return nil
}

// SetVerboseLogging toggles logging of response data.
func (c *Coordinator) SetVerboseLogging(enabled bool) {
	c.verbose.Store(enabled)
}

// SendCommand forwards payload to the appliance and returns the raw response. The
// cached snapshot is not touched; the effect shows up on the next fetch.
func (c *Coordinator) SendCommand(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if !c.profile.Commands {
		return nil, fmt.Errorf("send command to %s: %w", c.device, ErrUnsupported)
	}
	resp, err := c.client.SendCommand(ctx, c.device, payload)
	if err != nil {
		return nil, fmt.Errorf("send command to %s: %w", c.device, err)
	}
	return resp, nil
}

// AddListener registers l and returns a function that removes it.
func (c *Coordinator) AddListener(l Listener) (remove func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

// Run ticks on the configured interval until ctx is done. Failed ticks are logged and
// the schedule continues. An in-flight refresh cycle is not cancelled; use Wait to
// block until it has finished.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("starting coordinator", zap.Duration("interval", c.Interval()))

	timer := time.NewTimer(c.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator shutting down")
			return nil
		case <-timer.C:
			if _, err := c.Tick(ctx); err != nil {
				c.logger.Error("error updating device data", zap.Error(err))
			}
			timer.Reset(c.Interval())
		}
	}
}

// Wait blocks until no refresh cycle is running. Cycles cannot be cancelled.
func (c *Coordinator) Wait() {
	c.cycles.Wait()
}

// fetch builds a new snapshot from the remote API. Only the details request is fatal;
// pressure and consumption degrade to empty fields.
func (c *Coordinator) fetch(ctx context.Context) (*Snapshot, error) {
	start := c.now()
	details, err := c.client.ApplianceDetails(ctx, c.device)
	c.metrics.fetch(c.device.Kind.String(), c.now().Sub(start), err)
	if err != nil {
		return nil, fmt.Errorf("fetch details for %s: %w", c.device, err)
	}

	snap := &Snapshot{
		Details:    details,
		Status:     statusMapping(details),
		CapturedAt: c.now(),
	}
	if snap.Status == nil {
		c.logger.Debug("status could not be mapped")
	}

	if c.profile.Pressure {
		pressure, err := c.client.PressureMeasurement(ctx, c.device)
		if err != nil {
			c.logger.Warn("failed to get pressure measurement", zap.Error(err))
		} else {
			snap.Pressure = pressure
		}
	}

	if c.aggregator != nil {
		installedAt, ok := freshness.Extract(details, "installation_date", c.loc)
		if !ok {
			c.logger.Debug("installation date missing from details")
		}
		total := c.aggregator.Total(ctx, installedAt)
		snap.TotalConsumption = &total
	}

	return snap, nil
}

// publish swaps in snap, advances the freshness marker and notifies listeners. Fetches
// can overlap (a manual tick next to the scheduled one), so a snapshot captured before
// the cached one is dropped and the cached one is returned instead.
func (c *Coordinator) publish(snap *Snapshot) *Snapshot {
	var prev *Snapshot
	for {
		prev = c.snapshot.Load()
		if prev != nil && snap.CapturedAt.Before(prev.CapturedAt) {
			c.logger.Debug("discarding snapshot older than the cached one",
				zap.Time("captured_at", snap.CapturedAt),
				zap.Time("cached_at", prev.CapturedAt),
			)
			return prev
		}
		if c.snapshot.CompareAndSwap(prev, snap) {
			break
		}
	}

	if ts, ok := c.measuredAt(snap); ok {
		c.advanceMarker(ts)
	}
	c.notify(Update{Kind: SnapshotUpdated, Device: c.device, Previous: prev, Current: snap, Interval: c.Interval()})
	return snap
}

func (c *Coordinator) notify(u Update) {
	c.listenersMu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenersMu.Unlock()

	for _, l := range listeners {
		l(u)
	}
}

func (c *Coordinator) measuredAt(snap *Snapshot) (time.Time, bool) {
	if c.profile.Refresh == nil {
		return time.Time{}, false
	}
	return freshness.Extract(snap.document(), c.profile.Refresh.TimestampPath, c.loc)
}

func (c *Coordinator) lastMeasurement() time.Time {
	c.markerMu.Lock()
	defer c.markerMu.Unlock()
	return c.marker
}

// advanceMarker never moves the marker backwards.
func (c *Coordinator) advanceMarker(ts time.Time) {
	c.markerMu.Lock()
	defer c.markerMu.Unlock()
	if ts.After(c.marker) {
		c.marker = ts
	}
}

func (c *Coordinator) logResponse(msg string, snap *Snapshot) {
	if !c.verbose.Load() {
		return
	}
	c.logger.Info("response data", zap.String("source", msg), zap.Any("data", snap))
}

type statusEntry struct {
	Type  string `mapstructure:"type"`
	Value any    `mapstructure:"value"`
}

// statusMapping turns details.status ([{type, value}, ...]) into type -> value. A missing
// list maps to an empty mapping; a malformed one to nil.
func statusMapping(details map[string]any) map[string]any {
	raw, ok := details["status"]
	if !ok || raw == nil {
		return map[string]any{}
	}

	var entries []statusEntry
	if err := mapstructure.Decode(raw, &entries); err != nil {
		return nil
	}

	status := make(map[string]any, len(entries))
	for _, e := range entries {
		if e.Type == "" {
			return nil
		}
		status[e.Type] = e.Value
	}
	return status
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
