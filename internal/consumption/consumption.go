// Package consumption keeps a running water consumption total for metering appliances.
//
// The full history is summed at most once per calendar day into a baseline; every other
// fetch only asks for today's consumption and adds it to that baseline.
package consumption

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"grohe-sync-backend/internal/device"
)

// GroupBy is the aggregation granularity of a consumption query.
type GroupBy string

const (
	GroupByHour  GroupBy = "hour"
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
	GroupByYear  GroupBy = "year"
)

// Withdrawal is one aggregated period of water usage.
type Withdrawal struct {
	Date             string  `mapstructure:"date" json:"date"`
	WaterConsumption float64 `mapstructure:"waterconsumption" json:"waterconsumption"`
}

// Source fetches aggregated consumption for an appliance between two dates (inclusive).
type Source interface {
	Consumption(ctx context.Context, id device.Identity, from, to time.Time, groupBy GroupBy) ([]Withdrawal, error)
}

// Aggregator computes total consumption to date for one appliance.
type Aggregator struct {
	source Source
	device device.Identity
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	baseline    float64
	baselineDay time.Time
}

// NewAggregator creates an aggregator. Calendar days are evaluated in loc (UTC when nil).
func NewAggregator(source Source, id device.Identity, loc *time.Location, logger *zap.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		source: source,
		device: id,
		loc:    loc,
		logger: logger.With(zap.String("appliance_id", id.ApplianceID)),
		now:    time.Now,
	}
}

// Total returns baseline + today's consumption, never negative. Query failures are logged
// and degrade to partial data instead of failing the caller's fetch.
func (a *Aggregator) Total(ctx context.Context, installedAt time.Time) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().In(a.loc)
	today := startOfDay(now)

	todayAmount, err := a.sum(ctx, now, now, GroupByDay)
	if err != nil {
		a.logger.Warn("failed to get today's consumption", zap.Error(err))
		todayAmount = 0
	}

	// The baseline excludes today, so it can only be derived while today's amount is known.
	if !a.baselineDay.Equal(today) {
		if err != nil {
			a.logger.Debug("today's consumption unknown, postponing baseline recomputation")
		} else {
			a.recompute(ctx, installedAt, now, today, todayAmount)
		}
	}

	total := a.baseline + todayAmount
	a.logger.Info("water consumption",
		zap.Float64("total_till_yesterday", round2(a.baseline)),
		zap.Float64("total_now", round2(total)),
		zap.Float64("today", todayAmount),
	)
	return math.Max(total, 0)
}

// Baseline returns the stored baseline and the day it was computed for.
func (a *Aggregator) Baseline() (float64, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseline, a.baselineDay
}

func (a *Aggregator) recompute(ctx context.Context, installedAt, now, today time.Time, todayAmount float64) {
	if installedAt.IsZero() {
		a.logger.Debug("installation date unknown, keeping previous baseline")
		return
	}

	all, err := a.sum(ctx, installedAt.In(a.loc), now, GroupByYear)
	if err != nil {
		// The day stays unstamped so the next fetch retries.
		a.logger.Warn("failed to get total consumption", zap.Error(err))
		return
	}

	old := a.baseline
	a.baseline = math.Max(round2(all)-todayAmount, 0)
	a.baselineDay = today
	a.logger.Debug("consumption baseline recomputed",
		zap.Float64("old", old),
		zap.Float64("new", a.baseline),
		zap.Time("day", today),
	)
}

func (a *Aggregator) sum(ctx context.Context, from, to time.Time, groupBy GroupBy) (float64, error) {
	withdrawals, err := a.source.Consumption(ctx, a.device, from, to, groupBy)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, w := range withdrawals {
		total += w.WaterConsumption
	}
	return total, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
