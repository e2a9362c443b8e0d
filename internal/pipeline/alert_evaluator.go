package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"fleet-monitor/geostream/internal/clock"
	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/metrics"
)

const AlertDedupWindow = 5 * time.Minute

// Deduper grants at most one alert per (vehicle, kind) inside ttl.
type Deduper interface {
	ClaimAlert(ctx context.Context, vehicleID string, kind domain.AlertKind, ttl time.Duration) (bool, error)
}

type AlertStore interface {
	AddAlert(a domain.Alert) bool
}

type AlertObserver interface {
	ObserveAlert(a domain.Alert)
}

type AlertPublisher interface {
	PublishAlert(ctx context.Context, a domain.Alert) error
}

// AlertEvaluator runs rules over flushed vehicles and raises alerts for the
// ones that fire.
type AlertEvaluator struct {
	ch        <-chan domain.Vehicle
	rules     []domain.AlertRule
	dedup     Deduper
	store     AlertStore
	observer  AlertObserver
	publisher AlertPublisher
	clock     clock.Clock
}

// NewAlertEvaluator wires an evaluator. observer and publisher may be nil.
func NewAlertEvaluator(
	ch <-chan domain.Vehicle,
	rules []domain.AlertRule,
	dedup Deduper,
	store AlertStore,
	observer AlertObserver,
	publisher AlertPublisher,
	clk clock.Clock,
) *AlertEvaluator {
	return &AlertEvaluator{
		ch:        ch,
		rules:     rules,
		dedup:     dedup,
		store:     store,
		observer:  observer,
		publisher: publisher,
		clock:     clk,
	}
}

func (e *AlertEvaluator) Run(ctx context.Context) {
	for {
		select {
		case v, ok := <-e.ch:
			if !ok {
				return
			}
			e.evaluate(ctx, v)

		case <-ctx.Done():
			return
		}
	}
}

func (e *AlertEvaluator) evaluate(ctx context.Context, v domain.Vehicle) {
	for _, rule := range e.rules {
		if !rule.Evaluator(&v) {
			continue
		}

		fresh, err := e.dedup.ClaimAlert(ctx, v.ID, rule.Kind, AlertDedupWindow)
		if err != nil {
			log.Warn().Err(err).Str("vehicle", v.ID).Str("kind", string(rule.Kind)).Msg("Alert dedup check failed")
			continue
		}
		if !fresh {
			continue
		}

		a := domain.Alert{
			ID:        fmt.Sprintf("%s-%s", alertPrefix(rule.Kind), uuid.NewString()),
			Message:   rule.Message(&v),
			Timestamp: e.clock.Now(),
			VehicleID: v.ID,
			TripID:    v.TripID,
			Kind:      rule.Kind,
		}
		if !e.store.AddAlert(a) {
			continue
		}
		metrics.RuleAlerts.Add(1)
		log.Info().Str("vehicle", v.ID).Str("kind", string(rule.Kind)).Msg("Rule alert raised")

		if e.observer != nil {
			e.observer.ObserveAlert(a)
		}
		if e.publisher != nil {
			if err := e.publisher.PublishAlert(ctx, a); err != nil {
				log.Warn().Err(err).Str("alert", a.ID).Msg("Alert publish failed")
			}
		}
	}
}

func alertPrefix(k domain.AlertKind) string {
	switch k {
	case domain.AlertSpeedViolation:
		return "SPEED"
	case domain.AlertGeofenceEntry, domain.AlertGeofenceExit:
		return "GEO"
	default:
		return "RULE"
	}
}

// MemoryDeduper is the in-process Deduper used when no shared cache is
// configured.
type MemoryDeduper struct {
	mu     sync.Mutex
	clock  clock.Clock
	expiry map[string]time.Time
}

func NewMemoryDeduper(clk clock.Clock) *MemoryDeduper {
	return &MemoryDeduper{clock: clk, expiry: make(map[string]time.Time)}
}

func (d *MemoryDeduper) ClaimAlert(_ context.Context, vehicleID string, kind domain.AlertKind, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	key := vehicleID + ":" + string(kind)
	if until, ok := d.expiry[key]; ok && now.Before(until) {
		return false, nil
	}
	d.expiry[key] = now.Add(ttl)

	for k, until := range d.expiry {
		if !now.Before(until) {
			delete(d.expiry, k)
		}
	}
	return true, nil
}
