// Package pipeline runs the per-frame render loop and the background
// workers that mirror, persist, evaluate and publish what the stream feeds in.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"

	"fleet-monitor/geostream/internal/animation"
	"fleet-monitor/geostream/internal/clock"
	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/fleetstate"
	"fleet-monitor/geostream/internal/geofence"
	"fleet-monitor/geostream/internal/metrics"
)

// Broadcaster receives every rendered frame and every transition.
type Broadcaster interface {
	BroadcastFrame(fc *geojson.FeatureCollection)
	BroadcastTransition(e domain.TransitionEvent)
}

type FrameLoop struct {
	clock       clock.Clock
	interval    time.Duration
	animator    *animation.Engine
	geofences   *geofence.Engine
	store       *fleetstate.Store
	dispatcher  *Dispatcher
	broadcaster Broadcaster

	mu     sync.Mutex
	reload atomic.Bool
}

// NewFrameLoop wires the render loop. dispatcher and broadcaster may be nil.
func NewFrameLoop(
	clk clock.Clock,
	interval time.Duration,
	animator *animation.Engine,
	geofences *geofence.Engine,
	store *fleetstate.Store,
	dispatcher *Dispatcher,
	broadcaster Broadcaster,
) *FrameLoop {
	return &FrameLoop{
		clock:       clk,
		interval:    interval,
		animator:    animator,
		geofences:   geofences,
		store:       store,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
	}
}

// LoadGeofences replaces the active set everywhere it is held. The next
// frame re-evaluates every vehicle even if nothing moved.
func (l *FrameLoop) LoadGeofences(fences []*domain.Geofence) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.geofences.LoadGeofences(fences)
	l.store.SetGeofences(fences)
	l.reload.Store(true)
}

func (l *FrameLoop) Run(ctx context.Context) {
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", l.interval).Msg("Frame loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Frame loop stopped")
			return
		case now := <-ticker.C:
			l.Step(now)
		}
	}
}

// Step advances one frame: animate, then check geofences against the
// rendered positions, then propagate. It reports whether anything was
// propagated; a frame with no motion and no pending reload is skipped.
func (l *FrameLoop) Step(now time.Time) ([]domain.TransitionEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := l.animator.Tick(now)
	forced := l.reload.Swap(false)
	if !changed && !forced {
		metrics.FramesSkipped.Add(1)
		return nil, false
	}

	events := l.geofences.ProcessBatch(l.animator.Positions())
	for _, e := range events {
		l.propagateTransition(e, now)
	}

	if l.broadcaster != nil {
		l.broadcaster.BroadcastFrame(animation.FeatureCollection(l.animator.Snapshot(), l.store))
	}
	metrics.Frames.Add(1)
	return events, true
}

func (l *FrameLoop) propagateTransition(e domain.TransitionEvent, now time.Time) {
	metrics.TransitionEvents.Add(1)
	log.Debug().
		Str("vehicle", e.VehicleID).
		Str("geofence", e.GeofenceID).
		Str("kind", string(e.Kind)).
		Msg("Geofence transition")

	a := e.ToAlert(now)
	if l.store.AddAlert(a) && l.dispatcher != nil {
		l.dispatcher.ObserveAlert(a)
	}
	if l.dispatcher != nil {
		l.dispatcher.DispatchTransition(e)
	}
	if l.broadcaster != nil {
		l.broadcaster.BroadcastTransition(e)
	}
}
