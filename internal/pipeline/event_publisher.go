package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"

	"fleet-monitor/geostream/internal/domain"
)

type TransitionPublisher interface {
	PublishTransition(ctx context.Context, e domain.TransitionEvent) error
}

// EventPublisher forwards every transition to each configured publisher. A
// failing publisher does not stop the others.
type EventPublisher struct {
	ch         <-chan domain.TransitionEvent
	publishers []TransitionPublisher
}

func NewEventPublisher(ch <-chan domain.TransitionEvent, publishers ...TransitionPublisher) *EventPublisher {
	return &EventPublisher{ch: ch, publishers: publishers}
}

func (p *EventPublisher) Run(ctx context.Context) {
	for {
		select {
		case e, ok := <-p.ch:
			if !ok {
				return
			}
			p.publish(ctx, e)

		case <-ctx.Done():
			return
		}
	}
}

func (p *EventPublisher) publish(ctx context.Context, e domain.TransitionEvent) {
	for _, pub := range p.publishers {
		if err := pub.PublishTransition(ctx, e); err != nil {
			log.Warn().
				Err(err).
				Str("vehicle", e.VehicleID).
				Str("geofence", e.GeofenceID).
				Msg("Transition publish failed")
		}
	}
}
