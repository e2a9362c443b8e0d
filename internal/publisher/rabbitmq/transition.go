// Package rabbitmq fans geofence transitions out to downstream consumers.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleet-monitor/geostream/internal/domain"
)

type TransitionPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewTransitionPublisher(url, exchange string) (*TransitionPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &TransitionPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

type transitionMessage struct {
	VehicleID    string `json:"vehicle_id"`
	GeofenceID   string `json:"geofence_id"`
	GeofenceName string `json:"geofence_name"`
	Event        string `json:"event"`
	Timestamp    int64  `json:"timestamp"`
}

func newPublishing(e domain.TransitionEvent, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(transitionMessage{
		VehicleID:    e.VehicleID,
		GeofenceID:   e.GeofenceID,
		GeofenceName: e.GeofenceName,
		Event:        string(e.Kind),
		Timestamp:    now.UnixMilli(),
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal transition: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Type:         "geofence." + string(e.Kind),
		Body:         body,
	}, nil
}

func (p *TransitionPublisher) PublishTransition(ctx context.Context, e domain.TransitionEvent) error {
	msg, err := newPublishing(e, time.Now())
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, "", false, false, msg)
}

func (p *TransitionPublisher) Close() error {
	p.ch.Close()
	return p.conn.Close()
}
