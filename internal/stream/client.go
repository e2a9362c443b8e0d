// Package stream owns the connection to the live fleet feed: it dials,
// decodes and validates frames, batches position updates, watches for a
// silent feed and reconnects with capped exponential backoff.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"fleet-monitor/geostream/internal/clock"
	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/fleetstate"
	"fleet-monitor/geostream/internal/metrics"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosingGraceful
	StateClosingAbnormal
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosingGraceful:
		return "CLOSING_GRACEFUL"
	case StateClosingAbnormal:
		return "CLOSING_ABNORMAL"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

const (
	StatusConnected   = "connected"
	StatusMaintenance = "Server offline: scheduled maintenance"
	StatusMaxRetries  = "Connection failed: max retries reached"
)

// Store is the part of the fleet state the client mutates.
type Store interface {
	UpsertVehicle(u domain.VehicleUpdate) domain.Vehicle
	AddAlert(a domain.Alert) bool
	RegisterHeartbeat(now time.Time)
	LastHeartbeat() time.Time
	SetStale(stale bool)
	SetSlow(slow bool)
	SetConnected(connected bool, status string)
	SetStatus(status string, attempts int)
	PruneAlerts(now time.Time, maxAge time.Duration) int
	Health() fleetstate.Health
}

// Animator receives the new target of every flushed vehicle with a location.
type Animator interface {
	UpdateTarget(id string, p orb.Point, speed float64, now time.Time)
}

// Observer is notified of flushed vehicles and accepted alerts. It must not
// block.
type Observer interface {
	ObserveVehicles(vehicles []domain.Vehicle)
	ObserveAlert(a domain.Alert)
}

type Options struct {
	URL                  string
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	ReconnectMaxAttempts int
	FlushInterval        time.Duration
	MonitorInterval      time.Duration
	SlowThreshold        time.Duration
	StaleThreshold       time.Duration
	AlertPruneInterval   time.Duration
	AlertPruneAge        time.Duration
}

func (o *Options) setDefaults() {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = 30 * time.Second
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = 2 * time.Second
	}
	if o.SlowThreshold <= 0 {
		o.SlowThreshold = 4 * time.Second
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 10 * time.Second
	}
	if o.AlertPruneInterval <= 0 {
		o.AlertPruneInterval = time.Minute
	}
	if o.AlertPruneAge <= 0 {
		o.AlertPruneAge = fleetstate.DefaultAlertPruneAge
	}
}

type Client struct {
	opts     Options
	dialer   Dialer
	clock    clock.Clock
	store    Store
	animator Animator
	observer Observer
	buffer   *PositionBuffer

	mu             sync.Mutex
	state          State
	backoff        *Backoff
	reconnectTimer *clock.Timer
	redial         chan struct{}
}

// NewClient wires a client. animator and observer may be nil.
func NewClient(opts Options, dialer Dialer, clk clock.Clock, store Store, animator Animator, observer Observer) *Client {
	opts.setDefaults()
	return &Client{
		opts:     opts,
		dialer:   dialer,
		clock:    clk,
		store:    store,
		animator: animator,
		observer: observer,
		buffer:   NewPositionBuffer(),
		backoff:  NewBackoff(opts.ReconnectBase, opts.ReconnectCap, opts.ReconnectMaxAttempts),
		redial:   make(chan struct{}, 1),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects and keeps the feed alive until ctx is cancelled. The flush,
// staleness and prune timers run alongside and stop with it.
func (c *Client) Run(ctx context.Context) {
	c.store.RegisterHeartbeat(c.clock.Now())

	flushTicker := c.clock.NewTicker(c.opts.FlushInterval)
	monitorTicker := c.clock.NewTicker(c.opts.MonitorInterval)
	pruneTicker := c.clock.NewTicker(c.opts.AlertPruneInterval)

	var wg conc.WaitGroup
	wg.Go(func() { c.every(ctx, flushTicker, c.flush) })
	wg.Go(func() { c.every(ctx, monitorTicker, c.checkStaleness) })
	wg.Go(func() { c.every(ctx, pruneTicker, c.pruneAlerts) })

	c.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			wg.Wait()
			c.flush()
			return
		case <-c.redial:
			c.connect(ctx)
		}
	}
}

// Reconnect resets the attempt counter and dials immediately. It does
// nothing while a connection is open or being established.
func (c *Client) Reconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateOpen || c.state == StateConnecting {
		return false
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.backoff.Reset()
	select {
	case c.redial <- struct{}{}:
	default:
	}
	log.Info().Msg("Manual reconnect requested")
	return true
}

func (c *Client) every(ctx context.Context, ticker *clock.Ticker, fn func()) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (c *Client) connect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c.setState(StateConnecting)
	log.Debug().Str("url", c.opts.URL).Msg("Dialing stream")

	conn, err := c.dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("Stream dial failed")
		c.handleClose(err)
		return
	}

	c.handleOpen()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	err = c.readLoop(conn)
	stop()

	if ctx.Err() != nil {
		return
	}
	c.handleClose(err)
}

func (c *Client) readLoop(conn Conn) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				log.Error().Err(err).Msg("Stream transport error, closing")
				conn.Close()
			}
			return err
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleOpen() {
	c.mu.Lock()
	c.backoff.Reset()
	c.state = StateOpen
	c.mu.Unlock()

	c.store.SetConnected(true, StatusConnected)
	c.store.SetStatus(StatusConnected, 0)
	c.store.RegisterHeartbeat(c.clock.Now())
	log.Info().Str("url", c.opts.URL).Msg("Connected to stream")
}

// handleClose decides what follows a closed or failed connection. A going
// away close is terminal; anything else schedules one reconnect until the
// attempt ceiling is reached.
func (c *Client) handleClose(err error) {
	c.store.SetConnected(false, "")
	c.store.SetStale(true)

	if websocket.IsCloseError(err, websocket.CloseGoingAway) {
		c.setState(StateClosingGraceful)
		c.store.SetStatus(StatusMaintenance, 0)
		c.setState(StateDisconnected)
		log.Warn().Msg("Stream closed by server for maintenance, not reconnecting")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateClosingAbnormal
	delay, ok := c.backoff.Next()
	if !ok {
		c.state = StateDisconnected
		c.store.SetStatus(StatusMaxRetries, c.backoff.Attempts())
		log.Error().Int("attempts", c.backoff.Attempts()).Msg("Stream reconnect attempts exhausted")
		return
	}

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = c.clock.AfterFunc(delay, func() {
		select {
		case c.redial <- struct{}{}:
		default:
		}
	})
	c.state = StateReconnecting
	metrics.ReconnectAttempts.Add(1)

	attempt := c.backoff.Attempts()
	c.store.SetStatus(fmt.Sprintf("Connection lost: reconnecting (%d/%d)", attempt, c.backoff.Max()), attempt)
	log.Warn().
		Err(err).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Stream connection lost, scheduling reconnect")
}

func (c *Client) handleMessage(data []byte) {
	metrics.MessagesReceived.Add(1)

	msg, err := Decode(data)
	if err != nil {
		metrics.MalformedMessages.Add(1)
		log.Warn().Err(err).Msg("Discarding unparsable message")
		return
	}

	now := c.clock.Now()
	c.store.RegisterHeartbeat(now)

	switch msg.Kind {
	case KindVehicleUpdate:
		u, invalid, err := msg.VehicleUpdate(now)
		if err != nil {
			metrics.InvalidPayloads.Add(1)
			log.Warn().Err(err).Msg("Discarding vehicle update")
			return
		}
		if len(invalid) > 0 {
			metrics.InvalidFields.Add(int64(len(invalid)))
			log.Warn().Str("vehicle", u.ID).Strs("fields", invalid).Msg("Dropping invalid vehicle fields")
		}
		c.buffer.Put(u)

	case KindTripAlert, KindGeofenceEvent:
		a, err := msg.Alert(now)
		if err != nil {
			metrics.InvalidPayloads.Add(1)
			log.Warn().Err(err).Str("type", msg.Tag).Msg("Discarding alert")
			return
		}
		metrics.AlertsReceived.Add(1)
		if c.store.AddAlert(a) && c.observer != nil {
			c.observer.ObserveAlert(a)
		}
		log.Debug().Str("alert", a.ID).Str("kind", string(a.Kind)).Msg("Alert received")

	default:
		metrics.UnknownMessages.Add(1)
		log.Warn().Str("type", msg.Tag).Msg("Unknown message type")
	}
}

// flush moves buffered updates into the store and the animator.
func (c *Client) flush() {
	updates := c.buffer.Drain()
	if len(updates) == 0 {
		return
	}

	now := c.clock.Now()
	vehicles := make([]domain.Vehicle, 0, len(updates))
	for _, u := range updates {
		v := c.store.UpsertVehicle(u)
		vehicles = append(vehicles, v)
		if c.animator != nil && u.Location != nil {
			c.animator.UpdateTarget(v.ID, v.Location.Point(), v.Speed, now)
		}
	}
	metrics.VehiclesFlushed.Add(int64(len(vehicles)))

	if c.observer != nil {
		c.observer.ObserveVehicles(vehicles)
	}
}

// checkStaleness flags a silent feed regardless of what the socket reports.
func (c *Client) checkStaleness() {
	age := c.clock.Now().Sub(c.store.LastHeartbeat())
	h := c.store.Health()

	switch {
	case age > c.opts.StaleThreshold:
		if !h.Stale {
			c.store.SetStale(true)
			log.Warn().Dur("age", age).Msg("No data from stream, marking stale")
		}
	case age > c.opts.SlowThreshold:
		if !h.Stale && !h.Slow {
			c.store.SetSlow(true)
			log.Warn().Dur("age", age).Msg("Slow network, data may be delayed")
		}
	}
}

func (c *Client) pruneAlerts() {
	if n := c.store.PruneAlerts(c.clock.Now(), c.opts.AlertPruneAge); n > 0 {
		log.Debug().Int("pruned", n).Msg("Pruned old alerts")
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.state = StateDisconnected
	log.Info().Msg("Stream client stopped")
}
