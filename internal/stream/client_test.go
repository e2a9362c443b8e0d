package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"

	"fleet-monitor/geostream/internal/clock"
	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/fleetstate"
)

type frame struct {
	data []byte
	err  error
}

type fakeConn struct {
	frames chan frame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan frame, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f.data, f.err
	case <-c.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(body string) { c.frames <- frame{data: []byte(body)} }

func (c *fakeConn) closeWith(code int) {
	c.frames <- frame{err: &websocket.CloseError{Code: code}}
}

func (c *fakeConn) fail(err error) { c.frames <- frame{err: err} }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out scripted connections in order. A nil entry fails
// that dial, and dials beyond the script are refused.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	if c == nil {
		return nil, errors.New("connection reset")
	}
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type recordingAnimator struct {
	mu      sync.Mutex
	targets map[string]orb.Point
}

func (a *recordingAnimator) UpdateTarget(id string, p orb.Point, speed float64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.targets == nil {
		a.targets = make(map[string]orb.Point)
	}
	a.targets[id] = p
}

type recordingObserver struct {
	mu       sync.Mutex
	vehicles []domain.Vehicle
	alerts   []domain.Alert
}

func (o *recordingObserver) ObserveVehicles(vs []domain.Vehicle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.vehicles = append(o.vehicles, vs...)
}

func (o *recordingObserver) ObserveAlert(a domain.Alert) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts = append(o.alerts, a)
}

var start = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	client   *Client
	clock    *clock.Fake
	store    *fleetstate.Store
	dialer   *fakeDialer
	animator *recordingAnimator
	observer *recordingObserver
}

func newHarness(maxAttempts int, conns ...*fakeConn) *harness {
	h := &harness{
		clock:    clock.NewFake(start),
		store:    fleetstate.NewStore(200),
		dialer:   &fakeDialer{conns: conns},
		animator: &recordingAnimator{},
		observer: &recordingObserver{},
	}
	h.client = NewClient(Options{
		URL:                  "ws://fleet.test/stream",
		ReconnectBase:        time.Second,
		ReconnectCap:         30 * time.Second,
		ReconnectMaxAttempts: maxAttempts,
	}, h.dialer, h.clock, h.store, h.animator, h.observer)
	return h
}

func (h *harness) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.client.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func settle() { time.Sleep(20 * time.Millisecond) }

func TestClient_BackoffUntilMaxRetries(t *testing.T) {
	h := newHarness(3)
	h.run(t)

	eventually(t, func() bool { return h.store.Health().ReconnectAttempts == 1 }, "first reconnect not scheduled")
	if h.dialer.Dials() != 1 {
		t.Fatalf("dials = %d", h.dialer.Dials())
	}

	h.clock.Advance(999 * time.Millisecond)
	settle()
	if h.dialer.Dials() != 1 {
		t.Fatal("redialed before the backoff delay")
	}

	h.clock.Advance(time.Millisecond)
	eventually(t, func() bool { return h.store.Health().ReconnectAttempts == 2 }, "second attempt not scheduled")
	if h.dialer.Dials() != 2 {
		t.Fatalf("dials = %d", h.dialer.Dials())
	}

	h.clock.Advance(2 * time.Second)
	eventually(t, func() bool { return h.store.Health().ReconnectAttempts == 3 }, "third attempt not scheduled")

	h.clock.Advance(4 * time.Second)
	eventually(t, func() bool { return h.store.Health().Status == StatusMaxRetries }, "max retries not surfaced")
	if h.dialer.Dials() != 4 {
		t.Fatalf("dials = %d, want 4", h.dialer.Dials())
	}

	h.clock.Advance(time.Hour)
	settle()
	if h.dialer.Dials() != 4 {
		t.Fatal("client kept retrying past the ceiling")
	}
	if h.client.State() != StateDisconnected {
		t.Fatalf("state = %s", h.client.State())
	}

	if !h.client.Reconnect() {
		t.Fatal("manual reconnect rejected")
	}
	eventually(t, func() bool { return h.dialer.Dials() == 5 }, "manual reconnect did not dial")
	eventually(t, func() bool { return h.store.Health().ReconnectAttempts == 1 }, "manual reconnect did not reset attempts")
}

func TestClient_GoingAwayIsTerminal(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(5, conn)
	h.run(t)

	eventually(t, func() bool { return h.client.State() == StateOpen }, "never opened")
	if !h.store.Health().Connected {
		t.Fatal("store not marked connected")
	}

	conn.closeWith(websocket.CloseGoingAway)
	eventually(t, func() bool { return h.store.Health().Status == StatusMaintenance }, "maintenance status not set")

	h.clock.Advance(time.Hour)
	settle()
	if h.dialer.Dials() != 1 {
		t.Fatalf("graceful close must not reconnect, dials = %d", h.dialer.Dials())
	}
	if h.store.Health().Connected {
		t.Fatal("store still marked connected")
	}
}

func TestClient_AbnormalCloseAfterOpenResetsAttempts(t *testing.T) {
	second := newFakeConn()
	h := newHarness(5, nil, second)
	h.run(t)

	eventually(t, func() bool { return h.dialer.Dials() == 1 && h.store.Health().ReconnectAttempts == 1 }, "first attempt not scheduled")

	h.clock.Advance(time.Second)
	eventually(t, func() bool { return h.client.State() == StateOpen }, "did not open on retry")

	second.closeWith(websocket.CloseAbnormalClosure)
	eventually(t, func() bool { return h.client.State() == StateReconnecting }, "did not schedule reconnect")
	if got := h.store.Health().ReconnectAttempts; got != 1 {
		t.Fatalf("attempts should restart after a successful open, got %d", got)
	}

	h.clock.Advance(999 * time.Millisecond)
	settle()
	if h.dialer.Dials() != 2 {
		t.Fatal("delay should restart at the base interval")
	}
	h.clock.Advance(time.Millisecond)
	eventually(t, func() bool { return h.dialer.Dials() == 3 }, "no redial after base delay")
}

func TestClient_ReceivesAndFlushes(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(5, conn)
	h.run(t)
	eventually(t, func() bool { return h.client.State() == StateOpen }, "never opened")

	conn.send(`{"type":"VEHICLE_UPDATE","data":{"id":"v1","driverName":"Asha","currentLocation":{"lat":12.97,"lng":77.59},"currentSpeed":30}}`)
	conn.send(`{"type":"VEHICLE_UPDATE","data":{"id":"v1","currentLocation":{"lat":12.98,"lng":77.60},"currentSpeed":35}}`)
	conn.send(`garbage`)
	conn.send(`{"type":"TRIP_ALERT","data":{"id":"A1","message":"Trip closed","type":"TRIP_CLOSED"}}`)
	eventually(t, func() bool { return h.store.UnreadCount() == 1 }, "alert not stored")
	eventually(t, func() bool { return h.client.buffer.Len() == 1 }, "update not buffered")

	h.clock.Advance(500 * time.Millisecond)
	eventually(t, func() bool { _, ok := h.store.Vehicle("v1"); return ok }, "vehicle not flushed")

	v, _ := h.store.Vehicle("v1")
	if v.DriverName != "" || v.Speed != 35 || v.Location.Lat != 12.98 {
		t.Fatalf("expected only the latest fix to survive the window, got %+v", v)
	}
	eventually(t, func() bool {
		h.animator.mu.Lock()
		defer h.animator.mu.Unlock()
		return h.animator.targets["v1"] == orb.Point{77.60, 12.98}
	}, "animator not updated")

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	if len(h.observer.alerts) != 1 || len(h.observer.vehicles) != 1 {
		t.Fatalf("observer saw %d alerts and %d vehicles", len(h.observer.alerts), len(h.observer.vehicles))
	}
}

func TestClient_HandleMessageRecordsHeartbeat(t *testing.T) {
	h := newHarness(5)
	h.store.SetSlow(true)

	h.clock.Advance(3 * time.Second)
	h.client.handleMessage([]byte(`{"type":"SOMETHING_ELSE","data":{}}`))

	health := h.store.Health()
	if !health.LastHeartbeat.Equal(start.Add(3 * time.Second)) {
		t.Fatalf("heartbeat = %v", health.LastHeartbeat)
	}
	if health.Slow {
		t.Fatal("heartbeat should clear the slow flag")
	}

	h.clock.Advance(time.Second)
	h.client.handleMessage([]byte(`{{{`))
	if !h.store.LastHeartbeat().Equal(start.Add(3 * time.Second)) {
		t.Fatal("unparsable message must not count as a heartbeat")
	}
}

func TestClient_AlertDedupThroughStream(t *testing.T) {
	h := newHarness(5)
	body := []byte(`{"type":"GEOFENCE_EVENT","data":{"id":"G1","message":"entered"}}`)
	h.client.handleMessage(body)
	h.client.handleMessage(body)

	if h.store.UnreadCount() != 1 || len(h.observer.alerts) != 1 {
		t.Fatalf("unread=%d observed=%d", h.store.UnreadCount(), len(h.observer.alerts))
	}
}

func TestClient_StalenessThresholds(t *testing.T) {
	h := newHarness(5)
	h.store.RegisterHeartbeat(start)

	h.clock.Advance(3 * time.Second)
	h.client.checkStaleness()
	if hl := h.store.Health(); hl.Slow || hl.Stale {
		t.Fatalf("fresh feed flagged: %+v", hl)
	}

	h.clock.Advance(3 * time.Second) // 6s
	h.client.checkStaleness()
	if hl := h.store.Health(); !hl.Slow || hl.Stale {
		t.Fatalf("at 6s expected slow only: %+v", hl)
	}

	h.clock.Advance(6 * time.Second) // 12s
	h.client.checkStaleness()
	if hl := h.store.Health(); hl.Slow || !hl.Stale {
		t.Fatalf("at 12s expected stale only: %+v", hl)
	}

	h.client.handleMessage([]byte(`{"type":"VEHICLE_UPDATE","data":{"id":"v1"}}`))
	if hl := h.store.Health(); hl.Stale || hl.Slow {
		t.Fatalf("heartbeat should clear staleness: %+v", hl)
	}
}

func TestClient_PruneAlerts(t *testing.T) {
	h := newHarness(5)
	h.store.AddAlert(domain.Alert{ID: "old", Message: "m", Timestamp: start})
	h.clock.Advance(6 * time.Minute)
	h.store.AddAlert(domain.Alert{ID: "new", Message: "m", Timestamp: h.clock.Now()})

	h.client.pruneAlerts()
	if alerts := h.store.Alerts(); len(alerts) != 1 || alerts[0].ID != "new" {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
}

func TestClient_ReconnectIgnoredWhileOpen(t *testing.T) {
	h := newHarness(5)
	h.client.setState(StateOpen)
	if h.client.Reconnect() {
		t.Fatal("reconnect should be refused while open")
	}
}

func TestClient_TransportErrorForcesCloseAndReconnects(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(5, conn)
	h.run(t)
	eventually(t, func() bool { return h.client.State() == StateOpen }, "never opened")

	conn.fail(errors.New("connection reset by peer"))
	eventually(t, func() bool { return h.client.State() == StateReconnecting }, "transport error did not schedule a reconnect")

	if !conn.isClosed() {
		t.Fatal("connection not closed after transport error")
	}
	health := h.store.Health()
	if health.Connected || !health.Stale {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.Status != "Connection lost: reconnecting (1/5)" {
		t.Fatalf("status = %q", health.Status)
	}

	h.clock.Advance(time.Second)
	eventually(t, func() bool { return h.dialer.Dials() == 2 }, "no redial after the base delay")
}

func TestClient_InvalidFieldDoesNotDropFix(t *testing.T) {
	h := newHarness(5)
	status := domain.StatusInProgress
	h.store.UpsertVehicle(domain.VehicleUpdate{ID: "v1", Status: &status})

	h.client.handleMessage([]byte(`{"type":"VEHICLE_UPDATE","data":{"id":"v1","currentLocation":{"lat":12.97,"lng":77.59},"status":"parked"}}`))
	h.client.handleMessage([]byte(`{"type":"VEHICLE_UPDATE","data":{"id":"v2","currentLocation":{"lat":12.98,"lng":77.60},"currentSpeed":-1}}`))
	if h.client.buffer.Len() != 2 {
		t.Fatalf("buffered = %d, want 2", h.client.buffer.Len())
	}
	h.client.flush()

	v1, ok := h.store.Vehicle("v1")
	if !ok || v1.Location.Lng != 77.59 || v1.Status != domain.StatusInProgress {
		t.Fatalf("v1 = %+v, want new location and previous status", v1)
	}
	v2, ok := h.store.Vehicle("v2")
	if !ok || v2.Location.Lat != 12.98 || v2.Speed != 0 {
		t.Fatalf("v2 = %+v", v2)
	}
	if h.animator.targets["v1"] != (orb.Point{77.59, 12.97}) || h.animator.targets["v2"] != (orb.Point{77.60, 12.98}) {
		t.Fatalf("animator targets = %v", h.animator.targets)
	}
}
