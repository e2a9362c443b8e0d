package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"

	"fleet-monitor/geostream/internal/auth"
	"fleet-monitor/geostream/internal/clock"
	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/fleetstate"
	"fleet-monitor/geostream/internal/routing"
)

type mockLoader struct {
	loadFn func(fences []*domain.Geofence)
}

func (m *mockLoader) LoadGeofences(fences []*domain.Geofence) { m.loadFn(fences) }

type mockReconnector struct {
	reconnectFn func() bool
}

func (m *mockReconnector) Reconnect() bool { return m.reconnectFn() }

type mockSelector struct {
	selectFn  func(id string)
	currentFn func() (routing.Route, bool)
}

func (m *mockSelector) Select(id string) { m.selectFn(id) }
func (m *mockSelector) Current() (routing.Route, bool) { return m.currentFn() }

type fixture struct {
	router   *gin.Engine
	store    *fleetstate.Store
	loaded   []*domain.Geofence
	selected []string
	accept   bool
}

func newFixture(keys ...string) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{store: fleetstate.NewStore(200), accept: true}

	store := f.store
	loader := &mockLoader{loadFn: func(fences []*domain.Geofence) {
		f.loaded = fences
		store.SetGeofences(fences)
	}}
	selector := &mockSelector{
		selectFn: func(id string) {
			f.selected = append(f.selected, id)
			store.SelectVehicle(id)
		},
		currentFn: func() (routing.Route, bool) {
			return routing.Route{VehicleID: "v1", Path: orb.LineString{{77.5, 12.9}, {77.6, 13.0}}}, true
		},
	}

	f.router = NewRouter(Deps{
		Store:     store,
		Geofences: loader,
		Stream:    &mockReconnector{reconnectFn: func() bool { return f.accept }},
		Selector:  selector,
		Auth:      auth.NewAuthenticator(keys, time.Minute, nil, clock.Real()),
	})
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func seedVehicle(s *fleetstate.Store, id string) {
	name := "Asha"
	s.UpsertVehicle(domain.VehicleUpdate{ID: id, DriverName: &name, Location: &domain.Location{Lat: 12.97, Lng: 77.59}})
}

func TestAuth_RequiresKey(t *testing.T) {
	f := newFixture("secret")

	if w := f.do("GET", "/vehicles", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no key: %d", w.Code)
	}
	if w := f.do("GET", "/vehicles", "", "X-API-Key", "wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad key: %d", w.Code)
	}
	if w := f.do("GET", "/vehicles", "", "X-API-Key", "secret"); w.Code != http.StatusOK {
		t.Fatalf("good key: %d", w.Code)
	}
	if w := f.do("GET", "/vehicles?api_key=secret", ""); w.Code != http.StatusOK {
		t.Fatalf("query key: %d", w.Code)
	}
	if w := f.do("GET", "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health should be public: %d", w.Code)
	}
	if w := f.do("GET", "/metrics", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "geostream_frames_total") {
		t.Fatalf("metrics: %d %s", w.Code, w.Body.String())
	}
}

func TestVehicles(t *testing.T) {
	f := newFixture()
	seedVehicle(f.store, "v1")

	w := f.do("GET", "/vehicles/v1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var v domain.Vehicle
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.DriverName != "Asha" || v.Location.Lng != 77.59 {
		t.Errorf("unexpected vehicle %+v", v)
	}

	if w := f.do("GET", "/vehicles/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing vehicle: %d", w.Code)
	}
}

func TestAlerts_Lifecycle(t *testing.T) {
	f := newFixture()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.store.AddAlert(domain.Alert{ID: "a1", Message: "one", Timestamp: now})
	f.store.AddAlert(domain.Alert{ID: "a2", Message: "two", Timestamp: now})
	f.store.AddAlert(domain.Alert{ID: "a3", Message: "three", Timestamp: now})

	if w := f.do("POST", "/alerts/a1/read", ""); w.Code != http.StatusNoContent {
		t.Fatalf("mark read: %d", w.Code)
	}
	if w := f.do("DELETE", "/alerts/a2", ""); w.Code != http.StatusNoContent {
		t.Fatalf("dismiss: %d", w.Code)
	}

	var resp alertsResponse
	w := f.do("GET", "/alerts", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Alerts) != 2 || resp.Unread != 1 || resp.Alerts[0].ID != "a3" {
		t.Fatalf("unexpected alerts %+v", resp)
	}

	if w := f.do("POST", "/alerts/read-all", ""); w.Code != http.StatusNoContent {
		t.Fatalf("read all: %d", w.Code)
	}
	if f.store.UnreadCount() != 0 {
		t.Fatal("unread count not cleared")
	}
}

const geofenceDoc = `
geofences:
  - id: depot
    name: Depot
    kind: area
    lng: 77.60
    lat: 12.97
    radiusDeg: 0.005
  - id: stop-1
    name: Gate
    kind: stop
    lng: 77.70
    lat: 13.05
    radiusMeters: 200
`

func TestGeofences_ReplaceAndCull(t *testing.T) {
	f := newFixture()

	w := f.do("PUT", "/geofences", geofenceDoc)
	if w.Code != http.StatusOK {
		t.Fatalf("replace: %d %s", w.Code, w.Body.String())
	}
	if len(f.loaded) != 2 {
		t.Fatalf("loaded = %d", len(f.loaded))
	}

	w = f.do("GET", "/geofences?bbox=77.55,12.90,77.65,13.00", "")
	var fences []domain.Geofence
	if err := json.Unmarshal(w.Body.Bytes(), &fences); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(fences) != 1 || fences[0].ID != "depot" {
		t.Fatalf("unexpected culled set %+v", fences)
	}

	if w := f.do("GET", "/geofences?bbox=nonsense", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad bbox: %d", w.Code)
	}
	if w := f.do("PUT", "/geofences", "geofences: [{id: x}]"); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid definition: %d", w.Code)
	}
	if len(f.loaded) != 2 {
		t.Fatal("rejected document must not replace the set")
	}
}

func TestGeofences_RejectsOversizedDocument(t *testing.T) {
	f := newFixture()

	body := geofenceDoc + "#" + strings.Repeat("x", maxGeofenceBody)
	w := f.do("PUT", "/geofences", body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized document: %d %s", w.Code, w.Body.String())
	}
	if f.loaded != nil {
		t.Fatal("oversized document must not replace the set")
	}
}

func TestSelection(t *testing.T) {
	f := newFixture()
	seedVehicle(f.store, "v1")

	if w := f.do("PUT", "/selection", `{"vehicleId":"v1"}`); w.Code != http.StatusAccepted {
		t.Fatalf("select: %d", w.Code)
	}
	if w := f.do("PUT", "/selection", `{"vehicleId":"ghost"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown vehicle: %d", w.Code)
	}
	if w := f.do("PUT", "/selection", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad body: %d", w.Code)
	}

	var resp selectionResponse
	w := f.do("GET", "/selection", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.VehicleID != "v1" || resp.Route == nil || len(resp.Route.Path) != 2 {
		t.Fatalf("unexpected selection %+v", resp)
	}
	if len(f.selected) != 1 {
		t.Fatalf("selector calls = %v", f.selected)
	}
}

func TestReconnect(t *testing.T) {
	f := newFixture()

	if w := f.do("POST", "/connection/reconnect", ""); w.Code != http.StatusAccepted {
		t.Fatalf("accepted: %d", w.Code)
	}
	f.accept = false
	if w := f.do("POST", "/connection/reconnect", ""); w.Code != http.StatusConflict {
		t.Fatalf("refused: %d", w.Code)
	}
}
