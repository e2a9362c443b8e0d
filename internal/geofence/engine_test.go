package geofence

import (
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"fleet-monitor/geostream/internal/domain"
)

var (
	hqCenter = orb.Point{77.595, 12.970}
	inHQ     = orb.Point{77.596, 12.971}
	outside  = orb.Point{77.650, 13.050}
)

func newTestEngine() *Engine {
	e := NewEngine(0.01)
	e.LoadGeofences([]*domain.Geofence{
		domain.NewGeofence("hq", "Bangalore HQ", domain.GeofenceArea, hqCenter, 0.005),
		domain.NewGeofence("zone-a", "Zone A", domain.GeofenceStop, orb.Point{77.585, 12.965}, 0.002),
	})
	return e
}

func sample(id string, p orb.Point) []domain.PositionSample {
	return []domain.PositionSample{{VehicleID: id, Point: p}}
}

func TestEngine_StationaryIsIdempotent(t *testing.T) {
	e := newTestEngine()

	first := e.ProcessBatch(sample("v1", inHQ))
	if len(first) != 1 || first[0].Kind != domain.TransitionEntry {
		t.Fatalf("expected one ENTRY, got %+v", first)
	}
	if again := e.ProcessBatch(sample("v1", inHQ)); len(again) != 0 {
		t.Fatalf("expected no events while stationary, got %+v", again)
	}
}

func TestEngine_EntryExitPairing(t *testing.T) {
	e := newTestEngine()
	path := []orb.Point{outside, outside, inHQ, hqCenter, inHQ, outside, outside}

	var events []domain.TransitionEvent
	for _, p := range path {
		events = append(events, e.ProcessBatch(sample("v1", p))...)
	}

	if len(events) != 2 {
		t.Fatalf("expected exactly 2 events, got %+v", events)
	}
	if events[0].Kind != domain.TransitionEntry || events[1].Kind != domain.TransitionExit {
		t.Fatalf("expected ENTRY then EXIT, got %s then %s", events[0].Kind, events[1].Kind)
	}
	if events[1].GeofenceName != "Bangalore HQ" {
		t.Errorf("EXIT should carry the zone name, got %q", events[1].GeofenceName)
	}
}

func TestEngine_FirstSightingInsideFiresEntry(t *testing.T) {
	e := newTestEngine()

	events := e.ProcessBatch(sample("v9", hqCenter))
	if len(events) != 1 || events[0].GeofenceID != "hq" || events[0].VehicleID != "v9" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestEngine_VehiclesAreIndependent(t *testing.T) {
	e := newTestEngine()
	e.ProcessBatch(sample("v1", inHQ))

	events := e.ProcessBatch([]domain.PositionSample{
		{VehicleID: "v1", Point: inHQ},
		{VehicleID: "v2", Point: inHQ},
	})
	if len(events) != 1 || events[0].VehicleID != "v2" {
		t.Fatalf("expected only v2 ENTRY, got %+v", events)
	}
	if got := e.Inside("v1"); len(got) != 1 || got[0] != "hq" {
		t.Fatalf("v1 containment changed: %v", got)
	}
}

func TestEngine_ReloadRemovingZoneEmitsExit(t *testing.T) {
	e := newTestEngine()
	e.ProcessBatch(sample("v1", inHQ))

	e.LoadGeofences([]*domain.Geofence{
		domain.NewGeofence("zone-a", "Zone A", domain.GeofenceStop, orb.Point{77.585, 12.965}, 0.002),
	})
	if got := e.Inside("v1"); len(got) != 1 {
		t.Fatalf("reload must not touch remembered state, got %v", got)
	}

	events := e.ProcessBatch(sample("v1", inHQ))
	if len(events) != 1 || events[0].Kind != domain.TransitionExit || events[0].GeofenceName != "Bangalore HQ" {
		t.Fatalf("expected EXIT from removed zone, got %+v", events)
	}
}

func TestEngine_OverlappingZones(t *testing.T) {
	e := NewEngine(0.01)
	e.LoadGeofences([]*domain.Geofence{
		domain.NewGeofence("big", "Big", domain.GeofenceArea, hqCenter, 0.005),
		domain.NewGeofence("small", "Small", domain.GeofenceStop, hqCenter, 0.001),
	})

	if events := e.ProcessBatch(sample("v1", hqCenter)); len(events) != 2 {
		t.Fatalf("expected ENTRY into both zones, got %+v", events)
	}
	events := e.ProcessBatch(sample("v1", orb.Point{77.598, 12.970}))
	if len(events) != 1 || events[0].GeofenceID != "small" || events[0].Kind != domain.TransitionExit {
		t.Fatalf("expected EXIT from small only, got %+v", events)
	}
}

func TestEngine_EmptyIndex(t *testing.T) {
	e := NewEngine(0.01)
	if events := e.ProcessBatch(sample("v1", hqCenter)); len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestEngine_ScenarioWithinBudget(t *testing.T) {
	s := DefaultScenario(42)
	fences := s.Generate()
	points := s.RandomPoints(1000)

	batch := make([]domain.PositionSample, len(points))
	for i, p := range points {
		batch[i] = domain.PositionSample{VehicleID: vehicleName(i), Point: p}
	}

	e := NewEngine(0.01)
	start := time.Now()
	e.LoadGeofences(fences)
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Errorf("index build took %s", d)
	}

	start = time.Now()
	e.ProcessBatch(batch[:1])
	if d := time.Since(start); d > time.Millisecond {
		t.Errorf("single vehicle check took %s", d)
	}

	start = time.Now()
	e.ProcessBatch(batch)
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("1000 vehicle batch took %s", d)
	}
	if e.GeofenceCount() != 2500 {
		t.Errorf("GeofenceCount = %d", e.GeofenceCount())
	}
}

func BenchmarkEngine_LoadGeofences(b *testing.B) {
	fences := DefaultScenario(42).Generate()
	e := NewEngine(0.01)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.LoadGeofences(fences)
	}
}

func BenchmarkEngine_ProcessBatch(b *testing.B) {
	s := DefaultScenario(42)
	e := NewEngine(0.01)
	e.LoadGeofences(s.Generate())

	points := s.RandomPoints(1000)
	batch := make([]domain.PositionSample, len(points))
	for i, p := range points {
		batch[i] = domain.PositionSample{VehicleID: vehicleName(i), Point: p}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.ProcessBatch(batch)
	}
}

func vehicleName(i int) string {
	return fmt.Sprintf("veh-%04d", i)
}
