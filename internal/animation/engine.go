// Package animation turns sparse position reports into a smooth per-frame
// stream by interpolating each vehicle along its latest reported segment.
package animation

import (
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"fleet-monitor/geostream/internal/domain"
)

const (
	DefaultReportingInterval = time.Second
	DefaultJitterMeters      = 1.0

	// headingRate makes rotation finish in a third of the segment.
	headingRate = 3.0
)

// State is the animation record for one vehicle. Rendered equals Target
// whenever T is 1.
type State struct {
	ID            string
	From          orb.Point
	Target        orb.Point
	Rendered      orb.Point
	T             float64
	Heading       float64
	FromHeading   float64
	TargetHeading float64
	StartedAt     time.Time
	Speed         float64
	Moving        bool
}

type Engine struct {
	mu           sync.Mutex
	interval     time.Duration
	jitterMeters float64
	states       map[string]*State
	seeded       bool
}

func NewEngine(reportingInterval time.Duration, jitterMeters float64) *Engine {
	if reportingInterval <= 0 {
		reportingInterval = DefaultReportingInterval
	}
	if jitterMeters < 0 {
		jitterMeters = DefaultJitterMeters
	}
	return &Engine{
		interval:     reportingInterval,
		jitterMeters: jitterMeters,
		states:       make(map[string]*State),
	}
}

// UpdateTarget starts a new segment from the current rendered position to p.
// An unseen vehicle is placed at p without animation, and a fix closer than
// the jitter threshold to the rendered position is ignored.
func (e *Engine) UpdateTarget(id string, p orb.Point, speed float64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.states[id]
	if !ok {
		e.states[id] = &State{
			ID:        id,
			From:      p,
			Target:    p,
			Rendered:  p,
			T:         1,
			StartedAt: now,
			Speed:     speed,
		}
		e.seeded = true
		return
	}

	s.Speed = speed
	if geo.DistanceHaversine(s.Rendered, p) < e.jitterMeters {
		return
	}

	s.From = s.Rendered
	s.Target = p
	s.FromHeading = s.Heading
	s.TargetHeading = bearing(s.Rendered, p)
	s.T = 0
	s.StartedAt = now
}

// Tick advances every unfinished segment to now. It reports whether any
// vehicle moved or was first placed since the previous tick.
func (e *Engine) Tick(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := e.seeded
	e.seeded = false

	for _, s := range e.states {
		if s.T >= 1 {
			s.Moving = false
			continue
		}
		changed = true
		s.Moving = true

		t := float64(now.Sub(s.StartedAt)) / float64(e.interval)
		if t < 0 {
			t = 0
		}
		if t >= 1 {
			s.T = 1
			s.Rendered = s.Target
			s.Heading = s.TargetHeading
			continue
		}
		s.T = t
		s.Rendered = lerpPoint(s.From, s.Target, t)
		s.Heading = lerpAngle(s.FromHeading, s.TargetHeading, min(t*headingRate, 1))
	}
	return changed
}

// Positions returns the rendered position of every vehicle, ordered by id.
func (e *Engine) Positions() []domain.PositionSample {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.PositionSample, 0, len(e.states))
	for _, s := range e.states {
		out = append(out, domain.PositionSample{VehicleID: s.ID, Point: s.Rendered})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

// Snapshot copies every state, ordered by id.
func (e *Engine) Snapshot() []State {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]State, 0, len(e.states))
	for _, s := range e.states {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) Get(id string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.states[id]
	if !ok {
		return State{}, false
	}
	return *s, true
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}
