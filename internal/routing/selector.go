// Package routing fetches the planned route for the vehicle an operator has
// selected. Selecting another vehicle aborts the lookup still in flight.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrRouteNotFound = errors.New("route not found")

type Stop struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Location orb.Point `json:"location"`
}

type Route struct {
	VehicleID string         `json:"vehicleId"`
	TripID    string         `json:"tripId,omitempty"`
	Path      orb.LineString `json:"path"`
	Stops     []Stop         `json:"stops,omitempty"`
}

type Fetcher interface {
	FetchRoute(ctx context.Context, vehicleID string) (Route, error)
}

// HTTPFetcher reads routes from GET {BaseURL}/routes/{vehicleID}.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{BaseURL: baseURL, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (f *HTTPFetcher) FetchRoute(ctx context.Context, vehicleID string) (Route, error) {
	endpoint, err := url.JoinPath(f.BaseURL, "routes", vehicleID)
	if err != nil {
		return Route{}, fmt.Errorf("build route url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Route{}, fmt.Errorf("build route request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("fetch route: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Route{}, ErrRouteNotFound
	case resp.StatusCode != http.StatusOK:
		return Route{}, fmt.Errorf("fetch route: unexpected status %d", resp.StatusCode)
	}

	var r Route
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Route{}, fmt.Errorf("decode route: %w", err)
	}
	if r.VehicleID == "" {
		r.VehicleID = vehicleID
	}
	return r, nil
}

// SelectionStore records which vehicle is selected.
type SelectionStore interface {
	SelectVehicle(id string)
}

type Selector struct {
	fetcher Fetcher
	store   SelectionStore

	mu      sync.Mutex
	seq     uint64
	cancel  context.CancelFunc
	current *Route
	wg      conc.WaitGroup
}

// NewSelector wires a selector. With a nil fetcher only the selection is
// recorded.
func NewSelector(fetcher Fetcher, store SelectionStore) *Selector {
	return &Selector{fetcher: fetcher, store: store}
}

// Select makes id the selected vehicle and starts its route lookup,
// cancelling the previous one. An empty id clears the selection.
func (s *Selector) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.seq++
	s.current = nil
	s.store.SelectVehicle(id)

	if id == "" || s.fetcher == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	seq := s.seq
	s.wg.Go(func() { s.lookup(ctx, seq, id) })
}

func (s *Selector) lookup(ctx context.Context, seq uint64, id string) {
	r, err := s.fetcher.FetchRoute(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.seq {
		log.Debug().Str("vehicle", id).Msg("Discarding superseded route lookup")
		return
	}
	s.cancel = nil
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("vehicle", id).Msg("Route lookup failed")
		}
		return
	}
	s.current = &r
}

// Current returns the route of the selected vehicle once it has arrived.
func (s *Selector) Current() (Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Route{}, false
	}
	return *s.current, true
}

// Close aborts any lookup in flight and waits for it to return.
func (s *Selector) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.seq++
	s.mu.Unlock()
	s.wg.Wait()
}
