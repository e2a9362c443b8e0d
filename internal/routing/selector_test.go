package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

type mockFetcher struct {
	fetchFn func(ctx context.Context, vehicleID string) (Route, error)
}

func (m *mockFetcher) FetchRoute(ctx context.Context, vehicleID string) (Route, error) {
	return m.fetchFn(ctx, vehicleID)
}

type recordingSelection struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingSelection) SelectVehicle(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func TestSelector_NewSelectionAbortsPrevious(t *testing.T) {
	aborted := make(chan struct{})
	fetcher := &mockFetcher{fetchFn: func(ctx context.Context, id string) (Route, error) {
		if id == "v1" {
			<-ctx.Done()
			close(aborted)
			return Route{}, ctx.Err()
		}
		return Route{VehicleID: id, Path: orb.LineString{{77.5, 12.9}, {77.6, 13.0}}}, nil
	}}
	sel := &recordingSelection{}
	s := NewSelector(fetcher, sel)
	defer s.Close()

	s.Select("v1")
	s.Select("v2")

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("first lookup was not cancelled")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if r, ok := s.Current(); ok {
			if r.VehicleID != "v2" || len(r.Path) != 2 {
				t.Fatalf("unexpected route %+v", r)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("route for v2 never arrived")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if len(sel.ids) != 2 || sel.ids[1] != "v2" {
		t.Fatalf("selection history = %v", sel.ids)
	}
}

func TestSelector_ClearSelection(t *testing.T) {
	s := NewSelector(&mockFetcher{fetchFn: func(ctx context.Context, id string) (Route, error) {
		return Route{VehicleID: id}, nil
	}}, &recordingSelection{})
	defer s.Close()

	s.Select("v1")
	s.Close()
	s.Select("")
	if _, ok := s.Current(); ok {
		t.Fatal("clearing the selection should drop the route")
	}
}

func TestSelector_FailedLookupLeavesNoRoute(t *testing.T) {
	s := NewSelector(&mockFetcher{fetchFn: func(context.Context, string) (Route, error) {
		return Route{}, ErrRouteNotFound
	}}, &recordingSelection{})

	s.Select("v1")
	s.Close()
	if _, ok := s.Current(); ok {
		t.Fatal("failed lookup should not produce a route")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/routes/v1":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"tripId":"t1","path":[[77.5,12.9],[77.6,13.0]],"stops":[{"id":"s1","name":"Gate","location":[77.6,13.0]}]}`))
		case "/routes/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL)
	r, err := f.FetchRoute(context.Background(), "v1")
	if err != nil {
		t.Fatalf("FetchRoute: %v", err)
	}
	if r.VehicleID != "v1" || r.TripID != "t1" || len(r.Stops) != 1 || r.Stops[0].Location != (orb.Point{77.6, 13.0}) {
		t.Fatalf("unexpected route %+v", r)
	}

	if _, err := f.FetchRoute(context.Background(), "v404"); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("err = %v, want ErrRouteNotFound", err)
	}
	if _, err := f.FetchRoute(context.Background(), "broken"); err == nil {
		t.Fatal("expected an error for a 502")
	}
}
