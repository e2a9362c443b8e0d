package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"fleet-monitor/geostream/internal/domain"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrMissingVehicleID = errors.New("vehicle update without id")
	ErrInvalidVehicle   = errors.New("invalid vehicle update")
	ErrMalformedAlert   = errors.New("alert without id or message")
)

type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindVehicleUpdate
	KindTripAlert
	KindGeofenceEvent
)

func (k MessageKind) String() string {
	switch k {
	case KindVehicleUpdate:
		return "VEHICLE_UPDATE"
	case KindTripAlert:
		return "TRIP_ALERT"
	case KindGeofenceEvent:
		return "GEOFENCE_EVENT"
	default:
		return "UNKNOWN"
	}
}

func parseKind(tag string) MessageKind {
	switch tag {
	case "VEHICLE_UPDATE":
		return KindVehicleUpdate
	case "TRIP_ALERT":
		return KindTripAlert
	case "GEOFENCE_EVENT":
		return KindGeofenceEvent
	default:
		return KindUnknown
	}
}

// Message is an inbound frame with its kind decoded and its payload left raw
// until the kind-specific accessor is called.
type Message struct {
	Kind MessageKind
	Tag  string
	Data json.RawMessage
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses the outer envelope. Any JSON error is reported as
// ErrMalformedMessage.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return Message{Kind: parseKind(env.Type), Tag: env.Type, Data: env.Data}, nil
}

type vehiclePayload struct {
	ID              string           `json:"id"`
	TripID          *string          `json:"tripId"`
	DriverName      *string          `json:"driverName"`
	PlateNumber     *string          `json:"plateNumber"`
	CurrentLocation *domain.Location `json:"currentLocation"`
	CurrentSpeed    *float64         `json:"currentSpeed" validate:"omitempty,gte=0"`
	Status          *string          `json:"status" validate:"omitempty,oneof=idle in-progress delayed completed cancelled"`
	ETANextStop     *float64         `json:"etaNextStop"`
}

type alertPayload struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	VehicleID string `json:"vehicleId"`
	TripID    string `json:"tripId"`
	Type      string `json:"type"`
	Read      bool   `json:"read"`
}

var validate = newValidator()

// newValidator reports fields by their JSON names so a failed field can be
// mapped back to the payload key it came from.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// drop clears the optional field behind a payload key.
func (p *vehiclePayload) drop(field string) {
	switch field {
	case "currentLocation":
		p.CurrentLocation = nil
	case "currentSpeed":
		p.CurrentSpeed = nil
	case "status":
		p.Status = nil
	}
}

// VehicleUpdate decodes a VEHICLE_UPDATE payload. Fields absent from the
// payload stay nil so the store merge preserves them. An optional field that
// fails validation is dropped and its key returned in invalid; the rest of
// the update is kept. Only a missing id or an undecodable payload is an error.
func (m Message) VehicleUpdate(receivedAt time.Time) (u domain.VehicleUpdate, invalid []string, err error) {
	var p vehiclePayload
	if len(m.Data) == 0 {
		return domain.VehicleUpdate{}, nil, ErrMissingVehicleID
	}
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return domain.VehicleUpdate{}, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if p.ID == "" {
		return domain.VehicleUpdate{}, nil, ErrMissingVehicleID
	}

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return domain.VehicleUpdate{}, nil, fmt.Errorf("%w %s: %v", ErrInvalidVehicle, p.ID, err)
		}
		for _, fe := range verrs {
			// vehiclePayload.currentLocation.lat -> currentLocation
			parts := strings.SplitN(fe.Namespace(), ".", 3)
			if len(parts) < 2 || slices.Contains(invalid, parts[1]) {
				continue
			}
			p.drop(parts[1])
			invalid = append(invalid, parts[1])
		}
	}

	u = domain.VehicleUpdate{
		ID:          p.ID,
		TripID:      p.TripID,
		DriverName:  p.DriverName,
		PlateNumber: p.PlateNumber,
		Location:    p.CurrentLocation,
		Speed:       p.CurrentSpeed,
		ETAMinutes:  p.ETANextStop,
		ReceivedAt:  receivedAt,
	}
	if p.Status != nil {
		s := domain.VehicleStatus(*p.Status)
		u.Status = &s
	}
	return u, invalid, nil
}

// Alert decodes a TRIP_ALERT or GEOFENCE_EVENT payload. A missing timestamp
// is replaced by receivedAt and an unrecognised type leaves Kind empty.
func (m Message) Alert(receivedAt time.Time) (domain.Alert, error) {
	var p alertPayload
	if len(m.Data) == 0 {
		return domain.Alert{}, ErrMalformedAlert
	}
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return domain.Alert{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if p.ID == "" || p.Message == "" {
		return domain.Alert{}, ErrMalformedAlert
	}

	kind, err := domain.ParseAlertKind(p.Type)
	if err != nil {
		kind = ""
	}
	ts := receivedAt
	if p.Timestamp > 0 {
		ts = time.UnixMilli(p.Timestamp)
	}
	return domain.Alert{
		ID:        p.ID,
		Message:   p.Message,
		Timestamp: ts,
		VehicleID: p.VehicleID,
		TripID:    p.TripID,
		Kind:      kind,
		Read:      p.Read,
	}, nil
}
