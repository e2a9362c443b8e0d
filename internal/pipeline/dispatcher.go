package pipeline

import (
	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/metrics"
)

// Dispatcher fans flushed vehicles, accepted alerts and transitions out to
// the background writers. Sends never block; a full channel drops and counts.
type Dispatcher struct {
	HistoryChan chan domain.Alert
	StateChan   chan domain.Vehicle
	RuleChan    chan domain.Vehicle
	EventChan   chan domain.TransitionEvent
}

func NewDispatcher(historySize, stateSize, ruleSize, eventSize int) *Dispatcher {
	return &Dispatcher{
		HistoryChan: make(chan domain.Alert, historySize),
		StateChan:   make(chan domain.Vehicle, stateSize),
		RuleChan:    make(chan domain.Vehicle, ruleSize),
		EventChan:   make(chan domain.TransitionEvent, eventSize),
	}
}

func (d *Dispatcher) ObserveVehicles(vehicles []domain.Vehicle) {
	for _, v := range vehicles {
		select {
		case d.StateChan <- v:
		default:
			metrics.StateChannelDrops.Add(1)
		}

		select {
		case d.RuleChan <- v:
		default:
			metrics.RuleChannelDrops.Add(1)
		}
	}
}

func (d *Dispatcher) ObserveAlert(a domain.Alert) {
	select {
	case d.HistoryChan <- a:
	default:
		metrics.HistoryChannelDrops.Add(1)
	}
}

func (d *Dispatcher) DispatchTransition(e domain.TransitionEvent) {
	select {
	case d.EventChan <- e:
	default:
		metrics.EventChannelDrops.Add(1)
	}
}
