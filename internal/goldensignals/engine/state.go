package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/armadaproject/goldensignals/internal/goldensignals/workload"
)

// State is the phase a single run is in.
type State int

const (
	Idle State = iota
	ContextEstablished
	Running
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case ContextEstablished:
		return "ContextEstablished"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	}
	return "Unknown"
}

// lifecycle follows one run through its states, logging every transition at debug.
type lifecycle struct {
	state State
	log   *logrus.Entry
}

func (l *lifecycle) to(next State) {
	l.log.WithFields(logrus.Fields{"from": l.state, "to": next}).Debug("State transition")
	l.state = next
}

func (l *lifecycle) complete(outcome workload.Outcome) {
	l.log.WithFields(logrus.Fields{"from": l.state, "to": Completed, "outcome": outcome}).Debug("State transition")
	l.state = Completed
}
