package agent

import "fmt"

type Status int

const (
	StatusStopped Status = iota
	StatusDeciding
	StatusMovingToItem
	StatusPickingUp
	StatusMovingToDelivery
	StatusDroppingOff
	StatusFinished
)

var statusNames = [...]string{
	StatusStopped:          "STOPPED",
	StatusDeciding:         "DECIDING",
	StatusMovingToItem:     "MOVING_TO_ITEM",
	StatusPickingUp:        "PICKING_UP",
	StatusMovingToDelivery: "MOVING_TO_DELIVERY",
	StatusDroppingOff:      "DROPPING_OFF",
	StatusFinished:         "FINISHED",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// next lists the legal transitions. Finished is reachable from anywhere.
var next = map[Status][]Status{
	StatusStopped:          {StatusDeciding},
	StatusDeciding:         {StatusStopped, StatusMovingToItem},
	StatusMovingToItem:     {StatusPickingUp},
	StatusPickingUp:        {StatusMovingToDelivery, StatusStopped},
	StatusMovingToDelivery: {StatusDroppingOff},
	StatusDroppingOff:      {StatusStopped},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	if to == StatusFinished {
		return from != StatusFinished
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeFailure:
		return "FAILURE"
	default:
		return "NONE"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Label is the end-of-game message shown to players.
func (o Outcome) Label() string {
	switch o {
	case OutcomeSuccess:
		return "Congratulations"
	case OutcomeFailure:
		return "Game Over"
	default:
		return ""
	}
}
