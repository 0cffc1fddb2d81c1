package session

import (
	"time"

	"caddie.ai/internal/sim/agent"
	"caddie.ai/internal/sim/geom"
	"caddie.ai/internal/sim/items"
)

// Meta stamps every notification. Seq restarts at 1 for each session.
type Meta struct {
	SessionID string
	SimTime   time.Duration
	Seq       uint64
}

// Start describes a session that has just begun.
type Start struct {
	ID        string
	Config    Config
	StartPos  geom.Vec3
	StartedAt time.Time
}

// Sink receives session outcome notifications. Calls happen on the goroutine
// that drives the coordinator; implementations must not block and must not
// call back into the coordinator.
type Sink interface {
	SessionEnded(m Meta, r Result)
	PointsEarned(m Meta, amount, score int)
	HealthChanged(m Meta, health float64)
}

// PresentationSink is optionally implemented by sinks that also want the
// informational stream.
type PresentationSink interface {
	SessionStarted(m Meta, s Start)
	ItemsReady(m Meta, active []items.View)
	PhaseChanged(m Meta, from, to agent.Status)
	Decision(m Meta, d DecisionView)
	ItemPickedUp(m Meta, it items.View)
	ItemDroppedOff(m Meta, it items.View)
}

// DecisionView is agent.Decision with the chosen item copied out.
type DecisionView struct {
	Candidates int
	Feasible   int
	Budget     float64
	Chosen     *items.View
	Score      float64
	TotalTime  float64
}

func viewDecision(d agent.Decision) DecisionView {
	v := DecisionView{
		Candidates: d.Candidates,
		Feasible:   d.Feasible,
		Budget:     d.Budget,
		Score:      d.Score,
		TotalTime:  d.TotalTime,
	}
	if d.Chosen != nil {
		c := d.Chosen.View()
		v.Chosen = &c
	}
	return v
}

// NopSink implements every callback as a no-op; embed it to pick a subset.
type NopSink struct{}

func (NopSink) SessionEnded(Meta, Result) {}
func (NopSink) PointsEarned(Meta, int, int) {}
func (NopSink) HealthChanged(Meta, float64) {}
func (NopSink) SessionStarted(Meta, Start) {}
func (NopSink) ItemsReady(Meta, []items.View) {}
func (NopSink) PhaseChanged(Meta, agent.Status, agent.Status) {}
func (NopSink) Decision(Meta, DecisionView) {}
func (NopSink) ItemPickedUp(Meta, items.View) {}
func (NopSink) ItemDroppedOff(Meta, items.View) {}
