// Package scoring picks the next item for the collector.
//
// The choice is greedy and single-pass. Candidates that cannot be fetched and
// delivered before health runs out are dropped outright. The rest are ranked by
// value against travel time, with the weights leaning toward short trips as
// health falls.
package scoring

import (
	"math"

	"caddie.ai/internal/sim/geom"
	"caddie.ai/internal/sim/items"
)

// Weight curve endpoints: at full health value dominates, at zero health time does.
const (
	PointWeightFull  = 1.5
	PointWeightEmpty = 0.5
	TimeWeightFull   = 0.5
	TimeWeightEmpty  = 1.5
)

// Context is the agent snapshot for one decision pass.
type Context struct {
	AgentPos      geom.Vec3
	Health        float64
	MaxHealth     float64
	DepletionRate float64 // health per second
	Speed         float64 // distance per second
	DeliveryPos   geom.Vec3
}

// PathDistance is the walkable path length between two points; ok=false means no path.
type PathDistance func(a, b geom.Vec3) (dist float64, ok bool)

// RemainingBudget is the number of seconds the agent can still act.
func (c Context) RemainingBudget() float64 {
	if !(c.DepletionRate > 0) {
		return math.Inf(1)
	}
	if c.Health <= 0 {
		return 0
	}
	return c.Health / c.DepletionRate
}

// HealthFraction is health/max clamped to [0,1].
func (c Context) HealthFraction() float64 {
	if !(c.MaxHealth > 0) {
		return 0
	}
	return geom.Clamp01(c.Health / c.MaxHealth)
}

// Weights returns the point and time weights for a health fraction.
func Weights(healthFraction float64) (pointWeight, timeWeight float64) {
	t := 1 - geom.Clamp01(healthFraction)
	return geom.Lerp(PointWeightFull, PointWeightEmpty, t), geom.Lerp(TimeWeightFull, TimeWeightEmpty, t)
}

// Candidate is one row of a decision pass.
type Candidate struct {
	Item          *items.Item
	TimeToItem    float64
	TimeToDeliver float64
	TotalTime     float64
	Feasible      bool
	Score         float64
}

func travelTime(dist PathDistance, a, b geom.Vec3, speed float64) float64 {
	if dist == nil || !(speed > 0) {
		return math.Inf(1)
	}
	d, ok := dist(a, b)
	if !ok || math.IsNaN(d) || d < 0 {
		return math.Inf(1)
	}
	return d / speed
}

// Evaluate scores every candidate in input order. Infeasible rows keep Score=-Inf.
func Evaluate(ctx Context, candidates []*items.Item, dist PathDistance) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	budget := ctx.RemainingBudget()
	pw, tw := Weights(ctx.HealthFraction())
	for _, it := range candidates {
		if it == nil {
			continue
		}
		c := Candidate{Item: it, Score: math.Inf(-1)}
		c.TimeToItem = travelTime(dist, ctx.AgentPos, it.Pos, ctx.Speed)
		c.TimeToDeliver = travelTime(dist, it.Pos, ctx.DeliveryPos, ctx.Speed)
		c.TotalTime = c.TimeToItem + c.TimeToDeliver
		if !math.IsInf(c.TotalTime, 1) && c.TotalTime <= budget {
			c.Feasible = true
			c.Score = float64(it.Value)*pw - c.TotalTime*tw
		}
		out = append(out, c)
	}
	return out
}

// SelectBest returns the feasible candidate with the strictly highest score.
// Ties keep the earliest candidate, so callers must pass a stable order.
func SelectBest(ctx Context, candidates []*items.Item, dist PathDistance) (*items.Item, bool) {
	best, ok := Best(Evaluate(ctx, candidates, dist))
	if !ok {
		return nil, false
	}
	return best.Item, true
}

// Best picks the winning row of an evaluated pass.
func Best(rows []Candidate) (Candidate, bool) {
	var (
		best  Candidate
		found bool
	)
	for _, c := range rows {
		if !c.Feasible {
			continue
		}
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	return best, found
}
