package agent

import "caddie.ai/internal/sim/geom"

// Navigator is the movement collaborator. Path queries may report no path
// (ok=false); the scheduler treats that as infinite cost.
type Navigator interface {
	PathDistance(a, b geom.Vec3) (dist float64, ok bool)
	SetMoveTarget(p geom.Vec3)
	// AtTarget: no path pending, remaining distance within stopping tolerance,
	// and the agent is not translating.
	AtTarget() bool
	Stop()
	Speed() float64
	Position() geom.Vec3
}
