// Package nav is a small reference navigator: a flat course with circular
// hazards the collector cannot enter. Straight lines are used whenever they
// clear every hazard; otherwise a grid A* finds a detour.
package nav

import (
	"math"
	"time"

	"caddie.ai/internal/sim/geom"
)

type Hazard struct {
	Center geom.Vec3 `json:"center" yaml:"center"`
	Radius float64   `json:"radius" yaml:"radius"`
}

func (h Hazard) contains(p geom.Vec3) bool {
	return geom.DistXZ(p, h.Center) < h.Radius
}

type Config struct {
	Bounds           geom.Rect
	Hazards          []Hazard
	Speed            float64
	StoppingDistance float64
	// CellSize is the A* grid resolution.
	CellSize float64
	// SnapRadius is how far Validate may move a candidate to reach walkable ground.
	SnapRadius float64
	GroundY    float64
}

func DefaultConfig() Config {
	return Config{
		Bounds:           geom.Rect{MinX: 0, MinZ: 0, MaxX: 100, MaxZ: 100},
		Speed:            3.5,
		StoppingDistance: 0.1,
		CellSize:         2,
		SnapRadius:       2,
	}
}

// Field implements the scheduler's Navigator plus the engine-side controls
// (Warp, Advance) a session needs.
type Field struct {
	cfg  Config
	grid *grid

	pos     geom.Vec3
	target  *geom.Vec3
	pending bool
	path    []geom.Vec3
}

func NewField(cfg Config) *Field {
	if cfg.CellSize <= 0 {
		cfg.CellSize = 2
	}
	if cfg.StoppingDistance < 0 {
		cfg.StoppingDistance = 0
	}
	f := &Field{cfg: cfg}
	f.grid = newGrid(cfg.Bounds, cfg.CellSize, f.Walkable, f.segmentClear)
	f.grid.y = cfg.GroundY
	return f
}

func (f *Field) Config() Config { return f.cfg }

func (f *Field) Speed() float64 { return f.cfg.Speed }

func (f *Field) Position() geom.Vec3 { return f.pos }

// Walkable reports whether p lies inside the course and outside every hazard.
func (f *Field) Walkable(p geom.Vec3) bool {
	if !f.cfg.Bounds.Contains(p) {
		return false
	}
	for _, h := range f.cfg.Hazards {
		if h.contains(p) {
			return false
		}
	}
	return true
}

// Validate snaps a sampled candidate onto walkable ground within SnapRadius.
func (f *Field) Validate(c geom.Vec3) (geom.Vec3, bool) {
	c.Y = f.cfg.GroundY
	if f.Walkable(c) {
		return c, true
	}
	for _, h := range f.cfg.Hazards {
		if !h.contains(c) {
			continue
		}
		d := c.Sub(h.Center)
		d.Y = 0
		l := d.Len()
		if l == 0 {
			return geom.Vec3{}, false
		}
		push := h.Radius - l + 1e-6
		if push > f.cfg.SnapRadius {
			return geom.Vec3{}, false
		}
		c = h.Center.Add(d.Scale((h.Radius + 1e-6) / l))
		c.Y = f.cfg.GroundY
		break
	}
	if f.Walkable(c) {
		return c, true
	}
	return geom.Vec3{}, false
}

func (f *Field) segmentClear(a, b geom.Vec3) bool {
	for _, h := range f.cfg.Hazards {
		if segmentPointDistXZ(a, b, h.Center) < h.Radius {
			return false
		}
	}
	return true
}

func segmentPointDistXZ(a, b, p geom.Vec3) float64 {
	abx, abz := b.X-a.X, b.Z-a.Z
	apx, apz := p.X-a.X, p.Z-a.Z
	den := abx*abx + abz*abz
	t := 0.0
	if den > 0 {
		t = geom.Clamp01((apx*abx + apz*abz) / den)
	}
	cx, cz := a.X+t*abx-p.X, a.Z+t*abz-p.Z
	return math.Sqrt(cx*cx + cz*cz)
}

// Path returns waypoints from a to b (excluding a), or ok=false when no path exists.
func (f *Field) Path(a, b geom.Vec3) ([]geom.Vec3, bool) {
	if !f.Walkable(a) || !f.Walkable(b) {
		return nil, false
	}
	if f.segmentClear(a, b) {
		return []geom.Vec3{b}, true
	}
	return f.grid.search(a, b)
}

func (f *Field) PathDistance(a, b geom.Vec3) (float64, bool) {
	wps, ok := f.Path(a, b)
	if !ok {
		return 0, false
	}
	return pathLength(a, wps), true
}

func pathLength(from geom.Vec3, wps []geom.Vec3) float64 {
	total := 0.0
	cur := from
	for _, p := range wps {
		total += geom.Dist(cur, p)
		cur = p
	}
	return total
}

// SetMoveTarget queues a move; the path is resolved on the next Advance.
func (f *Field) SetMoveTarget(p geom.Vec3) {
	f.target = &p
	f.pending = true
	f.path = nil
}

func (f *Field) Stop() {
	f.target = nil
	f.pending = false
	f.path = nil
}

// Warp teleports the agent and drops any move order.
func (f *Field) Warp(p geom.Vec3) {
	f.Stop()
	f.pos = p
}

// RemainingDistance along the current path.
func (f *Field) RemainingDistance() float64 {
	if f.target == nil {
		return 0
	}
	if f.pending {
		return math.Inf(1)
	}
	if len(f.path) == 0 {
		return geom.Dist(f.pos, *f.target)
	}
	return pathLength(f.pos, f.path)
}

func (f *Field) AtTarget() bool {
	if f.pending {
		return false
	}
	if f.RemainingDistance() > f.cfg.StoppingDistance {
		return false
	}
	return len(f.path) == 0
}

// Advance moves the agent along its path for dt of simulated time.
func (f *Field) Advance(dt time.Duration) {
	if f.target == nil {
		return
	}
	if f.pending {
		f.pending = false
		wps, ok := f.Path(f.pos, *f.target)
		if !ok {
			// No route: stay put; AtTarget stays false.
			f.path = nil
			return
		}
		f.path = wps
	}
	step := f.cfg.Speed * dt.Seconds()
	for step > 0 && len(f.path) > 0 {
		next := f.path[0]
		d := geom.Dist(f.pos, next)
		if d <= step {
			f.pos = next
			f.path = f.path[1:]
			step -= d
			continue
		}
		f.pos = geom.MoveTowards(f.pos, next, step)
		step = 0
	}
	if len(f.path) > 0 && pathLength(f.pos, f.path) <= f.cfg.StoppingDistance {
		f.path = nil
	}
}
