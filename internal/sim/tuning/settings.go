package tuning

import "caddie.ai/internal/sim/geom"

// Settings are the knobs exposed to players between sessions.
type Settings struct {
	MaxHealth     float64 `json:"max_health"`
	DepletionRate float64 `json:"depletion_rate"`
	ItemCount     int     `json:"item_count"`
	// PoolCapacity caps allocated items; 0 means unbounded.
	PoolCapacity int `json:"pool_capacity,omitempty"`
}

type Range struct {
	Min, Max float64
}

func (r Range) Clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Slider ranges of the settings panel.
var (
	MaxHealthRange     = Range{Min: 50, Max: 500}
	DepletionRateRange = Range{Min: 0.1, Max: 5}
	ItemCountRange     = Range{Min: 10, Max: 200}
	// PoolCapacityRange applies to positive capacities only.
	PoolCapacityRange = Range{Min: 10, Max: 1000}
)

// Clamp forces every field into its slider range.
func (s Settings) Clamp() Settings {
	return Settings{
		MaxHealth:     MaxHealthRange.Clamp(s.MaxHealth),
		DepletionRate: DepletionRateRange.Clamp(s.DepletionRate),
		ItemCount:     int(ItemCountRange.Clamp(float64(s.ItemCount))),
		PoolCapacity:  clampCapacity(s.PoolCapacity),
	}
}

func clampCapacity(n int) int {
	if n <= 0 {
		return 0
	}
	return int(PoolCapacityRange.Clamp(float64(n)))
}

func (t Tuning) Settings() Settings {
	return Settings{
		MaxHealth:     t.Session.MaxHealth,
		DepletionRate: t.Session.DepletionRate,
		ItemCount:     t.Session.ItemCount,
		PoolCapacity:  clampCapacity(t.Session.PoolCapacity),
	}
}

// WithSettings returns a copy of t with s applied after clamping.
func (t Tuning) WithSettings(s Settings) Tuning {
	s = s.Clamp()
	t.Session.MaxHealth = s.MaxHealth
	t.Session.DepletionRate = s.DepletionRate
	t.Session.ItemCount = s.ItemCount
	t.Session.PoolCapacity = s.PoolCapacity
	return t
}

// CourseRect is the placement area as a geom.Rect.
func (t Tuning) CourseRect() geom.Rect {
	b := t.Course.Bounds
	return geom.Rect{MinX: b.MinX, MinZ: b.MinZ, MaxX: b.MaxX, MaxZ: b.MaxZ}
}
