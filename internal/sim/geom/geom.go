package geom

import (
	"fmt"
	"math"
)

type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }
func (v Vec3) Scale(k float64) Vec3 { return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k} }
func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }
func (v Vec3) String() string { return fmt.Sprintf("(%.2f,%.2f,%.2f)", v.X, v.Y, v.Z) }
func (v Vec3) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }
func (v Vec3) WithY(y float64) Vec3 { v.Y = y; return v }
func (v Vec3) Equal(o Vec3) bool { return v == o }
func (v Vec3) IsFinite() bool { return finite(v.X) && finite(v.Y) && finite(v.Z) }
func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
func Dist(a, b Vec3) float64 { return b.Sub(a).Len() }

// DistXZ ignores height; used for planar hazard tests.
func DistXZ(a, b Vec3) float64 {
	dx := a.X - b.X
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// MoveTowards steps from cur to target by at most maxStep.
func MoveTowards(cur, target Vec3, maxStep float64) Vec3 {
	d := target.Sub(cur)
	l := d.Len()
	if l <= maxStep || l == 0 {
		return target
	}
	return cur.Add(d.Scale(maxStep / l))
}

func Clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// Lerp interpolates a..b with t clamped to [0,1].
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*Clamp01(t)
}

// Rect is an axis-aligned XZ extent (the walkable terrain footprint).
type Rect struct {
	MinX float64 `json:"min_x" yaml:"min_x"`
	MinZ float64 `json:"min_z" yaml:"min_z"`
	MaxX float64 `json:"max_x" yaml:"max_x"`
	MaxZ float64 `json:"max_z" yaml:"max_z"`
}

func (r Rect) Width() float64 { return r.MaxX - r.MinX }
func (r Rect) Depth() float64 { return r.MaxZ - r.MinZ }

func (r Rect) Empty() bool { return !(r.Width() > 0) || !(r.Depth() > 0) }

func (r Rect) Contains(p Vec3) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Z >= r.MinZ && p.Z <= r.MaxZ
}

// At maps unit coordinates (u,w in [0,1)) onto the rect.
func (r Rect) At(u, w float64) Vec3 {
	return Vec3{X: r.MinX + u*r.Width(), Z: r.MinZ + w*r.Depth()}
}
