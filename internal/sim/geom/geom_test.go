package geom

import (
	"math"
	"testing"
)

func TestLerpClamps(t *testing.T) {
	cases := []struct {
		a, b, t, want float64
	}{
		{1.5, 0.5, 0, 1.5},
		{1.5, 0.5, 1, 0.5},
		{1.5, 0.5, 0.5, 1.0},
		{0.5, 1.5, -1, 0.5},
		{0.5, 1.5, 2, 1.5},
	}
	for _, c := range cases {
		if got := Lerp(c.a, c.b, c.t); math.Abs(got-c.want) > 1e-12 {
			t.Fatalf("Lerp(%v,%v,%v)=%v want %v", c.a, c.b, c.t, got, c.want)
		}
	}
}

func TestMoveTowards(t *testing.T) {
	got := MoveTowards(Vec3{}, Vec3{X: 10}, 4)
	if got != (Vec3{X: 4}) {
		t.Fatalf("partial step mismatch: %v", got)
	}
	got = MoveTowards(Vec3{X: 9}, Vec3{X: 10}, 4)
	if got != (Vec3{X: 10}) {
		t.Fatalf("overshoot should snap to target: %v", got)
	}
}

func TestRect(t *testing.T) {
	r := Rect{MinX: -10, MinZ: 0, MaxX: 10, MaxZ: 5}
	if r.Empty() {
		t.Fatalf("rect should not be empty")
	}
	if !r.Contains(Vec3{X: 0, Z: 2}) || r.Contains(Vec3{X: 11, Z: 2}) {
		t.Fatalf("contains mismatch")
	}
	if p := r.At(0.5, 0.5); p.X != 0 || p.Z != 2.5 {
		t.Fatalf("At mismatch: %v", p)
	}
	if !(Rect{}).Empty() {
		t.Fatalf("zero rect should be empty")
	}
}

func TestDistXZIgnoresHeight(t *testing.T) {
	if d := DistXZ(Vec3{Y: 100}, Vec3{X: 3, Z: 4}); d != 5 {
		t.Fatalf("DistXZ=%v", d)
	}
}
