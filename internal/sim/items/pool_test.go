package items

import (
	"context"
	"errors"
	"testing"
	"time"

	"caddie.ai/internal/sim/geom"
)

var course = geom.Rect{MinX: -60, MinZ: -60, MaxX: 60, MaxZ: 60}

func acceptAll(c geom.Vec3) (geom.Vec3, bool) { return c, true }

func checkConservation(t *testing.T, p *Pool) {
	t.Helper()
	if got := p.ActiveCount() + p.PooledCount(); got != p.Allocated() {
		t.Fatalf("conservation: active=%d pooled=%d allocated=%d", p.ActiveCount(), p.PooledCount(), p.Allocated())
	}
	seen := map[*Item]bool{}
	for _, it := range p.ActiveItems() {
		seen[it] = true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, it := range p.free {
		if seen[it] {
			t.Fatalf("item %s is both active and pooled", it.ID)
		}
		if it.Active {
			t.Fatalf("pooled item %s is still active", it.ID)
		}
	}
}

func TestPopulate_PlacesAndClassifies(t *testing.T) {
	p := NewPool(Options{Capacity: 50, Seed: 7})
	ready := 0
	p.OnReady(func(n int) {
		ready++
		if n != 25 {
			t.Fatalf("ready count=%d", n)
		}
	})
	if err := p.Populate(context.Background(), 25, course, acceptAll, geom.Vec3{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if ready != 1 {
		t.Fatalf("items-ready fired %d times", ready)
	}
	if p.ActiveCount() != 25 || p.Allocated() != 25 {
		t.Fatalf("active=%d allocated=%d", p.ActiveCount(), p.Allocated())
	}
	for _, it := range p.ActiveItems() {
		if !it.Active {
			t.Fatalf("%s not active", it.ID)
		}
		if !course.Contains(it.Pos) {
			t.Fatalf("%s placed outside bounds: %v", it.ID, it.Pos)
		}
		want := TierForDistance(geom.Dist(it.Pos, geom.Vec3{}))
		if it.Tier != want || it.Value != ValueOf(want) {
			t.Fatalf("%s tier=%v value=%d want %v", it.ID, it.Tier, it.Value, want)
		}
	}
	checkConservation(t, p)
}

func TestPopulate_RetriesUntilValid(t *testing.T) {
	p := NewPool(Options{Seed: 1})
	calls := 0
	validate := func(c geom.Vec3) (geom.Vec3, bool) {
		calls++
		if c.X < 0 {
			return geom.Vec3{}, false
		}
		return c.WithY(2), true
	}
	if err := p.Populate(context.Background(), 10, course, validate, geom.Vec3{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if calls <= 10 {
		t.Fatalf("expected rejected candidates to be retried, calls=%d", calls)
	}
	for _, it := range p.ActiveItems() {
		if it.Pos.X < 0 || it.Pos.Y != 2 {
			t.Fatalf("item not at validated position: %v", it.Pos)
		}
	}
}

func TestPopulate_ZeroYieldsEmpty(t *testing.T) {
	p := NewPool(Options{Seed: 1})
	if err := p.Populate(context.Background(), 5, course, acceptAll, geom.Vec3{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if err := p.Populate(context.Background(), 0, geom.Rect{}, acceptAll, geom.Vec3{}); err != nil {
		t.Fatalf("Populate(0): %v", err)
	}
	if p.ActiveCount() != 0 || p.PooledCount() != 5 {
		t.Fatalf("active=%d pooled=%d", p.ActiveCount(), p.PooledCount())
	}
	checkConservation(t, p)
}

func TestPopulate_ReusesPooledItems(t *testing.T) {
	p := NewPool(Options{Seed: 3})
	ctx := context.Background()
	if err := p.Populate(ctx, 8, course, acceptAll, geom.Vec3{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	first := map[*Item]bool{}
	for _, it := range p.ActiveItems() {
		first[it] = true
	}
	if err := p.Populate(ctx, 8, course, acceptAll, geom.Vec3{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if p.Allocated() != 8 {
		t.Fatalf("repopulate allocated new items: %d", p.Allocated())
	}
	for _, it := range p.ActiveItems() {
		if !first[it] {
			t.Fatalf("item %s was not drawn from the pool", it.ID)
		}
	}
	checkConservation(t, p)
}

func TestRecycle_Idempotent(t *testing.T) {
	p := NewPool(Options{Seed: 5})
	if err := p.Populate(context.Background(), 3, course, acceptAll, geom.Vec3{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	it := p.ActiveItems()[1]
	if !p.Recycle(it) {
		t.Fatalf("first recycle should succeed")
	}
	if p.Recycle(it) {
		t.Fatalf("second recycle should be a no-op")
	}
	if p.ActiveCount() != 2 || p.PooledCount() != 1 {
		t.Fatalf("active=%d pooled=%d", p.ActiveCount(), p.PooledCount())
	}
	if p.Recycle(&Item{ID: "stale"}) || p.Recycle(nil) {
		t.Fatalf("foreign items must be ignored")
	}
	checkConservation(t, p)
}

func TestActiveItems_SnapshotSurvivesRecycle(t *testing.T) {
	p := NewPool(Options{Seed: 9})
	if err := p.Populate(context.Background(), 6, course, acceptAll, geom.Vec3{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	snap := p.ActiveItems()
	n := 0
	for _, it := range snap {
		p.Recycle(it)
		n++
	}
	if n != 6 || p.ActiveCount() != 0 {
		t.Fatalf("iterated=%d active=%d", n, p.ActiveCount())
	}
}

func TestCapacity_AppliesOnNextPopulate(t *testing.T) {
	p := NewPool(Options{Capacity: 10, Seed: 2})
	ctx := context.Background()
	if err := p.Populate(ctx, 10, course, acceptAll, geom.Vec3{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	p.SetCapacity(4)
	if p.ActiveCount() != 10 {
		t.Fatalf("capacity change must not affect the live set")
	}
	if err := p.Populate(ctx, 10, course, acceptAll, geom.Vec3{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if p.ActiveCount() != 4 || p.Allocated() != 4 {
		t.Fatalf("active=%d allocated=%d", p.ActiveCount(), p.Allocated())
	}
	checkConservation(t, p)
}

func TestCarryLifecycle(t *testing.T) {
	p := NewPool(Options{Seed: 4})
	if err := p.Populate(context.Background(), 1, course, acceptAll, geom.Vec3{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	it := p.ActiveItems()[0]
	if !p.PickUp(it) || !it.Carried() {
		t.Fatalf("pickup failed")
	}
	if p.PickUp(it) {
		t.Fatalf("double pickup should fail")
	}
	p.Follow(it, geom.Vec3{X: 1, Z: 1})
	if it.Pos != (geom.Vec3{X: 1, Z: 1}) {
		t.Fatalf("carried item did not follow: %v", it.Pos)
	}
	if !p.DropOff(it, geom.Vec3{X: 2}) || it.Carried() {
		t.Fatalf("dropoff failed")
	}
	p.Follow(it, geom.Vec3{X: 9})
	if it.Pos.X != 2 {
		t.Fatalf("dropped item must not follow")
	}
}

func TestPopulate_ValidationErrors(t *testing.T) {
	p := NewPool(Options{})
	if err := p.Populate(context.Background(), 1, course, nil, geom.Vec3{}); !errors.Is(err, ErrNoValidator) {
		t.Fatalf("expected ErrNoValidator, got %v", err)
	}
	if err := p.Populate(context.Background(), 1, geom.Rect{}, acceptAll, geom.Vec3{}); !errors.Is(err, ErrEmptyBounds) {
		t.Fatalf("expected ErrEmptyBounds, got %v", err)
	}
	if err := p.Populate(context.Background(), -1, course, acceptAll, geom.Vec3{}); err == nil {
		t.Fatalf("expected error for negative count")
	}
}

func TestPopulate_CancelEscapesUnplaceableBounds(t *testing.T) {
	p := NewPool(Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	never := func(geom.Vec3) (geom.Vec3, bool) { return geom.Vec3{}, false }
	if err := p.Populate(ctx, 1, course, never, geom.Vec3{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if p.Allocated() != 0 {
		t.Fatalf("cancelled populate must not mutate the pool")
	}
}
