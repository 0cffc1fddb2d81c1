package items

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"

	"caddie.ai/internal/sim/geom"
)

var (
	ErrNoValidator = errors.New("items: placement validator is required")
	ErrEmptyBounds = errors.New("items: area bounds are empty")
)

// Validator snaps a sampled candidate onto a walkable point, or rejects it.
type Validator func(candidate geom.Vec3) (geom.Vec3, bool)

type Options struct {
	// Capacity bounds the number of allocated items. <= 0 means unbounded.
	Capacity int
	Seed     int64
	Logger   *log.Logger
}

// Pool owns every Item. An item is either in the active set or queued in the
// free list, never both; active+pooled always equals allocated.
//
// Populate and Recycle are expected from a single goroutine (the sim loop);
// readers may call ActiveItems/Views concurrently.
type Pool struct {
	mu        sync.RWMutex
	active    []*Item
	free      []*Item
	allocated int
	capacity  int

	// populate-side state (single writer)
	wmu     sync.Mutex
	wantCap int
	rng     *rand.Rand
	nextNum uint64
	onReady []func(n int)

	log *log.Logger
}

func NewPool(opts Options) *Pool {
	return &Pool{
		capacity: opts.Capacity,
		wantCap:  opts.Capacity,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		log:      opts.Logger,
	}
}

// SetCapacity takes effect on the next Populate.
func (p *Pool) SetCapacity(n int) {
	p.wmu.Lock()
	p.wantCap = n
	p.wmu.Unlock()
}

// Capacity returns the configured capacity (including a pending change).
func (p *Pool) Capacity() int {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.wantCap
}

// Reseed resets the placement RNG so a session can be reproduced.
func (p *Pool) Reseed(seed int64) {
	p.wmu.Lock()
	p.rng = rand.New(rand.NewSource(seed))
	p.wmu.Unlock()
}

// OnReady registers a callback fired once per completed Populate with the number of placed items.
func (p *Pool) OnReady(fn func(n int)) {
	if fn == nil {
		return
	}
	p.wmu.Lock()
	p.onReady = append(p.onReady, fn)
	p.wmu.Unlock()
}

type placement struct {
	pos  geom.Vec3
	tier Tier
}

// Populate recycles every active item, then places count new ones at validated
// random positions inside bounds.
//
// Sampling retries until validate accepts a candidate. There is no attempt cap:
// bounds that contain no walkable point loop until ctx is cancelled.
func (p *Pool) Populate(ctx context.Context, count int, bounds geom.Rect, validate Validator, avoidCenter geom.Vec3) error {
	if count < 0 {
		return fmt.Errorf("items: negative count %d", count)
	}
	if validate == nil {
		return ErrNoValidator
	}
	if count > 0 && bounds.Empty() {
		return ErrEmptyBounds
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.wmu.Lock()
	capacity := p.wantCap
	if capacity > 0 && count > capacity {
		p.logf("populate: count %d exceeds capacity %d; placing %d", count, capacity, capacity)
		count = capacity
	}

	placed := make([]placement, 0, count)
	attempts := 0
	for len(placed) < count {
		attempts++
		if attempts%256 == 0 {
			if err := ctx.Err(); err != nil {
				p.wmu.Unlock()
				return err
			}
		}
		cand := bounds.At(p.rng.Float64(), p.rng.Float64())
		pos, ok := validate(cand)
		if !ok {
			continue
		}
		placed = append(placed, placement{pos: pos, tier: TierForDistance(geom.Dist(pos, avoidCenter))})
	}

	p.mu.Lock()
	for len(p.active) > 0 {
		p.recycleLocked(p.active[len(p.active)-1])
	}
	p.capacity = capacity
	if capacity > 0 && len(p.free) > capacity {
		released := len(p.free) - capacity
		for i := capacity; i < len(p.free); i++ {
			p.free[i] = nil
		}
		p.free = p.free[:capacity]
		p.allocated -= released
	}
	for _, pl := range placed {
		it := p.takeLocked()
		it.init(pl.tier, pl.pos)
		p.active = append(p.active, it)
	}
	p.mu.Unlock()

	ready := append([]func(int){}, p.onReady...)
	p.wmu.Unlock()

	for _, fn := range ready {
		fn(len(placed))
	}
	return nil
}

func (p *Pool) takeLocked() *Item {
	if len(p.free) > 0 {
		it := p.free[0]
		p.free[0] = nil
		p.free = p.free[1:]
		return it
	}
	p.nextNum++
	p.allocated++
	return &Item{ID: fmt.Sprintf("B%04d", p.nextNum)}
}

// Recycle moves an active item back into the pool. Items that are not active
// (already recycled, or stale references) are ignored.
func (p *Pool) Recycle(it *Item) bool {
	if it == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recycleLocked(it)
}

func (p *Pool) recycleLocked(it *Item) bool {
	idx := -1
	for i, a := range p.active {
		if a == it {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	copy(p.active[idx:], p.active[idx+1:])
	p.active[len(p.active)-1] = nil
	p.active = p.active[:len(p.active)-1]
	it.reset()
	p.free = append(p.free, it)
	return true
}

// PickUp marks an active item as carried. The pool keeps ownership.
func (p *Pool) PickUp(it *Item) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it == nil || !it.Active || it.carried {
		return false
	}
	it.pickUp()
	return true
}

// Follow moves a carried item with its carrier.
func (p *Pool) Follow(it *Item, pos geom.Vec3) {
	p.mu.Lock()
	it.follow(pos)
	p.mu.Unlock()
}

// DropOff releases a carried item at pos.
func (p *Pool) DropOff(it *Item, pos geom.Vec3) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !it.Carried() {
		return false
	}
	it.dropOff(pos)
	return true
}

// ActiveItems returns a snapshot of the active set in placement order.
// Recycling while a caller iterates the returned slice does not affect it.
func (p *Pool) ActiveItems() []*Item {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Item, len(p.active))
	copy(out, p.active)
	return out
}

// Views returns copies of the active items, safe to hand to other goroutines.
func (p *Pool) Views() []View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]View, 0, len(p.active))
	for _, it := range p.active {
		out = append(out, it.View())
	}
	return out
}

func (p *Pool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

func (p *Pool) PooledCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.free)
}

func (p *Pool) Allocated() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.allocated
}

// IsActive reports whether it is currently in the active set.
func (p *Pool) IsActive(it *Item) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.active {
		if a == it {
			return true
		}
	}
	return false
}

func (p *Pool) logf(format string, args ...any) {
	if p.log != nil {
		p.log.Printf(format, args...)
	}
}
