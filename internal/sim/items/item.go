// Package items owns the collectible items and the pool that recycles them.
package items

import (
	"fmt"

	"caddie.ai/internal/sim/geom"
)

type Tier int

const (
	Tier1 Tier = iota + 1
	Tier2
	Tier3
)

// Tier thresholds, measured from the delivery/start point.
const (
	Tier1MaxDist = 20.0
	Tier2MaxDist = 40.0
)

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "TIER1"
	case Tier2:
		return "TIER2"
	case Tier3:
		return "TIER3"
	default:
		return fmt.Sprintf("TIER(%d)", int(t))
	}
}

// TierForDistance classifies an item by its distance from the delivery point.
func TierForDistance(d float64) Tier {
	switch {
	case d < Tier1MaxDist:
		return Tier1
	case d < Tier2MaxDist:
		return Tier2
	default:
		return Tier3
	}
}

// ValueOf is the fixed reward table. Unknown tiers are worth nothing.
func ValueOf(t Tier) int {
	switch t {
	case Tier1:
		return 10
	case Tier2:
		return 20
	case Tier3:
		return 30
	default:
		return 0
	}
}

// Item is a collectible unit. Items are allocated once by a Pool and then
// repeatedly initialized and reset; callers never construct them directly.
type Item struct {
	ID     string
	Tier   Tier
	Pos    geom.Vec3
	Value  int
	Active bool

	// carried is set while the agent holds the item; the pool still owns it.
	carried bool
}

func (it *Item) init(tier Tier, pos geom.Vec3) {
	it.Tier = tier
	it.Pos = pos
	it.Value = ValueOf(tier)
	it.Active = true
	it.carried = false
}

func (it *Item) reset() {
	it.Active = false
	it.carried = false
}

// Carried reports whether the item is currently held by the agent.
func (it *Item) Carried() bool { return it != nil && it.carried }

func (it *Item) pickUp() {
	if it == nil || !it.Active {
		return
	}
	it.carried = true
}

func (it *Item) dropOff(pos geom.Vec3) {
	if it == nil || !it.carried {
		return
	}
	it.carried = false
	it.Pos = pos
}

func (it *Item) follow(pos geom.Vec3) {
	if it == nil || !it.carried {
		return
	}
	it.Pos = pos
}

// View is a read-only copy for observers and logs.
type View struct {
	ID      string    `json:"id"`
	Tier    string    `json:"tier"`
	Value   int       `json:"value"`
	Pos     geom.Vec3 `json:"pos"`
	Carried bool      `json:"carried,omitempty"`
}

func (it *Item) View() View {
	return View{ID: it.ID, Tier: it.Tier.String(), Value: it.Value, Pos: it.Pos, Carried: it.carried}
}
