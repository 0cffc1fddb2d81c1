// Package feed turns session notifications into protocol events and fans
// them out to publishers (event log, observer hub).
package feed

import (
	"math"
	"sync"
	"time"

	"caddie.ai/internal/protocol"
	"caddie.ai/internal/sim/agent"
	"caddie.ai/internal/sim/geom"
	"caddie.ai/internal/sim/items"
	"caddie.ai/internal/sim/session"
)

type Publisher interface {
	Publish(ev protocol.Event)
}

// PublisherFunc adapts a func to Publisher.
type PublisherFunc func(ev protocol.Event)

func (f PublisherFunc) Publish(ev protocol.Event) { f(ev) }

// Feed implements session.Sink and session.PresentationSink.
//
// HEALTH is thinned to one event per whole unit of health lost (plus the
// final zero); everything else is forwarded as is.
type Feed struct {
	mu   sync.Mutex
	pubs []Publisher

	lastBucket float64
}

func New(pubs ...Publisher) *Feed {
	return &Feed{pubs: pubs, lastBucket: math.Inf(1)}
}

func (f *Feed) Add(p Publisher) {
	f.mu.Lock()
	f.pubs = append(f.pubs, p)
	f.mu.Unlock()
}

func (f *Feed) publish(m session.Meta, ev protocol.Event) {
	ev.Type = protocol.TypeEvent
	ev.SessionID = m.SessionID
	ev.Seq = m.Seq
	ev.SimTimeMs = m.SimTime.Milliseconds()

	f.mu.Lock()
	pubs := append([]Publisher(nil), f.pubs...)
	f.mu.Unlock()
	for _, p := range pubs {
		p.Publish(ev)
	}
}

func Vec(v geom.Vec3) [3]float64 { return v.Array() }

func ItemRef(v items.View) protocol.ItemRef {
	return protocol.ItemRef{ID: v.ID, Tier: v.Tier, Value: v.Value, Pos: Vec(v.Pos)}
}

func EndPayload(r session.Result) *protocol.EndPayload {
	return &protocol.EndPayload{
		Outcome:       r.Outcome.String(),
		Label:         r.Label,
		Score:         r.Score,
		Delivered:     r.Delivered,
		SimDurationMs: r.SimDuration.Milliseconds(),
		StartedAt:     r.StartedAt.UTC().Format(time.RFC3339Nano),
		EndedAt:       r.EndedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (f *Feed) SessionStarted(m session.Meta, s session.Start) {
	f.mu.Lock()
	f.lastBucket = math.Inf(1)
	f.mu.Unlock()
	f.publish(m, protocol.Event{Kind: protocol.EventSessionStart, Start: &protocol.StartPayload{
		Settings: protocol.Settings{
			MaxHealth:     s.Config.MaxHealth,
			DepletionRate: s.Config.DepletionRate,
			ItemCount:     s.Config.ItemCount,
		},
		StartPos:    Vec(s.StartPos),
		DeliveryPos: Vec(s.Config.DeliveryPos),
		StartedAt:   s.StartedAt.UTC().Format(time.RFC3339Nano),
	}})
}

func (f *Feed) ItemsReady(m session.Meta, active []items.View) {
	refs := make([]protocol.ItemRef, 0, len(active))
	for _, v := range active {
		refs = append(refs, ItemRef(v))
	}
	f.publish(m, protocol.Event{Kind: protocol.EventItemsReady, Items: &protocol.ItemsPayload{Count: len(refs), Items: refs}})
}

func (f *Feed) PhaseChanged(m session.Meta, from, to agent.Status) {
	f.publish(m, protocol.Event{Kind: protocol.EventPhase, Phase: &protocol.PhasePayload{From: from.String(), To: to.String()}})
}

func (f *Feed) Decision(m session.Meta, d session.DecisionView) {
	p := &protocol.DecisionPayload{
		Candidates: d.Candidates,
		Feasible:   d.Feasible,
		Budget:     d.Budget,
	}
	if d.Chosen != nil {
		ref := ItemRef(*d.Chosen)
		p.Chosen = &ref
		p.Score = d.Score
		p.TotalTime = d.TotalTime
	}
	f.publish(m, protocol.Event{Kind: protocol.EventDecision, Decision: p})
}

func (f *Feed) ItemPickedUp(m session.Meta, it items.View) {
	ref := ItemRef(it)
	f.publish(m, protocol.Event{Kind: protocol.EventPickup, Item: &ref})
}

func (f *Feed) ItemDroppedOff(m session.Meta, it items.View) {
	ref := ItemRef(it)
	f.publish(m, protocol.Event{Kind: protocol.EventDropOff, Item: &ref})
}

func (f *Feed) PointsEarned(m session.Meta, amount, score int) {
	f.publish(m, protocol.Event{Kind: protocol.EventPoints, Points: &protocol.PointsPayload{Amount: amount, Score: score}})
}

func (f *Feed) HealthChanged(m session.Meta, health float64) {
	bucket := math.Ceil(health)
	f.mu.Lock()
	skip := health > 0 && bucket >= f.lastBucket
	if !skip {
		f.lastBucket = bucket
	}
	f.mu.Unlock()
	if skip {
		return
	}
	f.publish(m, protocol.Event{Kind: protocol.EventHealth, Health: &protocol.HealthPayload{Health: health}})
}

func (f *Feed) SessionEnded(m session.Meta, r session.Result) {
	f.publish(m, protocol.Event{Kind: protocol.EventSessionEnd, End: EndPayload(r)})
}

var (
	_ session.Sink             = (*Feed)(nil)
	_ session.PresentationSink = (*Feed)(nil)
)
