package log

import (
	"fmt"

	"caddie.ai/internal/protocol"
)

// SessionSummary folds one session's event stream.
type SessionSummary struct {
	SessionID string
	Events    int
	Points    int // sum of POINTS amounts
	Pickups   int
	Drops     int
	Ended     bool
	Outcome   string
	Label     string
	Score     int // as reported by SESSION_END
	Delivered int
	SimMs     int64
}

// Check reports the first inconsistency in a finished session.
func (s SessionSummary) Check() error {
	if !s.Ended {
		return nil
	}
	if s.Score != s.Points {
		return fmt.Errorf("session %s: score %d != sum of points %d", s.SessionID, s.Score, s.Points)
	}
	if s.Delivered != s.Drops {
		return fmt.Errorf("session %s: delivered %d != drop-offs %d", s.SessionID, s.Delivered, s.Drops)
	}
	return nil
}

// Summarizer accumulates events into per-session summaries in first-seen order.
type Summarizer struct {
	order []string
	byID  map[string]*SessionSummary
	// lastSeq guards against out-of-order lines within a session.
	lastSeq map[string]uint64
}

func NewSummarizer() *Summarizer {
	return &Summarizer{byID: map[string]*SessionSummary{}, lastSeq: map[string]uint64{}}
}

func (z *Summarizer) Add(ev protocol.Event) error {
	s := z.byID[ev.SessionID]
	if s == nil {
		s = &SessionSummary{SessionID: ev.SessionID}
		z.byID[ev.SessionID] = s
		z.order = append(z.order, ev.SessionID)
	}
	if prev := z.lastSeq[ev.SessionID]; ev.Seq <= prev {
		return fmt.Errorf("session %s: seq %d after %d", ev.SessionID, ev.Seq, prev)
	}
	z.lastSeq[ev.SessionID] = ev.Seq
	if s.Ended {
		return fmt.Errorf("session %s: %s after SESSION_END", ev.SessionID, ev.Kind)
	}
	s.Events++
	s.SimMs = ev.SimTimeMs
	switch ev.Kind {
	case protocol.EventPoints:
		if ev.Points != nil {
			s.Points += ev.Points.Amount
		}
	case protocol.EventPickup:
		s.Pickups++
	case protocol.EventDropOff:
		s.Drops++
	case protocol.EventSessionEnd:
		s.Ended = true
		if ev.End != nil {
			s.Outcome = ev.End.Outcome
			s.Label = ev.End.Label
			s.Score = ev.End.Score
			s.Delivered = ev.End.Delivered
		}
	}
	return nil
}

func (z *Summarizer) Sessions() []SessionSummary {
	out := make([]SessionSummary, 0, len(z.order))
	for _, id := range z.order {
		out = append(out, *z.byID[id])
	}
	return out
}
