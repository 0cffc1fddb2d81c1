package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"caddie.ai/internal/sim/agent"
	"caddie.ai/internal/sim/items"
	"caddie.ai/internal/sim/session"
	"caddie.ai/internal/sim/tuning"
)

func TestSQLiteIndex_RecordsSessionLifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	digest, err := idx.UpsertTuning(tuning.Defaults())
	if err != nil || len(digest) != 64 {
		t.Fatalf("UpsertTuning: digest=%q err=%v", digest, err)
	}

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cfg := session.DefaultConfig()
	idx.SessionStarted(session.Meta{SessionID: "s1", Seq: 1}, session.Start{ID: "s1", Config: cfg, StartedAt: started})
	ball := items.View{ID: "ball-7", Tier: "GOLD", Value: 30}
	idx.Decision(session.Meta{SessionID: "s1", Seq: 3, SimTime: time.Second}, session.DecisionView{Candidates: 4, Feasible: 2, Budget: 50, Chosen: &ball, Score: 0.9})
	idx.ItemDroppedOff(session.Meta{SessionID: "s1", Seq: 8, SimTime: 9 * time.Second}, ball)
	idx.SessionEnded(session.Meta{SessionID: "s1", Seq: 10}, session.Result{
		ID:          "s1",
		Score:       30,
		Outcome:     agent.OutcomeSuccess,
		Label:       agent.OutcomeSuccess.Label(),
		Delivered:   1,
		SimDuration: 12 * time.Second,
		StartedAt:   started,
		EndedAt:     started.Add(12 * time.Second),
	})

	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	var outcome string
	var score, delivered int
	var simMs int64
	if err := db.QueryRow(`SELECT outcome,score,delivered,sim_ms FROM sessions WHERE session_id='s1'`).Scan(&outcome, &score, &delivered, &simMs); err != nil {
		t.Fatalf("query session: %v", err)
	}
	if outcome != "SUCCESS" || score != 30 || delivered != 1 || simMs != 12000 {
		t.Fatalf("session row mismatch: outcome=%s score=%d delivered=%d sim_ms=%d", outcome, score, delivered, simMs)
	}

	var itemID, tier string
	var value int
	if err := db.QueryRow(`SELECT item_id,tier,value FROM deliveries WHERE session_id='s1' AND seq=8`).Scan(&itemID, &tier, &value); err != nil {
		t.Fatalf("query delivery: %v", err)
	}
	if itemID != "ball-7" || tier != "GOLD" || value != 30 {
		t.Fatalf("delivery row mismatch: %s %s %d", itemID, tier, value)
	}

	var chosen string
	if err := db.QueryRow(`SELECT chosen_id FROM decisions WHERE session_id='s1' AND seq=3`).Scan(&chosen); err != nil {
		t.Fatalf("query decision: %v", err)
	}
	if chosen != "ball-7" {
		t.Fatalf("decision chosen=%q", chosen)
	}

	var gotDigest string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='tuning_digest'`).Scan(&gotDigest); err != nil {
		t.Fatalf("query meta: %v", err)
	}
	if gotDigest != digest {
		t.Fatalf("meta digest=%s want=%s", gotDigest, digest)
	}
}

func TestSQLiteIndex_RecentSessions(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		idx.SessionStarted(session.Meta{SessionID: id, Seq: 1}, session.Start{ID: id, Config: session.DefaultConfig(), StartedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	idx.SessionEnded(session.Meta{SessionID: "c"}, session.Result{ID: "c", Outcome: agent.OutcomeFailure, Label: agent.OutcomeFailure.Label(), EndedAt: base.Add(3 * time.Minute)})

	// Writes land asynchronously; poll until the writer has committed them.
	var rows []SessionRow
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rows, err = idx.RecentSessions(context.Background(), 2)
		if err != nil {
			t.Fatalf("RecentSessions: %v", err)
		}
		if len(rows) == 2 && rows[0].Outcome != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(rows) != 2 || rows[0].SessionID != "c" || rows[1].SessionID != "b" {
		t.Fatalf("rows: %+v", rows)
	}
	if rows[0].Outcome != "FAILURE" || rows[1].Outcome != "" {
		t.Fatalf("outcomes: %+v", rows)
	}
}

func TestSQLiteIndex_FailedRowKeepsRestOfBatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := idx.db.Exec(`CREATE TRIGGER reject_bad BEFORE INSERT ON deliveries
		WHEN NEW.item_id = 'bad' BEGIN SELECT RAISE(ABORT, 'rejected'); END;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	idx.SessionStarted(session.Meta{SessionID: "s1", Seq: 1}, session.Start{ID: "s1", Config: session.DefaultConfig(), StartedAt: time.Now()})
	for i, id := range []string{"ok-1", "bad", "ok-2"} {
		idx.ItemDroppedOff(session.Meta{SessionID: "s1", Seq: uint64(10 + i)}, items.View{ID: id, Tier: "TIER1", Value: 10})
	}
	idx.SessionEnded(session.Meta{SessionID: "s1"}, session.Result{ID: "s1", Outcome: agent.OutcomeSuccess, Score: 20, Delivered: 2})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := idx.Stats().WriteErrorTotal; got != 1 {
		t.Fatalf("WriteErrorTotal=%d want=1", got)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	var deliveries, sessions int
	if err := db.QueryRow(`SELECT COUNT(*) FROM deliveries WHERE session_id='s1'`).Scan(&deliveries); err != nil {
		t.Fatalf("count deliveries: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE session_id='s1' AND outcome='SUCCESS'`).Scan(&sessions); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if deliveries != 2 || sessions != 1 {
		t.Fatalf("batch lost rows: deliveries=%d sessions=%d", deliveries, sessions)
	}
}
