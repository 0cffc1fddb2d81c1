package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"caddie.ai/internal/sim/items"
	"caddie.ai/internal/sim/session"
	"caddie.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable read-model of finished and running sessions.
// Writes are queued to a single writer goroutine and dropped when the queue
// is full; the event log stays the source of truth.
type SQLiteIndex struct {
	session.NopSink

	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropStart    atomic.Uint64
	dropEnd      atomic.Uint64
	dropDelivery atomic.Uint64
	dropDecision atomic.Uint64
	writeErrs    atomic.Uint64
}

type reqKind int

const (
	reqSessionStart reqKind = iota + 1
	reqSessionEnd
	reqDelivery
	reqDecision
)

type req struct {
	kind reqKind

	start    startRow
	end      session.Result
	delivery deliveryRow
	decision decisionRow
}

type startRow struct {
	SessionID     string
	StartedAt     string
	MaxHealth     float64
	DepletionRate float64
	ItemCount     int
}

type deliveryRow struct {
	SessionID string
	Seq       uint64
	ItemID    string
	Tier      string
	Value     int
	SimMs     int64
}

type decisionRow struct {
	SessionID  string
	Seq        uint64
	SimMs      int64
	Candidates int
	Feasible   int
	Budget     float64
	ChosenID   string
	Score      float64
}

// Stats reports queue pressure.
type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropStartTotal    uint64
	DropEndTotal      uint64
	DropDeliveryTotal uint64
	DropDecisionTotal uint64
	WriteErrorTotal   uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			outcome TEXT,
			label TEXT,
			score INTEGER NOT NULL DEFAULT 0,
			delivered INTEGER NOT NULL DEFAULT 0,
			sim_ms INTEGER NOT NULL DEFAULT 0,
			max_health REAL NOT NULL,
			depletion_rate REAL NOT NULL,
			item_count INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			item_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			value INTEGER NOT NULL,
			sim_ms INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sim_ms INTEGER NOT NULL,
			candidates INTEGER NOT NULL,
			feasible INTEGER NOT NULL,
			budget REAL NOT NULL,
			chosen_id TEXT,
			score REAL,
			PRIMARY KEY (session_id, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropStartTotal:    s.dropStart.Load(),
		DropEndTotal:      s.dropEnd.Load(),
		DropDeliveryTotal: s.dropDelivery.Load(),
		DropDecisionTotal: s.dropDecision.Load(),
		WriteErrorTotal:   s.writeErrs.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) SessionStarted(m session.Meta, st session.Start) {
	s.enqueue(req{kind: reqSessionStart, start: startRow{
		SessionID:     st.ID,
		StartedAt:     st.StartedAt.UTC().Format(time.RFC3339Nano),
		MaxHealth:     st.Config.MaxHealth,
		DepletionRate: st.Config.DepletionRate,
		ItemCount:     st.Config.ItemCount,
	}}, &s.dropStart)
}

func (s *SQLiteIndex) ItemDroppedOff(m session.Meta, it items.View) {
	s.enqueue(req{kind: reqDelivery, delivery: deliveryRow{
		SessionID: m.SessionID,
		Seq:       m.Seq,
		ItemID:    it.ID,
		Tier:      it.Tier,
		Value:     it.Value,
		SimMs:     m.SimTime.Milliseconds(),
	}}, &s.dropDelivery)
}

func (s *SQLiteIndex) Decision(m session.Meta, d session.DecisionView) {
	r := decisionRow{
		SessionID:  m.SessionID,
		Seq:        m.Seq,
		SimMs:      m.SimTime.Milliseconds(),
		Candidates: d.Candidates,
		Feasible:   d.Feasible,
		Budget:     d.Budget,
	}
	if d.Chosen != nil {
		r.ChosenID = d.Chosen.ID
		r.Score = d.Score
	}
	s.enqueue(req{kind: reqDecision, decision: r}, &s.dropDecision)
}

func (s *SQLiteIndex) SessionEnded(m session.Meta, r session.Result) {
	s.enqueue(req{kind: reqSessionEnd, end: r}, &s.dropEnd)
}

// UpsertTuning stores the tuning actually applied, keyed by its digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tuning(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return digest, nil
}

// SessionRow is one row of the sessions table.
type SessionRow struct {
	SessionID     string  `json:"session_id"`
	StartedAt     string  `json:"started_at"`
	EndedAt       string  `json:"ended_at,omitempty"`
	Outcome       string  `json:"outcome,omitempty"`
	Label         string  `json:"label,omitempty"`
	Score         int     `json:"score"`
	Delivered     int     `json:"delivered"`
	SimMs         int64   `json:"sim_ms"`
	MaxHealth     float64 `json:"max_health"`
	DepletionRate float64 `json:"depletion_rate"`
	ItemCount     int     `json:"item_count"`
}

// RecentSessions lists the newest sessions first.
func (s *SQLiteIndex) RecentSessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT session_id,started_at,COALESCE(ended_at,''),COALESCE(outcome,''),COALESCE(label,''),
		score,delivered,sim_ms,max_health,depletion_rate,item_count
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.SessionID, &r.StartedAt, &r.EndedAt, &r.Outcome, &r.Label,
			&r.Score, &r.Delivered, &r.SimMs, &r.MaxHealth, &r.DepletionRate, &r.ItemCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStart, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,started_at,max_health,depletion_rate,item_count) VALUES(?,?,?,?,?)`)
	updateEnd, _ := s.db.Prepare(`UPDATE sessions SET ended_at=?,outcome=?,label=?,score=?,delivered=?,sim_ms=? WHERE session_id=?`)
	insertDelivery, _ := s.db.Prepare(`INSERT OR REPLACE INTO deliveries(session_id,seq,item_id,tier,value,sim_ms) VALUES(?,?,?,?,?,?)`)
	insertDecision, _ := s.db.Prepare(`INSERT OR REPLACE INTO decisions(session_id,seq,sim_ms,candidates,feasible,budget,chosen_id,score) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertStart, updateEnd, insertDelivery, insertDecision} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		for attempt := 0; attempt < 2; attempt++ {
			txx, err := s.db.BeginTx(ctx, nil)
			if err == nil {
				tx = txx
				opCount = 0
				lastCommit = time.Now()
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
		// The request is lost.
		s.writeErrs.Add(1)
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrs.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrs.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	// exec wraps each op in a savepoint so a failing row is undone on its own
	// and the rest of the batch still commits.
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.ExecContext(ctx, `SAVEPOINT op`); err != nil {
			rollback()
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			s.writeErrs.Add(1)
			_, rbErr := tx.ExecContext(ctx, `ROLLBACK TO op`)
			if rbErr == nil {
				_, rbErr = tx.ExecContext(ctx, `RELEASE op`)
			}
			if rbErr != nil {
				rollback()
			}
			return
		}
		if _, err := tx.ExecContext(ctx, `RELEASE op`); err != nil {
			rollback()
			return
		}
		opCount++
	}

	// The pool holds one connection; an idle open transaction would block
	// RecentSessions, so the ticker commits it after commitMaxWait.
	tick := time.NewTicker(commitMaxWait / 4)
	defer tick.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-tick.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSessionStart:
			st := r.start
			exec(insertStart, st.SessionID, st.StartedAt, st.MaxHealth, st.DepletionRate, st.ItemCount)

		case reqSessionEnd:
			e := r.end
			exec(updateEnd,
				e.EndedAt.UTC().Format(time.RFC3339Nano),
				e.Outcome.String(),
				e.Label,
				e.Score,
				e.Delivered,
				e.SimDuration.Milliseconds(),
				e.ID,
			)
			// Outcomes are what readers poll for; make them visible now.
			commit()
			continue

		case reqDelivery:
			d := r.delivery
			exec(insertDelivery, d.SessionID, int64(d.Seq), d.ItemID, d.Tier, d.Value, d.SimMs)

		case reqDecision:
			d := r.decision
			var chosen, score any
			if d.ChosenID != "" {
				chosen, score = d.ChosenID, d.Score
			}
			exec(insertDecision, d.SessionID, int64(d.Seq), d.SimMs, d.Candidates, d.Feasible, d.Budget, chosen, score)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}
}

var (
	_ session.Sink             = (*SQLiteIndex)(nil)
	_ session.PresentationSink = (*SQLiteIndex)(nil)
)
