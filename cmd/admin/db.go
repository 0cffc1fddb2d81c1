package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var dbCmd = &cobra.Command{
	Use:       "db [sessions|deliveries|decisions|tuning]",
	Short:     "Query the sqlite session index",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"sessions", "deliveries", "decisions", "tuning"},
	RunE:      runDB,
}

var (
	dbPath    string
	dbSession string
	dbLimit   int
)

func init() {
	dbCmd.Flags().StringVar(&dbPath, "db", "", "sqlite db path (default: <data>/index/caddie.sqlite)")
	dbCmd.Flags().StringVar(&dbSession, "session", "", "session_id filter (deliveries, decisions)")
	dbCmd.Flags().IntVar(&dbLimit, "limit", 20, "result limit")
}

func runDB(cmd *cobra.Command, args []string) error {
	q := "sessions"
	if len(args) > 0 {
		q = strings.TrimSpace(args[0])
	}
	limit := dbLimit
	if limit <= 0 {
		limit = 20
	}

	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "index", "caddie.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("index: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	switch q {
	case "sessions":
		rows, err := db.Query(`SELECT session_id,started_at,COALESCE(ended_at,''),COALESCE(outcome,''),COALESCE(label,''),score,delivered,sim_ms,max_health,depletion_rate,item_count
			FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
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
			if err := rows.Scan(&r.SessionID, &r.StartedAt, &r.EndedAt, &r.Outcome, &r.Label, &r.Score, &r.Delivered, &r.SimMs, &r.MaxHealth, &r.DepletionRate, &r.ItemCount); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}

	case "deliveries":
		rows, err := db.Query(`SELECT session_id,seq,item_id,tier,value,sim_ms FROM deliveries
			WHERE (?='' OR session_id=?) ORDER BY session_id, seq LIMIT ?`, dbSession, dbSession, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				SessionID string `json:"session_id"`
				Seq       int64  `json:"seq"`
				ItemID    string `json:"item_id"`
				Tier      string `json:"tier"`
				Value     int    `json:"value"`
				SimMs     int64  `json:"sim_ms"`
			}
			if err := rows.Scan(&r.SessionID, &r.Seq, &r.ItemID, &r.Tier, &r.Value, &r.SimMs); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}

	case "decisions":
		rows, err := db.Query(`SELECT session_id,seq,sim_ms,candidates,feasible,budget,COALESCE(chosen_id,''),COALESCE(score,0) FROM decisions
			WHERE (?='' OR session_id=?) ORDER BY session_id, seq LIMIT ?`, dbSession, dbSession, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				SessionID  string  `json:"session_id"`
				Seq        int64   `json:"seq"`
				SimMs      int64   `json:"sim_ms"`
				Candidates int     `json:"candidates"`
				Feasible   int     `json:"feasible"`
				Budget     float64 `json:"budget"`
				ChosenID   string  `json:"chosen_id,omitempty"`
				Score      float64 `json:"score"`
			}
			if err := rows.Scan(&r.SessionID, &r.Seq, &r.SimMs, &r.Candidates, &r.Feasible, &r.Budget, &r.ChosenID, &r.Score); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}

	case "tuning":
		var digest, body, updated string
		err := db.QueryRow(`SELECT t.digest,t.json,t.updated_at FROM tuning t JOIN meta m ON m.key='tuning_digest' AND m.value=t.digest`).Scan(&digest, &body, &updated)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		printJSON(map[string]any{"digest": digest, "updated_at": updated, "tuning": json.RawMessage(body)})

	default:
		return fmt.Errorf("unknown query %q", q)
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
