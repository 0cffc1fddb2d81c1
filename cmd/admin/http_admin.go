package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"caddie.ai/internal/sim/tuning"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the current session state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cl := &http.Client{Timeout: 5 * time.Second}
		resp, err := cl.Get(endpoint("/v1/session"))
		if err != nil {
			return fmt.Errorf("request: %w", err)
		}
		return printResponse(resp)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post(endpoint("/v1/session/start"), nil)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post(endpoint("/v1/session/stop"), nil)
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Apply session settings to the next session",
	Long:  `settings posts the flags that were set; the rest keep their current values. The server clamps each value and echoes what it applied.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := tuning.Settings{MaxHealth: maxHealth, DepletionRate: depletionRate, ItemCount: itemCount, PoolCapacity: poolCapacity}
		full, err := json.Marshal(s)
		if err != nil {
			return err
		}
		var all map[string]json.RawMessage
		if err := json.Unmarshal(full, &all); err != nil {
			return err
		}
		fields := map[string]string{
			"max-health":     "max_health",
			"depletion-rate": "depletion_rate",
			"item-count":     "item_count",
			"pool-capacity":  "pool_capacity",
		}
		body := map[string]json.RawMessage{}
		for flagName, key := range fields {
			if !cmd.Flags().Changed(flagName) {
				continue
			}
			v, ok := all[key]
			if !ok {
				v = json.RawMessage("0")
			}
			body[key] = v
		}
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		return post(endpoint("/v1/settings"), b)
	},
}

var (
	maxHealth     float64
	depletionRate float64
	itemCount     int
	poolCapacity  int
)

func init() {
	settingsCmd.Flags().Float64Var(&maxHealth, "max-health", 100, "max health (clamped to 50..500)")
	settingsCmd.Flags().Float64Var(&depletionRate, "depletion-rate", 1, "health lost per second (clamped to 0.1..5)")
	settingsCmd.Flags().IntVar(&itemCount, "item-count", 50, "items per session (clamped to 10..200)")
	settingsCmd.Flags().IntVar(&poolCapacity, "pool-capacity", 0, "pool capacity (0 unbounded, else clamped to 10..1000)")
}

func endpoint(path string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
}

func post(u string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
