package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	p := writeYAML(t, `
tick_rate_hz: 10
session:
  max_health: 250
  item_count: 12
course:
  start_pos: [1, 0, 2]
  delivery_pos: [1, 0, 2]
  hazards:
    - center: [10, 0, 10]
      radius: 3
delays_ms:
  pickup: 250
`)
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.TickRateHz != 10 || tu.Session.MaxHealth != 250 || tu.Session.ItemCount != 12 {
		t.Fatalf("overrides not applied: %+v", tu)
	}
	if tu.Session.DepletionRate != 1 || tu.Course.Speed != 3.5 {
		t.Fatalf("defaults lost: %+v", tu)
	}
	if tu.TickDuration() != 100*time.Millisecond {
		t.Fatalf("tick duration: %s", tu.TickDuration())
	}

	sc := tu.SessionConfig()
	if sc.Delays.Pickup != 250*time.Millisecond || sc.Delays.Retry != 500*time.Millisecond {
		t.Fatalf("delays: %+v", sc.Delays)
	}
	if sc.StartPos.X != 1 || sc.StartPos.Z != 2 {
		t.Fatalf("start pos: %v", sc.StartPos)
	}
	if sc.Seed != tu.Seed || sc.Seed == 0 {
		t.Fatalf("session seed=%d want=%d", sc.Seed, tu.Seed)
	}
	if err := sc.Validate(); err != nil {
		t.Fatalf("session config invalid: %v", err)
	}
	nc := tu.NavConfig()
	if len(nc.Hazards) != 1 || nc.Hazards[0].Radius != 3 {
		t.Fatalf("hazards: %+v", nc.Hazards)
	}
}

func TestSettings_PoolCapacityClamp(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 0},
		{-3, 0},
		{4, 10},
		{64, 64},
		{5000, 1000},
	}
	for _, tc := range cases {
		got := Settings{MaxHealth: 100, DepletionRate: 1, ItemCount: 50, PoolCapacity: tc.in}.Clamp()
		if got.PoolCapacity != tc.want {
			t.Fatalf("capacity %d: got %d want %d", tc.in, got.PoolCapacity, tc.want)
		}
	}
	tu := Defaults().WithSettings(Settings{MaxHealth: 100, DepletionRate: 1, ItemCount: 50, PoolCapacity: 64})
	if tu.Session.PoolCapacity != 64 || tu.Settings().PoolCapacity != 64 {
		t.Fatalf("capacity not carried: %+v", tu.Session)
	}
}

func TestLoad_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":        "tick_rate: 5\n",
		"negative count":     "session:\n  item_count: -1\n",
		"zero health":        "session:\n  max_health: 0\n",
		"short vector":       "course:\n  start_pos: [1, 2]\n",
		"string rate":        "session:\n  depletion_rate: fast\n",
		"hazard sans radius": "course:\n  hazards:\n    - center: [0, 0, 0]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeYAML(t, body)); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestLoad_ValidateCatchesWhatSchemaCannot(t *testing.T) {
	_, err := Load(writeYAML(t, "course:\n  bounds: {min_x: 5, min_z: 0, max_x: 5, max_z: 10}\n"))
	if err == nil || !strings.Contains(err.Error(), "bounds") {
		t.Fatalf("expected bounds error, got %v", err)
	}
}

func TestLoad_EmptyFileIsDefaults(t *testing.T) {
	tu, err := Load(writeYAML(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.Session != Defaults().Session {
		t.Fatalf("expected defaults, got %+v", tu.Session)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSettingsClamp(t *testing.T) {
	got := Settings{MaxHealth: 10, DepletionRate: 9, ItemCount: 1000}.Clamp()
	want := Settings{MaxHealth: 50, DepletionRate: 5, ItemCount: 200}
	if got != want {
		t.Fatalf("clamp: got %+v want %+v", got, want)
	}
	in := Settings{MaxHealth: 120, DepletionRate: 0.5, ItemCount: 40}
	if in.Clamp() != in {
		t.Fatalf("in-range settings changed: %+v", in.Clamp())
	}

	tu := Defaults().WithSettings(Settings{MaxHealth: 1000, DepletionRate: 0, ItemCount: 0})
	if tu.Session.MaxHealth != 500 || tu.Session.DepletionRate != 0.1 || tu.Session.ItemCount != 10 {
		t.Fatalf("WithSettings: %+v", tu.Session)
	}
	if err := tu.Validate(); err != nil {
		t.Fatalf("clamped tuning must validate: %v", err)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	tune, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load shipped tuning: %v", err)
	}
	if len(tune.Course.Hazards) == 0 {
		t.Fatalf("expected hazards in shipped config")
	}
	if s := tune.Settings(); s != s.Clamp() {
		t.Fatalf("shipped settings outside slider ranges: %+v", s)
	}
}
