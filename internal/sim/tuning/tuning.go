package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"caddie.ai/internal/sim/geom"
	"caddie.ai/internal/sim/nav"
	"caddie.ai/internal/sim/session"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	TickRateHz  int   `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	Seed        int64 `yaml:"seed" json:"seed"`
	AutoRestart bool  `yaml:"auto_restart" json:"auto_restart"`

	Session SessionTuning `yaml:"session" json:"session"`
	Course  CourseTuning  `yaml:"course" json:"course"`
	Delays  DelayTuning   `yaml:"delays_ms" json:"delays_ms"`
}

type SessionTuning struct {
	MaxHealth     float64 `yaml:"max_health" json:"max_health"`
	DepletionRate float64 `yaml:"depletion_rate" json:"depletion_rate"`
	ItemCount     int     `yaml:"item_count" json:"item_count"`
	// PoolCapacity <= 0 means unbounded.
	PoolCapacity int `yaml:"pool_capacity" json:"pool_capacity"`
}

type CourseTuning struct {
	Bounds           Bounds         `yaml:"bounds" json:"bounds"`
	StartPos         [3]float64     `yaml:"start_pos" json:"start_pos"`
	DeliveryPos      [3]float64     `yaml:"delivery_pos" json:"delivery_pos"`
	Speed            float64        `yaml:"speed" json:"speed"`
	StoppingDistance float64        `yaml:"stopping_distance" json:"stopping_distance"`
	CellSize         float64        `yaml:"cell_size" json:"cell_size"`
	SnapRadius       float64        `yaml:"snap_radius" json:"snap_radius"`
	Hazards          []HazardTuning `yaml:"hazards" json:"hazards"`
}

type Bounds struct {
	MinX float64 `yaml:"min_x" json:"min_x"`
	MinZ float64 `yaml:"min_z" json:"min_z"`
	MaxX float64 `yaml:"max_x" json:"max_x"`
	MaxZ float64 `yaml:"max_z" json:"max_z"`
}

type HazardTuning struct {
	Center [3]float64 `yaml:"center" json:"center"`
	Radius float64    `yaml:"radius" json:"radius"`
}

type DelayTuning struct {
	Retry   int `yaml:"retry" json:"retry"`
	Pickup  int `yaml:"pickup" json:"pickup"`
	DropOff int `yaml:"drop_off" json:"drop_off"`
	Settle  int `yaml:"settle" json:"settle"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		Seed:            1337,
		Session: SessionTuning{
			MaxHealth:     100,
			DepletionRate: 1,
			ItemCount:     50,
		},
		Course: CourseTuning{
			Bounds:           Bounds{MinX: -50, MinZ: -50, MaxX: 50, MaxZ: 50},
			Speed:            3.5,
			StoppingDistance: 0.1,
			CellSize:         2,
			SnapRadius:       2,
		},
		Delays: DelayTuning{Retry: 500, Pickup: 500, DropOff: 500, Settle: 500},
	}
}

// Load overlays the YAML file at path on Defaults. The raw document is
// checked against the embedded schema before decoding.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := checkSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("tuning.schema.json", schemaJSON)
	})
	return compiledSchema, schemaErr
}

// checkSchema validates a YAML document by round-tripping it through JSON.
func checkSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	s, err := schema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return s.Validate(v)
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0 (got %d)", t.TickRateHz)
	}
	if !(t.Session.MaxHealth > 0) {
		return fmt.Errorf("session.max_health must be > 0 (got %v)", t.Session.MaxHealth)
	}
	if !(t.Session.DepletionRate > 0) {
		return fmt.Errorf("session.depletion_rate must be > 0 (got %v)", t.Session.DepletionRate)
	}
	if t.Session.ItemCount < 0 {
		return fmt.Errorf("session.item_count must be >= 0 (got %d)", t.Session.ItemCount)
	}
	b := t.Course.Bounds
	if !(b.MaxX > b.MinX) || !(b.MaxZ > b.MinZ) {
		return errors.New("course.bounds must have positive width and depth")
	}
	if !(t.Course.Speed > 0) {
		return fmt.Errorf("course.speed must be > 0 (got %v)", t.Course.Speed)
	}
	for i, h := range t.Course.Hazards {
		if !(h.Radius > 0) {
			return fmt.Errorf("course.hazards[%d].radius must be > 0", i)
		}
	}
	d := t.Delays
	if d.Retry < 0 || d.Pickup < 0 || d.DropOff < 0 || d.Settle < 0 {
		return errors.New("delays_ms must be >= 0")
	}
	return nil
}

// TickDuration is the real-time length of one scheduling quantum.
func (t Tuning) TickDuration() time.Duration {
	if t.TickRateHz <= 0 {
		return 50 * time.Millisecond
	}
	return time.Second / time.Duration(t.TickRateHz)
}

func vec(a [3]float64) geom.Vec3 { return geom.Vec3{X: a[0], Y: a[1], Z: a[2]} }

func (t Tuning) SessionConfig() session.Config {
	return session.Config{
		MaxHealth:     t.Session.MaxHealth,
		DepletionRate: t.Session.DepletionRate,
		ItemCount:     t.Session.ItemCount,
		AreaBounds:    t.CourseRect(),
		StartPos:      vec(t.Course.StartPos),
		DeliveryPos:   vec(t.Course.DeliveryPos),
		Seed:          t.Seed,
		Delays: session.Delays{
			Retry:   time.Duration(t.Delays.Retry) * time.Millisecond,
			Pickup:  time.Duration(t.Delays.Pickup) * time.Millisecond,
			DropOff: time.Duration(t.Delays.DropOff) * time.Millisecond,
			Settle:  time.Duration(t.Delays.Settle) * time.Millisecond,
		},
	}
}

func (t Tuning) NavConfig() nav.Config {
	cfg := nav.Config{
		Bounds:           t.CourseRect(),
		Speed:            t.Course.Speed,
		StoppingDistance: t.Course.StoppingDistance,
		CellSize:         t.Course.CellSize,
		SnapRadius:       t.Course.SnapRadius,
		GroundY:          t.Course.StartPos[1],
	}
	for _, h := range t.Course.Hazards {
		cfg.Hazards = append(cfg.Hazards, nav.Hazard{Center: vec(h.Center), Radius: h.Radius})
	}
	return cfg
}
