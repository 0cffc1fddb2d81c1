package protocol

// Event kinds.
const (
	EventSessionStart = "SESSION_START"
	EventItemsReady   = "ITEMS_READY"
	EventPhase        = "PHASE"
	EventDecision     = "DECISION"
	EventPickup       = "PICKUP"
	EventDropOff      = "DROPOFF"
	EventPoints       = "POINTS"
	EventHealth       = "HEALTH"
	EventSessionEnd   = "SESSION_END"
)

var knownEvents = map[string]struct{}{
	EventSessionStart: {},
	EventItemsReady:   {},
	EventPhase:        {},
	EventDecision:     {},
	EventPickup:       {},
	EventDropOff:      {},
	EventPoints:       {},
	EventHealth:       {},
	EventSessionEnd:   {},
}

func IsKnownEvent(kind string) bool {
	_, ok := knownEvents[kind]
	return ok
}

// Event is one line of the event log and one EVENT frame on the observer
// socket. Exactly one payload field is set, matching Kind.
type Event struct {
	Type      string `json:"type"`
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	Seq       uint64 `json:"seq"`
	SimTimeMs int64  `json:"sim_time_ms"`

	Start    *StartPayload    `json:"start,omitempty"`
	Items    *ItemsPayload    `json:"items,omitempty"`
	Phase    *PhasePayload    `json:"phase,omitempty"`
	Decision *DecisionPayload `json:"decision,omitempty"`
	Item     *ItemRef         `json:"item,omitempty"`
	Points   *PointsPayload   `json:"points,omitempty"`
	Health   *HealthPayload   `json:"health,omitempty"`
	End      *EndPayload      `json:"end,omitempty"`
}

type ItemRef struct {
	ID    string     `json:"id"`
	Tier  string     `json:"tier"`
	Value int        `json:"value"`
	Pos   [3]float64 `json:"pos"`
}

type StartPayload struct {
	Settings    Settings   `json:"settings"`
	StartPos    [3]float64 `json:"start_pos"`
	DeliveryPos [3]float64 `json:"delivery_pos"`
	StartedAt   string     `json:"started_at"`
}

type ItemsPayload struct {
	Count int       `json:"count"`
	Items []ItemRef `json:"items"`
}

type PhasePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type DecisionPayload struct {
	Candidates int      `json:"candidates"`
	Feasible   int      `json:"feasible"`
	Budget     float64  `json:"budget"`
	Chosen     *ItemRef `json:"chosen,omitempty"`
	Score      float64  `json:"score,omitempty"`
	TotalTime  float64  `json:"total_time,omitempty"`
}

type PointsPayload struct {
	Amount int `json:"amount"`
	Score  int `json:"score"`
}

type HealthPayload struct {
	Health float64 `json:"health"`
}

type EndPayload struct {
	Outcome       string `json:"outcome"`
	Label         string `json:"label"`
	Score         int    `json:"score"`
	Delivered     int    `json:"delivered"`
	SimDurationMs int64  `json:"sim_duration_ms"`
	StartedAt     string `json:"started_at"`
	EndedAt       string `json:"ended_at"`
}
