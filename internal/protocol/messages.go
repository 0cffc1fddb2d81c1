package protocol

// SUBSCRIBE (observer -> server). Must be the first frame on the socket.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Events filters the stream by event kind; empty means all.
	Events []string `json:"events,omitempty"`
	// SkipHealth drops HEALTH events, which are the bulk of the stream.
	SkipHealth bool `json:"skip_health,omitempty"`
}

// WELCOME (server -> observer)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	WorldParams     WorldParams   `json:"world_params"`
	Session         *SessionState `json:"session,omitempty"`
}

type WorldParams struct {
	TickRateHz  int         `json:"tick_rate_hz"`
	Bounds      [4]float64  `json:"bounds"` // min_x, min_z, max_x, max_z
	StartPos    [3]float64  `json:"start_pos"`
	DeliveryPos [3]float64  `json:"delivery_pos"`
	Speed       float64     `json:"speed"`
	Hazards     []HazardRef `json:"hazards,omitempty"`
	Settings    Settings    `json:"settings"`
	Seed        int64       `json:"seed"`
}

type HazardRef struct {
	Center [3]float64 `json:"center"`
	Radius float64    `json:"radius"`
}

type Settings struct {
	MaxHealth     float64 `json:"max_health"`
	DepletionRate float64 `json:"depletion_rate"`
	ItemCount     int     `json:"item_count"`
	PoolCapacity  int     `json:"pool_capacity,omitempty"`
}

// SessionState is the current session as served by /v1/session and WELCOME.
type SessionState struct {
	SessionID   string      `json:"session_id,omitempty"`
	Active      bool        `json:"active"`
	Score       int         `json:"score"`
	Health      float64     `json:"health"`
	MaxHealth   float64     `json:"max_health"`
	Status      string      `json:"status"`
	Pos         [3]float64  `json:"pos"`
	Held        string      `json:"held,omitempty"`
	Delivered   int         `json:"delivered"`
	ItemsActive int         `json:"items_active"`
	SimTimeMs   int64       `json:"sim_time_ms"`
	Last        *EndPayload `json:"last,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
