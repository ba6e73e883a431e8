package model

// Signal statuses.
const (
	StatusConfirmed   = "confirmed"
	StatusActive      = "active"
	StatusValidated   = "validated"
	StatusFilled      = "filled"
	StatusMitigated   = "mitigated"
	StatusReaction    = "reaction"
	StatusRange       = "range"
	StatusVolatility  = "volatility"
	StatusDeveloping  = "developing"
	StatusCompression = "compression"
	StatusSignal      = "signal"
	StatusSetup       = "setup"
	StatusWatchlist   = "watchlist"
	StatusSession     = "session"
	StatusLiquidity   = "liquidity"
)

// Signal is one detection. ID is the de-duplication key; first occurrence wins.
type Signal struct {
	ID           string             `json:"id"`
	Pattern      string             `json:"pattern"`
	Category     string             `json:"category"`
	Direction    Direction          `json:"direction"`
	Status       string             `json:"status"`
	Timeframe    string             `json:"timeframe,omitempty"`
	ContractCode string             `json:"contractCode,omitempty"`
	Confidence   float64            `json:"confidence"`
	ConfirmedAt  int64              `json:"confirmedAt"`
	TriggerPrice float64            `json:"triggerPrice"`
	KeyLevels    map[string]float64 `json:"keyLevels,omitempty"`
	Context      map[string]any     `json:"context,omitempty"`
	Source       string             `json:"source,omitempty"`
	Indicator    string             `json:"indicator,omitempty"`
	IndicatorKey string             `json:"indicatorKey,omitempty"`
}

// Action is a ranked recommendation derived from one Signal.
type Action struct {
	ID           string             `json:"id"`
	Action       string             `json:"action"`
	Bias         Direction          `json:"bias"`
	Urgency      string             `json:"urgency"`
	Score        float64            `json:"score"`
	SignalID     string             `json:"signalId"`
	Pattern      string             `json:"pattern"`
	Category     string             `json:"category"`
	TriggerPrice float64            `json:"triggerPrice"`
	Status       string             `json:"status"`
	Confidence   float64            `json:"confidence"`
	Timeframe    string             `json:"timeframe,omitempty"`
	ContractCode string             `json:"contractCode,omitempty"`
	Source       string             `json:"source,omitempty"`
	KeyLevels    map[string]float64 `json:"keyLevels,omitempty"`
	Context      map[string]any     `json:"context,omitempty"`
}

// Action verbs.
const (
	ActionEnterLong    = "enter-long"
	ActionMonitorLong  = "monitor-long"
	ActionObserveLong  = "observe-long"
	ActionEnterShort   = "enter-short"
	ActionMonitorShort = "monitor-short"
	ActionObserveShort = "observe-short"
	ActionMonitor      = "monitor"
)

// Action urgencies.
const (
	UrgencyNow     = "now"
	UrgencyWatch   = "watch"
	UrgencyMonitor = "monitor"
)

// Diagnostic explains why a detector produced nothing or what it applied.
// Indicator overlays fill Name; strategy groups fill Scope.
type Diagnostic struct {
	Name    string `json:"name,omitempty"`
	Scope   string `json:"scope,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Diagnostic statuses.
const (
	DiagOK               = "ok"
	DiagIdle             = "idle"
	DiagPending          = "pending"
	DiagTodo             = "todo"
	DiagInsufficientData = "insufficient-data"
	DiagNoRange          = "no-range"
	DiagTimeframe        = "timeframe"
	DiagInstrument       = "instrument"
)
