// Package synth merges detector signals into one ranked action queue.
//
// Each distinct signal becomes an action scored by its confidence, a bonus
// for its status and a bonus for how recently it confirmed. The queue keeps
// the strongest DefaultLimit actions.
package synth

import (
	"math"
	"sort"
	"strings"
	"time"

	"signalflow/internal/model"
)

// DefaultLimit caps the action queue.
const DefaultLimit = 12

// statusScore is the additive bonus per signal status.
var statusScore = map[string]float64{
	model.StatusConfirmed:   0.2,
	model.StatusActive:      0.15,
	model.StatusValidated:   0.15,
	model.StatusFilled:      0.12,
	model.StatusMitigated:   0.12,
	model.StatusReaction:    0.12,
	model.StatusRange:       0.1,
	model.StatusVolatility:  0.1,
	model.StatusDeveloping:  0.08,
	model.StatusCompression: 0.06,
	model.StatusSignal:      0.05,
	model.StatusSetup:       0.05,
	model.StatusWatchlist:   0.04,
	model.StatusSession:     0.04,
}

var urgentStatuses = map[string]bool{
	model.StatusConfirmed:  true,
	model.StatusActive:     true,
	model.StatusValidated:  true,
	model.StatusFilled:     true,
	model.StatusMitigated:  true,
	model.StatusRange:      true,
	model.StatusVolatility: true,
	model.StatusReaction:   true,
}

var watchStatuses = map[string]bool{
	model.StatusDeveloping:  true,
	model.StatusSignal:      true,
	model.StatusSetup:       true,
	model.StatusCompression: true,
	model.StatusSession:     true,
	model.StatusWatchlist:   true,
}

// StatusBonus returns the score bonus for a status, 0 if unknown.
func StatusBonus(status string) float64 {
	return statusScore[strings.ToLower(status)]
}

// Urgency classifies a status as now, watch or monitor.
func Urgency(status string) string {
	s := strings.ToLower(status)
	switch {
	case urgentStatuses[s]:
		return model.UrgencyNow
	case watchStatuses[s]:
		return model.UrgencyWatch
	default:
		return model.UrgencyMonitor
	}
}

// ActionFor maps a bias and urgency to an action verb.
func ActionFor(bias model.Direction, urgency string) string {
	switch bias {
	case model.Bullish:
		switch urgency {
		case model.UrgencyNow:
			return model.ActionEnterLong
		case model.UrgencyWatch:
			return model.ActionMonitorLong
		}
		return model.ActionObserveLong
	case model.Bearish:
		switch urgency {
		case model.UrgencyNow:
			return model.ActionEnterShort
		case model.UrgencyWatch:
			return model.ActionMonitorShort
		}
		return model.ActionObserveShort
	}
	return model.ActionMonitor
}

// NormalizeDirection folds any direction into bullish, bearish or neutral.
func NormalizeDirection(d model.Direction) model.Direction {
	switch model.Direction(strings.ToLower(string(d))) {
	case model.Bullish:
		return model.Bullish
	case model.Bearish:
		return model.Bearish
	}
	return model.Neutral
}

// RecencyBonus rewards signals that confirmed in the last half hour.
// Timestamps above 1e12 are taken as milliseconds.
func RecencyBonus(confirmedAt int64, now time.Time) float64 {
	sec := confirmedAt
	if sec > 1e12 {
		sec /= 1000
	}
	age := now.Unix() - sec
	if age < 0 {
		age = 0
	}
	switch {
	case age <= 300:
		return 0.15
	case age <= 900:
		return 0.1
	case age <= 1800:
		return 0.05
	}
	return 0
}

// Synthesizer ranks signals into actions.
type Synthesizer struct {
	// Now is the clock used for recency. Defaults to time.Now.
	Now func() time.Time

	// Limit caps the queue. Defaults to DefaultLimit.
	Limit int
}

// New creates a Synthesizer on the wall clock.
func New() *Synthesizer {
	return &Synthesizer{Now: time.Now, Limit: DefaultLimit}
}

// Synthesize dedupes signals across groups by ID (first wins), scores them
// and returns the top actions, highest score first.
func (s *Synthesizer) Synthesize(groups ...[]model.Signal) []model.Action {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	limit := s.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	at := now()

	seen := make(map[string]bool)
	actions := make([]model.Action, 0)
	for _, group := range groups {
		for _, sig := range group {
			if sig.ID == "" || seen[sig.ID] {
				continue
			}
			seen[sig.ID] = true
			actions = append(actions, s.action(sig, at))
		}
	}

	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Score > actions[j].Score })
	if len(actions) > limit {
		actions = actions[:limit]
	}
	return actions
}

func (s *Synthesizer) action(sig model.Signal, at time.Time) model.Action {
	bias := NormalizeDirection(sig.Direction)
	status := strings.ToLower(sig.Status)
	urgency := Urgency(status)

	confidence := sig.Confidence
	if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
		confidence = 0.5
	}
	score := clamp01(confidence + StatusBonus(status) + RecencyBonus(sig.ConfirmedAt, at))

	return model.Action{
		ID:           sig.ID + "-action",
		Action:       ActionFor(bias, urgency),
		Bias:         bias,
		Urgency:      urgency,
		Score:        score,
		SignalID:     sig.ID,
		Pattern:      sig.Pattern,
		Category:     sig.Category,
		TriggerPrice: sig.TriggerPrice,
		Status:       status,
		Confidence:   confidence,
		Timeframe:    sig.Timeframe,
		ContractCode: sig.ContractCode,
		Source:       sig.Source,
		KeyLevels:    sig.KeyLevels,
		Context:      sig.Context,
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
