// Package tfbuilder resamples one-minute candles into higher timeframes and
// parses timeframe labels such as "5m" or "1h".
package tfbuilder

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"signalflow/internal/model"
)

// DefaultSeconds is used for labels that cannot be parsed.
const DefaultSeconds = 60

var tfPattern = regexp.MustCompile(`(?i)(\d+)([smhd])`)

// ParseTimeframe converts a label like "15m" into seconds.
// Unknown labels fall back to 60.
func ParseTimeframe(tf string) int {
	m := tfPattern.FindStringSubmatch(tf)
	if m == nil {
		return DefaultSeconds
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultSeconds
	}
	switch strings.ToLower(m[2]) {
	case "s":
		return n
	case "m":
		return n * 60
	case "h":
		return n * 3600
	case "d":
		return n * 86400
	}
	return DefaultSeconds
}

// IsMinuteRange reports whether tf is a minute-based label between lo and hi
// minutes inclusive (e.g. "1m".."5m").
func IsMinuteRange(tf string, lo, hi int) bool {
	m := tfPattern.FindStringSubmatch(strings.TrimSpace(tf))
	if m == nil || strings.ToLower(m[2]) != "m" {
		return false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return false
	}
	return n >= lo && n <= hi
}

// Resample groups candles into tf buckets (floor(time/interval)*interval).
// Intervals of one minute or less return a copy of src. Candles with a
// non-positive time are skipped.
func Resample(src []model.Candle, tf string) []model.Candle {
	if len(src) == 0 {
		return []model.Candle{}
	}
	interval := int64(ParseTimeframe(tf))
	if interval <= 60 {
		return model.CloneCandles(src)
	}

	buckets := make(map[int64]*model.Candle, len(src)/int(interval/60)+1)
	for _, c := range src {
		if c.Time <= 0 || !c.Valid() {
			continue
		}
		bucket := c.Time / interval * interval
		b, ok := buckets[bucket]
		if !ok {
			nc := c
			nc.Time = bucket
			buckets[bucket] = &nc
			continue
		}
		if c.High > b.High {
			b.High = c.High
		}
		if c.Low < b.Low {
			b.Low = c.Low
		}
		b.Close = c.Close
		b.Volume += c.Volume
		b.Completed = c.Completed
	}

	out := make([]model.Candle, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
