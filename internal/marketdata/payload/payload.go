// Package payload converts upstream trade and quote payloads into model.Tick.
//
// Each upstream schema has its own adapter. Adapters never guess silently:
// a payload that does not match its schema fails with a *ParseError.
//
//	GatewayTrade:  {"price":2412.3,"volume":2,"timestamp":"2025-11-03T14:30:05Z"}
//	GatewayQuote:  {"lastPrice":2412.4,"bestBid":2412.3,"bestAsk":2412.5,"timestamp":1762180205000}
//	Tuple:         [2412.3, 2, 1762180205000]
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"signalflow/internal/model"

	"github.com/shopspring/decimal"
)

// Schema names an upstream payload layout.
type Schema string

const (
	SchemaGatewayTrade Schema = "gateway-trade"
	SchemaGatewayQuote Schema = "gateway-quote"
	SchemaTuple        Schema = "tuple"
)

// ErrMalformed is wrapped by every ParseError.
var ErrMalformed = errors.New("malformed payload")

// ParseError describes why a payload could not be normalized.
type ParseError struct {
	Schema Schema
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("payload %s: %s", e.Schema, e.Reason)
	}
	return fmt.Sprintf("payload %s: field %s: %s", e.Schema, e.Field, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrMalformed }

// Adapter converts one raw payload into a tick.
type Adapter func(raw []byte) (model.Tick, error)

// Field lookup order per schema.
var (
	tradePriceFields = []string{"price", "lastPrice", "LastPrice", "tradePrice", "TradePrice"}
	quotePriceFields = []string{"price", "lastPrice", "LastPrice", "bestBid", "bestAsk", "bid", "ask"}
	quantityFields   = []string{"quantity", "qty", "Quantity", "size", "Size", "volume", "Volume"}
	timestampFields  = []string{"timestamp", "Timestamp", "tradeTime", "TradeTime", "time"}
)

// secondsThreshold separates epoch seconds from epoch milliseconds.
const secondsThreshold = 10_000_000_000

// nowMs is replaced in tests.
var nowMs = func() int64 { return time.Now().UnixMilli() }

// GatewayTrade adapts a trade object. Quantity defaults to 1 when absent or zero.
func GatewayTrade(raw []byte) (model.Tick, error) {
	obj, err := decodeObject(SchemaGatewayTrade, raw)
	if err != nil {
		return model.Tick{}, err
	}
	return fromObject(SchemaGatewayTrade, obj, tradePriceFields)
}

// GatewayQuote adapts a quote object. The returned tick always has Quantity 0.
func GatewayQuote(raw []byte) (model.Tick, error) {
	obj, err := decodeObject(SchemaGatewayQuote, raw)
	if err != nil {
		return model.Tick{}, err
	}
	t, err := fromObject(SchemaGatewayQuote, obj, quotePriceFields)
	if err != nil {
		return model.Tick{}, err
	}
	t.Quantity = 0
	return t, nil
}

// Tuple adapts a positional [price, quantity, timestamp] array.
func Tuple(raw []byte) (model.Tick, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return model.Tick{}, &ParseError{Schema: SchemaTuple, Reason: "not a json array"}
	}
	if len(arr) == 0 {
		return model.Tick{}, &ParseError{Schema: SchemaTuple, Reason: "empty array"}
	}
	obj := map[string]any{}
	keys := []string{"price", "quantity", "timestamp"}
	for i := 0; i < len(arr) && i < len(keys); i++ {
		v, err := decodeValue(arr[i])
		if err != nil {
			return model.Tick{}, &ParseError{Schema: SchemaTuple, Field: keys[i], Reason: err.Error()}
		}
		obj[keys[i]] = v
	}
	return fromObject(SchemaTuple, obj, []string{"price"})
}

// Trade routes a trade payload to the tuple or object adapter by its JSON shape.
func Trade(raw []byte) (model.Tick, error) {
	if isArray(raw) {
		return Tuple(raw)
	}
	return GatewayTrade(raw)
}

// Quote routes a quote payload by shape and zeroes its quantity.
func Quote(raw []byte) (model.Tick, error) {
	if isArray(raw) {
		t, err := Tuple(raw)
		if err != nil {
			return model.Tick{}, err
		}
		t.Quantity = 0
		return t, nil
	}
	return GatewayQuote(raw)
}

// Decode applies the adapter registered for schema.
func Decode(schema Schema, raw []byte) (model.Tick, error) {
	switch schema {
	case SchemaGatewayTrade:
		return GatewayTrade(raw)
	case SchemaGatewayQuote:
		return GatewayQuote(raw)
	case SchemaTuple:
		return Tuple(raw)
	default:
		return model.Tick{}, &ParseError{Schema: schema, Reason: "unknown schema"}
	}
}

// SplitBatch splits a JSON array of objects into individual payloads.
// Any other payload (an object, or a positional tuple) is returned as-is.
func SplitBatch(raw []byte) []json.RawMessage {
	if !isArray(raw) {
		return []json.RawMessage{raw}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return []json.RawMessage{raw}
	}
	first := bytes.TrimSpace(items[0])
	if len(first) == 0 || first[0] != '{' {
		return []json.RawMessage{raw}
	}
	return items
}

func isArray(raw []byte) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 0 && b[0] == '['
}

func decodeObject(schema Schema, raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, &ParseError{Schema: schema, Reason: "not a json object"}
	}
	return obj, nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func fromObject(schema Schema, obj map[string]any, priceFields []string) (model.Tick, error) {
	price, ok := firstNumber(obj, priceFields)
	if !ok {
		return model.Tick{}, &ParseError{Schema: schema, Field: "price", Reason: "missing"}
	}
	if !model.Finite(price) || price <= 0 {
		return model.Tick{}, &ParseError{Schema: schema, Field: "price", Reason: fmt.Sprintf("invalid value %v", price)}
	}

	qty, ok := firstNumber(obj, quantityFields)
	if !ok || qty == 0 || !model.Finite(qty) {
		qty = 1
	}

	ts, err := timestamp(schema, obj)
	if err != nil {
		return model.Tick{}, err
	}

	return model.Tick{Price: price, Quantity: qty, TimestampMs: ts}, nil
}

func timestamp(schema Schema, obj map[string]any) (int64, error) {
	for _, key := range timestampFields {
		v, present := obj[key]
		if !present || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr {
			if n, ok := toFloat(s); ok {
				return scaleEpoch(n), nil
			}
			t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
			if err != nil {
				return 0, &ParseError{Schema: schema, Field: key, Reason: "unparseable time " + s}
			}
			return t.UnixMilli(), nil
		}
		n, ok := toFloat(v)
		if !ok || !model.Finite(n) {
			return 0, &ParseError{Schema: schema, Field: key, Reason: "not a number"}
		}
		if n == 0 {
			continue
		}
		return scaleEpoch(n), nil
	}
	return nowMs(), nil
}

func scaleEpoch(n float64) int64 {
	if n < secondsThreshold {
		n *= 1000
	}
	return int64(math.Floor(n))
}

func firstNumber(obj map[string]any, keys []string) (float64, bool) {
	for _, key := range keys {
		v, present := obj[key]
		if !present || v == nil {
			continue
		}
		if n, ok := toFloat(v); ok {
			return n, true
		}
	}
	return 0, false
}

// toFloat accepts json.Number, float64 and numeric strings.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return 0, false
		}
		return d.InexactFloat64(), true
	case float64:
		return t, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return d.InexactFloat64(), true
	default:
		return 0, false
	}
}
