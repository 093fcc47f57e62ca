// Package pricedoc defines the persisted price document and its validation.
package pricedoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeLayout matches the millisecond UTC form browsers produce with toISOString.
const TimeLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrEmpty         = errors.New("price document is empty")
	ErrMalformed     = errors.New("price document is malformed")
	ErrMissingPrices = fmt.Errorf("%w: missing prices object", ErrMalformed)
)

// Document is the single persisted price record.
type Document struct {
	Prices      map[string]any `json:"prices"`
	LastUpdated string         `json:"lastUpdated,omitempty"`
	Source      string         `json:"source,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Validate parses raw as a price document. Karat keys and value ranges are
// not checked; readers coerce through Price.
func Validate(raw []byte) (Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Document{}, ErrEmpty
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Document{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	prices, err := decodeObject(fields["prices"])
	if err != nil || prices == nil {
		return Document{}, ErrMissingPrices
	}

	doc := Document{
		Prices:      prices,
		LastUpdated: stringField(fields["lastUpdated"]),
		Source:      stringField(fields["source"]),
	}
	if meta, err := decodeObject(fields["meta"]); err == nil && meta != nil {
		doc.Meta = meta
	}
	return doc, nil
}

// Encode serializes doc as indented JSON. The output always passes Validate.
func Encode(doc Document) ([]byte, error) {
	if doc.Prices == nil {
		return nil, ErrMissingPrices
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal price document: %w", err)
	}
	return append(payload, '\n'), nil
}

// WithDefaults returns a copy of doc with lastUpdated and source filled in
// when they are absent.
func (d Document) WithDefaults(now time.Time, source string) Document {
	out := d
	if strings.TrimSpace(out.LastUpdated) == "" {
		out.LastUpdated = now.UTC().Format(TimeLayout)
	}
	if strings.TrimSpace(out.Source) == "" {
		out.Source = source
	}
	return out
}

// Price returns the price for a karat grade. Missing grades report false;
// non-numeric and negative values coerce to zero.
func (d Document) Price(karat string) (int64, bool) {
	value, ok := d.Prices[karat]
	if !ok {
		return 0, false
	}
	return coerce(value), true
}

// UpdatedAt parses lastUpdated, accepting RFC 3339 with or without fractions.
func (d Document) UpdatedAt() (time.Time, bool) {
	if d.LastUpdated == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, d.LastUpdated)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var out map[string]any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

func coerce(value any) int64 {
	var f float64
	switch v := value.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	f = math.Round(f)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return 0
	}
	return int64(f)
}
