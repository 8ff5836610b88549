package serialmux

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrMalformedLine is returned when a serial line does not decode as a flat
// mapping of metric name to number.
var ErrMalformedLine = errors.New("malformed serial line")

// ClampEvent records a metric whose raw value exceeded the clamp bound.
type ClampEvent struct {
	Metric string  `json:"metric"`
	Raw    float64 `json:"raw"`
	Stored float64 `json:"stored"`
}

// ParseLine decodes one line from the microcontroller. Lines are JSON objects
// such as {"internal_temperature": 21.5}; older firmware prints Python dict
// literals with single quotes, which are accepted too. Every value must be a
// number. Unknown metric names are passed through.
func ParseLine(line string) (map[string]float64, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("%w: empty line", ErrMalformedLine)
	}
	if !strings.HasPrefix(line, "{") {
		return nil, fmt.Errorf("%w: expected an object, got %q", ErrMalformedLine, truncate(line))
	}

	raw, err := decodeObject(line)
	if err != nil && strings.Contains(line, "'") {
		raw, err = decodeObject(strings.ReplaceAll(line, "'", `"`))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	fields := make(map[string]float64, len(raw))
	for key, value := range raw {
		num, ok := value.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: non-numeric value for %q: %v", ErrMalformedLine, key, value)
		}
		f, err := num.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: invalid number for %q: %s", ErrMalformedLine, key, num)
		}
		fields[key] = f
	}
	return fields, nil
}

func decodeObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after object")
	}
	return raw, nil
}

// Clamp caps every value at limit. The returned map is a copy; events list the
// clamped metrics sorted by name.
func Clamp(fields map[string]float64, limit float64) (map[string]float64, []ClampEvent) {
	out := make(map[string]float64, len(fields))
	var events []ClampEvent
	for metric, v := range fields {
		if v > limit {
			events = append(events, ClampEvent{Metric: metric, Raw: v, Stored: limit})
			v = limit
		}
		out[metric] = v
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Metric < events[j].Metric })
	return out, events
}

// ParseAndClamp parses line and applies Clamp to the result.
func ParseAndClamp(line string, limit float64) (map[string]float64, []ClampEvent, error) {
	fields, err := ParseLine(line)
	if err != nil {
		return nil, nil, err
	}
	clamped, events := Clamp(fields, limit)
	return clamped, events, nil
}

func truncate(s string) string {
	const n = 64
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
