package db

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedRecord marks a stored document that cannot be read back as a
// Record. Range queries skip such documents.
var ErrMalformedRecord = errors.New("malformed record")

// Reserved document keys. Every other numeric key is a sensor field.
const (
	KeyID        = "_id"
	KeyRev       = "_rev"
	KeyTime      = "time"
	KeyUnixTime  = "unix_time"
	KeyFrequency = "frequency"
	KeyAmplitude = "amplitude"
	KeyClamped   = "clamped"
)

var reservedKeys = map[string]bool{
	KeyID: true, KeyRev: true, KeyTime: true, KeyUnixTime: true,
	KeyFrequency: true, KeyAmplitude: true, KeyClamped: true,
}

// Record is one sampling event. It is stored as a flat JSON document so that
// firmware can add sensor fields without a schema change.
type Record struct {
	// ID and Rev are assigned by Append.
	ID  string
	Rev string

	// Time is the human-readable timestamp; UnixTime is the sort and range key.
	Time     string
	UnixTime float64

	// Fields holds the clamped sensor readings keyed by metric name.
	Fields map[string]float64

	Frequency float64
	Amplitude float64

	// Clamped lists the metrics whose reading exceeded the clamp limit.
	Clamped []string

	// Extra preserves non-numeric keys found in a stored document.
	Extra map[string]json.RawMessage
}

// Field returns a sensor field, or frequency/amplitude by their key.
func (r *Record) Field(name string) (float64, bool) {
	switch name {
	case KeyFrequency:
		return r.Frequency, true
	case KeyAmplitude:
		return r.Amplitude, true
	}
	v, ok := r.Fields[name]
	return v, ok
}

// FieldNames returns the sensor field names in sorted order.
func (r *Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON writes the record as one flat object.
func (r Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{}, len(r.Fields)+len(r.Extra)+7)
	for k, v := range r.Extra {
		doc[k] = v
	}
	for k, v := range r.Fields {
		if reservedKeys[k] {
			return nil, fmt.Errorf("sensor field %q collides with a reserved key", k)
		}
		doc[k] = v
	}
	if r.ID != "" {
		doc[KeyID] = r.ID
	}
	if r.Rev != "" {
		doc[KeyRev] = r.Rev
	}
	doc[KeyTime] = r.Time
	doc[KeyUnixTime] = r.UnixTime
	doc[KeyFrequency] = r.Frequency
	doc[KeyAmplitude] = r.Amplitude
	if len(r.Clamped) > 0 {
		doc[KeyClamped] = r.Clamped
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads a flat document. unix_time is required; every other
// well-known key defaults to its zero value when absent.
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if doc == nil {
		return fmt.Errorf("%w: null document", ErrMalformedRecord)
	}

	var out Record
	raw, ok := doc[KeyUnixTime]
	if !ok || isNull(raw) {
		return fmt.Errorf("%w: missing %s", ErrMalformedRecord, KeyUnixTime)
	}
	if err := json.Unmarshal(raw, &out.UnixTime); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedRecord, KeyUnixTime, err)
	}

	strs := map[string]*string{KeyID: &out.ID, KeyRev: &out.Rev, KeyTime: &out.Time}
	for k, dst := range strs {
		if raw, ok := doc[k]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMalformedRecord, k, err)
			}
		}
	}
	nums := map[string]*float64{KeyFrequency: &out.Frequency, KeyAmplitude: &out.Amplitude}
	for k, dst := range nums {
		if raw, ok := doc[k]; ok && !isNull(raw) {
			if err := json.Unmarshal(raw, dst); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMalformedRecord, k, err)
			}
		}
	}
	if raw, ok := doc[KeyClamped]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &out.Clamped); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedRecord, KeyClamped, err)
		}
	}

	for k, raw := range doc {
		if reservedKeys[k] {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err == nil && !isNull(raw) {
			if out.Fields == nil {
				out.Fields = make(map[string]float64)
			}
			out.Fields[k] = v
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = raw
	}

	*r = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
