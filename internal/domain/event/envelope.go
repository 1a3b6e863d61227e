package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Envelope is the wire-level message produced by upstream modules.
// Payload is kept as raw JSON; its shape is handler-specific and is
// validated only at the point of use.
type Envelope struct {
	EventID      string          `json:"eventId"`
	Type         string          `json:"eventType"`
	OriginModule string          `json:"originModule"`
	Timestamp    Timestamp       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
}

// Timestamp accepts ISO-8601 strings as well as numeric epoch seconds or
// milliseconds, with or without fractional seconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed
				return nil
			}
		}
		// numeric epoch delivered as a string
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			t.Time = epochToTime(v)
			return nil
		}
		return fmt.Errorf("unsupported timestamp format: %q", s)
	}

	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("unsupported timestamp format: %s", data)
	}
	t.Time = epochToTime(v)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// epochToTime treats values above 1e12 as milliseconds, otherwise seconds.
func epochToTime(v float64) time.Time {
	if v > 1e12 {
		v = v / 1000
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// Parse decodes an envelope from raw record bytes.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		// some producers ship "type" instead of "eventType"
		env.Type = gjson.GetBytes(data, "type").String()
	}
	env.Unwrap()
	return &env, nil
}

// Unwrap flattens a nested payload of the form {"type": ..., "payload": ...}
// one level, keeping the inner type when the outer one is absent.
func (e *Envelope) Unwrap() {
	if len(e.Payload) == 0 {
		return
	}
	inner := gjson.GetBytes(e.Payload, "payload")
	if !inner.Exists() {
		return
	}
	if innerType := gjson.GetBytes(e.Payload, "type"); innerType.Exists() && e.Type == "" {
		e.Type = innerType.String()
	}
	e.Payload = json.RawMessage(inner.Raw)
}
