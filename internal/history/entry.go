// Package history keeps the audit trail of executed image operations: a
// bounded, newest-first JSON log written atomically with owner-only
// permissions, mirrored to the system journal or syslog.
package history

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// OperationType labels what an entry recorded.
type OperationType string

const (
	OpRebase   OperationType = "rebase"
	OpRollback OperationType = "rollback"
	OpPin      OperationType = "pin"
	OpUnpin    OperationType = "unpin"
	OpUpdate   OperationType = "update"
	OpOther    OperationType = "other"
)

// TimeFormat is used for human-readable timestamps.
const TimeFormat = "2006-01-02 15:04:05"

// Entry is one immutable audit record.
type Entry struct {
	Command       string        `json:"command"`
	Timestamp     float64       `json:"timestamp"`
	Success       bool          `json:"success"`
	ImageName     string        `json:"image_name"`
	OperationType OperationType `json:"operation_type"`
	UserID        *int          `json:"user_id"`
	SessionID     *string       `json:"session_id"`
	ErrorMessage  *string       `json:"error_message"`
}

// Time returns the timestamp as a local time.
func (e Entry) Time() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// FormattedTime returns the timestamp as "YYYY-MM-DD HH:MM:SS" local time.
func (e Entry) FormattedTime() string {
	return e.Time().Format(TimeFormat)
}

// User returns the user id as a string, or "unknown".
func (e Entry) User() string {
	if e.UserID == nil {
		return "unknown"
	}
	return fmt.Sprint(*e.UserID)
}

// ToDict returns the entry as a generic map keyed by the JSON field names.
// Absent optional fields map to nil.
func (e Entry) ToDict() map[string]any {
	d := map[string]any{
		"command":        e.Command,
		"timestamp":      e.Timestamp,
		"success":        e.Success,
		"image_name":     e.ImageName,
		"operation_type": string(e.OperationType),
		"user_id":        nil,
		"session_id":     nil,
		"error_message":  nil,
	}
	if e.UserID != nil {
		d["user_id"] = *e.UserID
	}
	if e.SessionID != nil {
		d["session_id"] = *e.SessionID
	}
	if e.ErrorMessage != nil {
		d["error_message"] = *e.ErrorMessage
	}
	return d
}

// EntryFromDict rebuilds an entry from a map such as one decoded from JSON.
// The five required fields must be present with the right types; optional
// fields may be missing or nil.
func EntryFromDict(d map[string]any) (Entry, error) {
	var e Entry
	var ok bool
	if e.Command, ok = d["command"].(string); !ok {
		return Entry{}, malformed("command")
	}
	if e.Timestamp, ok = toFloat(d["timestamp"]); !ok {
		return Entry{}, malformed("timestamp")
	}
	if e.Success, ok = d["success"].(bool); !ok {
		return Entry{}, malformed("success")
	}
	if e.ImageName, ok = d["image_name"].(string); !ok {
		return Entry{}, malformed("image_name")
	}
	op, ok := d["operation_type"].(string)
	if !ok {
		return Entry{}, malformed("operation_type")
	}
	e.OperationType = OperationType(op)

	if v := d["user_id"]; v != nil {
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return Entry{}, malformed("user_id")
		}
		id := int(f)
		e.UserID = &id
	}
	if v := d["session_id"]; v != nil {
		s, ok := v.(string)
		if !ok {
			return Entry{}, malformed("session_id")
		}
		e.SessionID = &s
	}
	if v := d["error_message"]; v != nil {
		s, ok := v.(string)
		if !ok {
			return Entry{}, malformed("error_message")
		}
		e.ErrorMessage = &s
	}
	return e, nil
}

func malformed(field string) error {
	return sentinels.Wrap(ErrMalformedEntry, nil,
		fmt.Sprintf("malformed history entry: field %q missing or invalid", field),
		map[string]any{"field": field})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
