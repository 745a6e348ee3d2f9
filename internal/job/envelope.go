// Package job defines the wire shape of a job envelope: the thing that
// gets pushed onto a queue list or a delayed-schedule list.
//
// Narrowed from a broader Job struct to the envelope fields actually
// needed (class, args, id, prefix, queue_time) instead of bundling in
// status/priority/retry; those concerns move to internal/status,
// internal/queue, and internal/failure respectively.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical job envelope. Field declaration order matches
// the wire shape
// {"args":[...],"class":"...","id":"...","prefix":"...","queue_time":...}
// exactly: encoding/json serializes struct fields in declaration order, so
// this order is also the envelope's canonical JSON order.
type Envelope struct {
	Args      [1]json.RawMessage `json:"args"`
	Class     string             `json:"class"`
	ID        string             `json:"id,omitempty"`
	Prefix    string             `json:"prefix,omitempty"`
	QueueTime float64            `json:"queue_time,omitempty"`
}

// DelayedEnvelope is the strictly field-ordered envelope shape used in the
// delayed schedule lists: field order is deterministic (args, class,
// queue) so that byte-equality removal works across processes. It
// intentionally omits id/prefix/queue_time since promotion preserves the
// pushed envelope as-is.
type DelayedEnvelope struct {
	Args  [1]json.RawMessage `json:"args"`
	Class string             `json:"class"`
	Queue string             `json:"queue"`
}

// NewID generates a fresh opaque job id.
func NewID() string {
	return uuid.New().String()
}

// ArgsValue wraps args (a mapping of named args, or nil) into the
// single-element sequence the envelope's args field requires.
func ArgsValue(args map[string]interface{}) ([1]json.RawMessage, error) {
	var out [1]json.RawMessage
	if args == nil {
		out[0] = json.RawMessage("null")
		return out, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return out, err
	}
	out[0] = raw
	return out, nil
}

// NewEnvelope builds a full envelope for the primary queue path (§4.1),
// assigning queue_time as a monotone floating-point second count.
func NewEnvelope(class string, args map[string]interface{}, id, prefix string) (*Envelope, error) {
	argsValue, err := ArgsValue(args)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Args:      argsValue,
		Class:     class,
		ID:        id,
		Prefix:    prefix,
		QueueTime: float64(time.Now().UnixNano()) / 1e9,
	}, nil
}

// NewDelayedEnvelope builds the strictly-ordered envelope for the delayed
// schedule (§4.2).
func NewDelayedEnvelope(queue, class string, args map[string]interface{}) (*DelayedEnvelope, error) {
	argsValue, err := ArgsValue(args)
	if err != nil {
		return nil, err
	}
	return &DelayedEnvelope{
		Args:  argsValue,
		Class: class,
		Queue: queue,
	}, nil
}

// CanonicalJSON returns the deterministic byte encoding used for
// byte-equality removal from the delayed schedule.
func (e *DelayedEnvelope) CanonicalJSON() ([]byte, error) {
	return json.Marshal(e)
}
