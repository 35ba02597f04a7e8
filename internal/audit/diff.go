// Package audit records who changed what. Every mutation writes one AuditLog
// row in the same transaction as the change itself; after commit the row is
// mirrored to any configured external shippers (file, webhook, syslog).
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Fields maintained by the database on every write. They would appear in
// every UPDATE diff without saying anything about what the caller changed.
var ignoredFields = map[string]bool{
	"updatedAt": true,
	"version":   true,
}

// Snapshot is an entity's JSON representation keyed by field name.
type Snapshot map[string]json.RawMessage

// Capture snapshots v through its JSON encoding. A nil v yields an empty
// snapshot, which is how CREATE before-states and DELETE after-states are
// expressed.
func Capture(v any) (Snapshot, error) {
	if v == nil {
		return Snapshot{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit snapshot: %w", err)
	}
	if bytes.Equal(data, []byte("null")) {
		return Snapshot{}, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("audit snapshot of %T is not a JSON object: %w", v, err)
	}
	for field := range ignoredFields {
		delete(snap, field)
	}
	return snap, nil
}

// Change is one field's transition. An omitted side means the field was
// absent from that snapshot, which is distinct from an explicit null.
type Change struct {
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

// Changes maps field names to their transitions.
type Changes map[string]Change

// Fields returns the changed field names in sorted order.
func (c Changes) Fields() []string {
	fields := make([]string, 0, len(c))
	for f := range c {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Diff compares two snapshots over the union of their keys. Values are
// compared by canonical JSON encoding, so key order inside nested objects
// and insignificant whitespace never register as changes.
func Diff(before, after Snapshot) Changes {
	changes := Changes{}
	for field, b := range before {
		a, ok := after[field]
		if !ok {
			changes[field] = Change{Before: b}
			continue
		}
		if !sameJSON(b, a) {
			changes[field] = Change{Before: b, After: a}
		}
	}
	for field, a := range after {
		if _, ok := before[field]; !ok {
			changes[field] = Change{After: a}
		}
	}
	return changes
}

func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	ca, errA := canonical(a)
	cb, errB := canonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// canonical re-encodes raw so that object keys are sorted.
func canonical(raw json.RawMessage) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
