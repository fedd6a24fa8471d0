// Package records is the record store adapter: the system of record for every
// Agora entity. It defines the store contract and two adapters, Redis (Client) and
// SQLite (SQLiteStore).
//
// A Record is an envelope around a typed JSON payload. Labels are equality-filterable
// key/value pairs (session_id, status, ...) and tags are membership markers
// (capability:search, from:agentA, to:all). Search intersects labels and tags, applies
// a case-insensitive text match on Content, and returns matches oldest first.
//
// The store is loosely consistent: it enforces no uniqueness beyond the record id and
// offers a single conditional write (Replace) keyed on the record version.
package records

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the entity a record holds. Each kind has its own payload schema.
type Kind string

const (
	KindAgent     Kind = "agent"
	KindSession   Kind = "session"
	KindMessage   Kind = "message"
	KindRouting   Kind = "routing"
	KindMarker    Kind = "marker"
	KindAnalysis  Kind = "analysis"
	KindConsensus Kind = "consensus"
	KindInsight   Kind = "insight"
)

// Validate checks if the Kind is a valid enum value.
func (k Kind) Validate() error {
	switch k {
	case KindAgent, KindSession, KindMessage, KindRouting, KindMarker,
		KindAnalysis, KindConsensus, KindInsight:
		return nil
	default:
		return fmt.Errorf("unknown record kind: %q", k)
	}
}

// Record is a single stored entity.
type Record struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	Content     string            `json:"content"`
	Payload     json.RawMessage   `json:"payload"`
	Labels      map[string]string `json:"labels"`
	Tags        []string          `json:"tags"`
	CreatedAtMs int64             `json:"created_at_ms"`
	Version     int64             `json:"version"`
}

// NewRecord builds a record of the given kind with payload marshalled to JSON.
// An empty id is assigned by the store on Add.
func NewRecord(kind Kind, id, content string, payload any) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return &Record{
		ID:      id,
		Kind:    kind,
		Content: content,
		Payload: raw,
		Labels:  map[string]string{},
		Tags:    []string{},
	}, nil
}

// Decode unmarshals the record payload into v.
func (r *Record) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s record %s: %w", r.Kind, r.ID, err)
	}
	return nil
}

// Validate checks the envelope and the kind-specific payload schema.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	if err := r.Kind.Validate(); err != nil {
		return err
	}
	for name := range r.Labels {
		if name == "" || strings.ContainsAny(name, ":") {
			return fmt.Errorf("invalid label name %q", name)
		}
	}
	for _, tag := range r.Tags {
		if tag == "" {
			return fmt.Errorf("tags cannot be empty")
		}
	}
	return ValidatePayload(r.Kind, r.Payload)
}

// Query selects records. All non-zero criteria are ANDed together.
type Query struct {
	Kind   Kind              // restrict to one kind, empty = any
	Text   string            // case-insensitive substring of Content, empty = any
	Labels map[string]string // every label must match exactly
	Tags   []string          // every tag must be present
	Limit  int               // 0 = unlimited, otherwise the most recent Limit matches
}

// Matches reports whether rec satisfies every criterion of q.
func (q Query) Matches(rec *Record) bool {
	if q.Kind != "" && rec.Kind != q.Kind {
		return false
	}
	if q.Text != "" && !strings.Contains(strings.ToLower(rec.Content), strings.ToLower(q.Text)) {
		return false
	}
	for name, want := range q.Labels {
		if rec.Labels[name] != want {
			return false
		}
	}
	if len(q.Tags) > 0 {
		have := make(map[string]struct{}, len(rec.Tags))
		for _, t := range rec.Tags {
			have[t] = struct{}{}
		}
		for _, t := range q.Tags {
			if _, ok := have[t]; !ok {
				return false
			}
		}
	}
	return true
}

// SortRecords orders records by creation time, ties broken by id.
func SortRecords(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAtMs != recs[j].CreatedAtMs {
			return recs[i].CreatedAtMs < recs[j].CreatedAtMs
		}
		return recs[i].ID < recs[j].ID
	})
}

// Window returns the last limit records of a sorted slice (all of them when limit <= 0).
func Window(recs []*Record, limit int) []*Record {
	if limit <= 0 || len(recs) <= limit {
		return recs
	}
	return recs[len(recs)-limit:]
}
