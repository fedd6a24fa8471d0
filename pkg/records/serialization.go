package records

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Records are stored as Redis hashes. Labels and tags are JSON-encoded into single
// hash fields; the payload is stored verbatim.

// RecordToHash converts a Record to Redis hash format.
func RecordToHash(r *Record) (map[string]interface{}, error) {
	labelsJSON, err := json.Marshal(r.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}
	tagsJSON, err := json.Marshal(r.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	return map[string]interface{}{
		"id":            r.ID,
		"kind":          string(r.Kind),
		"content":       r.Content,
		"payload":       string(r.Payload),
		"labels":        string(labelsJSON),
		"tags":          string(tagsJSON),
		"created_at_ms": r.CreatedAtMs,
		"version":       r.Version,
	}, nil
}

// HashToRecord converts a Redis hash to a Record.
func HashToRecord(hash map[string]string) (*Record, error) {
	version, err := strconv.ParseInt(hash["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version field: %w", err)
	}
	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	labels := map[string]string{}
	if raw := hash["labels"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}
	tags := []string{}
	if raw := hash["tags"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	return &Record{
		ID:          hash["id"],
		Kind:        Kind(hash["kind"]),
		Content:     hash["content"],
		Payload:     json.RawMessage(hash["payload"]),
		Labels:      labels,
		Tags:        tags,
		CreatedAtMs: createdAtMs,
		Version:     version,
	}, nil
}
