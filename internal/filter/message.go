// Package filter narrows message histories on the client side.
package filter

import (
	"path/filepath"
	"time"

	"github.com/dyluth/agora/pkg/coord"
)

// Criteria defines filtering criteria for messages.
// All filters are ANDed together; zero values match everything.
type Criteria struct {
	Since    time.Time         // inclusive lower bound on Timestamp
	Until    time.Time         // inclusive upper bound on Timestamp
	FromGlob string            // glob pattern for the sender id
	Type     coord.MessageType // exact message type
}

// Matches returns true if the message matches all filter criteria.
func (c *Criteria) Matches(m *coord.Message) bool {
	if !c.Since.IsZero() && m.Timestamp.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && m.Timestamp.After(c.Until) {
		return false
	}

	if c.FromGlob != "" {
		matched, err := filepath.Match(c.FromGlob, m.FromAgent)
		if err != nil || !matched {
			return false
		}
	}

	if c.Type != "" && m.MessageType != c.Type {
		return false
	}
	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return !c.Since.IsZero() || !c.Until.IsZero() || c.FromGlob != "" || c.Type != ""
}

// Apply returns the matching messages in their original order.
func (c *Criteria) Apply(msgs []coord.Message) []coord.Message {
	if !c.HasFilters() {
		return msgs
	}
	out := make([]coord.Message, 0, len(msgs))
	for i := range msgs {
		if c.Matches(&msgs[i]) {
			out = append(out, msgs[i])
		}
	}
	return out
}
