// Package render formats agents, sessions and messages for the CLI, either as
// aligned tables or as line-delimited JSON for piping into tools like jq.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/agora/pkg/coord"
)

// OutputFormat selects table or JSONL output.
type OutputFormat string

const (
	// OutputFormatDefault is a compact table with truncated content.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL writes each item as a single JSON line.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, "":
		return OutputFormatDefault, nil
	case OutputFormatJSONL:
		return OutputFormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown output format %q (valid: default, jsonl)", s)
	}
}

// Messages writes a session history. now anchors the relative ages.
func Messages(w io.Writer, format OutputFormat, msgs []coord.Message, now time.Time) error {
	if format == OutputFormatJSONL {
		return JSONL(w, msgs)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages found")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-14s %-14s %-9s %-8s %s\n", "ID", "FROM", "TO", "TYPE", "AGE", "CONTENT")
	fmt.Fprintf(w, "%-10s %-14s %-14s %-9s %-8s %s\n",
		"----------", "--------------", "--------------", "---------", "--------", "----------------------------------------")
	for _, m := range msgs {
		fmt.Fprintf(w, "%-10s %-14s %-14s %-9s %-8s %s\n",
			shortID(m.ID),
			truncate(m.FromAgent, 14),
			truncate(m.Recipient(), 14),
			m.MessageType,
			age(m.Timestamp, now),
			firstLine(m.Content, 40),
		)
	}
	fmt.Fprintf(w, "\n%d %s\n", len(msgs), plural(len(msgs), "message", "messages"))
	return nil
}

// Agents writes discovery results.
func Agents(w io.Writer, format OutputFormat, agents []coord.AgentWithHealth, now time.Time) error {
	if format == OutputFormatJSONL {
		return JSONL(w, agents)
	}
	if len(agents) == 0 {
		fmt.Fprintln(w, "No agents found")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-18s %-8s %-8s %s\n", "ID", "NAME", "STATUS", "SEEN", "CAPABILITIES")
	fmt.Fprintf(w, "%-10s %-18s %-8s %-8s %s\n",
		"----------", "------------------", "--------", "--------", "------------------------------")
	for _, a := range agents {
		fmt.Fprintf(w, "%-10s %-18s %-8s %-8s %s\n",
			shortID(a.ID),
			truncate(a.Name, 18),
			a.Status,
			age(a.LastActive, now),
			orDash(strings.Join(a.Capabilities, ",")),
		)
	}
	fmt.Fprintf(w, "\n%d %s\n", len(agents), plural(len(agents), "agent", "agents"))
	return nil
}

// Sessions writes a session list.
func Sessions(w io.Writer, format OutputFormat, sessions []*coord.Session, now time.Time) error {
	if format == OutputFormatJSONL {
		return JSONL(w, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-20s %-10s %-13s %-8s %s\n", "ID", "NAME", "STATUS", "MODE", "AGE", "PARTICIPANTS")
	fmt.Fprintf(w, "%-10s %-20s %-10s %-13s %-8s %s\n",
		"----------", "--------------------", "----------", "-------------", "--------", "------------------------------")
	for _, s := range sessions {
		fmt.Fprintf(w, "%-10s %-20s %-10s %-13s %-8s %s\n",
			shortID(s.ID),
			truncate(s.Name, 20),
			s.Status,
			s.Mode,
			age(s.CreatedAt, now),
			orDash(strings.Join(s.Participants, ",")),
		)
	}
	fmt.Fprintf(w, "\n%d %s\n", len(sessions), plural(len(sessions), "session", "sessions"))
	return nil
}

// Insights writes synthesized insights, strongest first as returned.
func Insights(w io.Writer, format OutputFormat, insights []coord.EmergentInsight) error {
	if format == OutputFormatJSONL {
		return JSONL(w, insights)
	}
	if len(insights) == 0 {
		fmt.Fprintln(w, "No insights found")
		return nil
	}

	fmt.Fprintf(w, "%-10s %-17s %-5s %-20s %s\n", "ID", "TYPE", "CONF", "CONTRIBUTORS", "CONTENT")
	fmt.Fprintf(w, "%-10s %-17s %-5s %-20s %s\n",
		"----------", "-----------------", "-----", "--------------------", "----------------------------------------")
	for _, in := range insights {
		fmt.Fprintf(w, "%-10s %-17s %-5.2f %-20s %s\n",
			shortID(in.ID),
			in.Type,
			in.Confidence,
			truncate(strings.Join(in.Contributors, ","), 20),
			firstLine(in.Content, 40),
		)
	}
	fmt.Fprintf(w, "\n%d %s\n", len(insights), plural(len(insights), "insight", "insights"))
	return nil
}

// Coherence writes a human-readable health report for one session.
func Coherence(w io.Writer, c *coord.SessionCoherence) {
	fmt.Fprintf(w, "Session:     %s\n", c.SessionID)
	fmt.Fprintf(w, "Coherence:   %.2f\n", c.CoherenceScore)
	fmt.Fprintf(w, "Topic drift: %.2f\n", c.TopicDrift)
	fmt.Fprintf(w, "Quality:     %.2f\n", c.DiscussionQuality)
	fmt.Fprintf(w, "Insights:    %.0f%% of messages\n", c.InsightGenerationRate*100)
	fmt.Fprintf(w, "Messages:    %d\n", c.MessageCount)

	if len(c.ParticipationBalance) > 0 {
		agents := make([]string, 0, len(c.ParticipationBalance))
		for a := range c.ParticipationBalance {
			agents = append(agents, a)
		}
		sort.Strings(agents)
		fmt.Fprintln(w, "\nParticipation:")
		for _, a := range agents {
			fmt.Fprintf(w, "  %-14s %5.1f%%\n", truncate(a, 14), c.ParticipationBalance[a])
		}
	}

	if len(c.Issues) > 0 {
		fmt.Fprintln(w, "\nIssues:")
		for _, issue := range c.Issues {
			fmt.Fprintf(w, "  [%s] %s: %s\n", issue.Severity, issue.Type, issue.Description)
			if len(issue.AffectedAgents) > 0 {
				fmt.Fprintf(w, "      affected: %s\n", strings.Join(issue.AffectedAgents, ", "))
			}
		}
	}

	fmt.Fprintln(w, "\nRecommendations:")
	for _, r := range c.Recommendations {
		fmt.Fprintf(w, "  - %s\n", r)
	}
}

// Consensus writes the outcome of a consensus round.
func Consensus(w io.Writer, proposal string, r *coord.ConsensusResult) {
	verdict := "not reached"
	if r.Agreed {
		verdict = "reached"
	}
	fmt.Fprintf(w, "Proposal:  %s\n", firstLine(proposal, 60))
	fmt.Fprintf(w, "Consensus: %s (level %.2f)\n", verdict, r.ConsensusLevel)
	if len(r.CompromisesReached) > 0 {
		fmt.Fprintln(w, "Compromises:")
		for _, c := range r.CompromisesReached {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}
}

// JSONL writes each element of items as one compact JSON line.
func JSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// JSON writes v as indented JSON followed by a newline.
func JSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON output: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

// shortID keeps the first 8 characters of an id.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if s == "" {
		return "-"
	}
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

// firstLine returns the first non-empty line of s, truncated to n runes.
func firstLine(s string, n int) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return truncate(trimmed, n)
		}
	}
	return "-"
}

// age renders t relative to now: "12s ago", "3m ago", "2h ago", "4d ago".
func age(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := now.Sub(t)
	if diff < 0 {
		diff = 0
	}
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
