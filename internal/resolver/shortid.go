// Package resolver expands the short session ids shown by "agora session list"
// into full ids.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// maxListedMatches caps how many candidates an ambiguity error names.
const maxListedMatches = 10

// SessionLister lists sessions. *service.Service implements it.
type SessionLister interface {
	ListSessions(ctx context.Context, status coord.SessionStatus) ([]*coord.Session, error)
}

// ResolveSessionID returns the full id of the one session whose id equals or
// starts with id. Prefixes shorter than MinShortIDLength only match exactly.
func ResolveSessionID(ctx context.Context, l SessionLister, id string) (string, error) {
	const op = "resolve_session"
	if id == "" {
		return "", fault.InvalidArgument(op, "session id cannot be empty")
	}

	sessions, err := l.ListSessions(ctx, "")
	if err != nil {
		return "", err
	}

	var matches []string
	for _, s := range sessions {
		if s.ID == id {
			return id, nil
		}
		if len(id) >= MinShortIDLength && strings.HasPrefix(s.ID, id) {
			matches = append(matches, s.ID)
		}
	}

	switch len(matches) {
	case 0:
		if len(id) < MinShortIDLength {
			return "", fault.NotFound(op, "no session %q (short ids need at least %d characters)", id, MinShortIDLength)
		}
		return "", fault.NotFound(op, "no session matches %q", id)
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: id, Matches: matches}
	}
}

// AmbiguousError indicates multiple sessions matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ambiguous short ID '%s' matches %d sessions:", e.ShortID, len(e.Matches))

	n := min(len(e.Matches), maxListedMatches)
	for _, m := range e.Matches[:n] {
		fmt.Fprintf(&b, "\n  %s", m)
	}
	if len(e.Matches) > maxListedMatches {
		fmt.Fprintf(&b, "\n  ...and %d more", len(e.Matches)-maxListedMatches)
	}
	b.WriteString("\nUse a longer prefix to uniquely identify the session.")
	return b.String()
}

// Unwrap classifies ambiguity as invalid input.
func (e *AmbiguousError) Unwrap() error { return fault.ErrInvalidArgument }
