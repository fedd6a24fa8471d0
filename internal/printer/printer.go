// Package printer renders CLI feedback: colored status lines and structured errors
// with an explanation and follow-up suggestions.
package printer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/dyluth/agora/pkg/fault"
)

func init() {
	// NO_COLOR disables color; otherwise force it even without a TTY.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Out and ErrOut are where output goes. Tests may swap them.
var (
	Out    io.Writer = os.Stdout
	ErrOut io.Writer = os.Stderr
)

// Success prints a green message with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an uncolored message.
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a yellow message with a warning prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Step prints an emphasized progress line.
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a titled error with explanation and suggestions to ErrOut, and
// returns an error carrying only the title (cobra runs with SilenceErrors).
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error plus key/value details, printed in key order.
func ErrorWithContext(title string, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(ErrOut, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(ErrOut, "%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(ErrOut)
		for _, k := range keys {
			fmt.Fprintf(ErrOut, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(ErrOut, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(ErrOut, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(ErrOut, "  %d. %s\n", i+1, s)
		}
	}

	return &shownError{title: title}
}

// shownError is returned once an error has been printed, so Fault does not print it again.
type shownError struct {
	title string
}

func (e *shownError) Error() string { return e.title }

// Fault prints an Agora operation error with suggestions chosen by its category.
func Fault(err error) error {
	if err == nil {
		return nil
	}
	var shown *shownError
	if errors.As(err, &shown) {
		return shown
	}
	var details map[string]string
	var fe *fault.Error
	if errors.As(err, &fe) && fe.SessionID != "" {
		details = map[string]string{"Session": fe.SessionID}
	}

	switch {
	case errors.Is(err, fault.ErrNotFound):
		return ErrorWithContext("not found", err.Error(), details, []string{
			"Check the id, or list what exists:\n  agora session list",
		})
	case errors.Is(err, fault.ErrUnauthorized):
		return ErrorWithContext("not permitted", err.Error(), details, []string{
			"Join the session first:\n  agora session join <session-id> <agent-id>",
			"Check the session is still active:\n  agora session info <session-id>",
		})
	case errors.Is(err, fault.ErrInvalidArgument):
		return ErrorWithContext("invalid input", err.Error(), details, []string{
			"See the command's usage with --help",
		})
	case fault.IsRetryable(err):
		return ErrorWithContext("temporarily unavailable", err.Error(), details, []string{
			"Check the store is reachable (--redis-url) and retry",
		})
	default:
		return ErrorWithContext("operation failed", err.Error(), details, nil)
	}
}
