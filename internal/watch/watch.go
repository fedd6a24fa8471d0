// Package watch streams relayed lifecycle events to a terminal or a JSONL pipe.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/agora/pkg/coord"
)

// OutputFormat selects how streamed events are written.
type OutputFormat string

const (
	// OutputFormatDefault is one human-readable line per event.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON is one JSON object per line.
	OutputFormatJSON OutputFormat = "json"
)

// Source delivers events. *records.Subscription implements it.
type Source interface {
	Events() <-chan *coord.Event
	Errors() <-chan error
}

// Filter narrows the stream. Zero values match everything.
type Filter struct {
	SessionID string
	Names     []string
}

func (f Filter) matches(evt *coord.Event) bool {
	if f.SessionID != "" && evt.SessionID != f.SessionID {
		return false
	}
	if len(f.Names) == 0 {
		return true
	}
	for _, n := range f.Names {
		if n == evt.Name {
			return true
		}
	}
	return false
}

// Stream writes matching events from src to w until ctx is done or src closes.
func Stream(ctx context.Context, src Source, format OutputFormat, filter Filter, w io.Writer) error {
	f, err := newFormatter(format, w)
	if err != nil {
		return err
	}

	events, errs := src.Events(), src.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if !filter.matches(evt) {
				continue
			}
			if err := f.format(evt); err != nil {
				return err
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			f.warn(err)
		}
	}
}

// WaitFor blocks until a matching event arrives, returning it, or fails after timeout.
func WaitFor(ctx context.Context, src Source, filter Filter, timeout time.Duration) (*coord.Event, error) {
	timeoutCh := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for event after %v", timeout)

		case evt, ok := <-src.Events():
			if !ok {
				return nil, fmt.Errorf("event stream closed")
			}
			if filter.matches(evt) {
				return evt, nil
			}
		}
	}
}

// Print writes a single event in the given format.
func Print(w io.Writer, format OutputFormat, evt *coord.Event) error {
	f, err := newFormatter(format, w)
	if err != nil {
		return err
	}
	return f.format(evt)
}

type formatter interface {
	format(evt *coord.Event) error
	warn(err error)
}

func newFormatter(format OutputFormat, w io.Writer) (formatter, error) {
	switch format {
	case OutputFormatDefault, "":
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{encoder: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (valid: default, json)", format)
	}
}

type defaultFormatter struct {
	writer io.Writer
}

var eventIcons = map[string]string{
	"agent_registered":         "🤖",
	"agent_status_changed":     "🔁",
	"session_created":          "🗂️",
	"business_session_created": "💼",
	"agent_joined_session":     "👋",
	"agent_left_session":       "🚪",
	"session_concluded":        "🏁",
	"message_sent":             "💬",
	"priority_message_routed":  "📮",
	"urgent_message_alert":     "🚨",
	"realtime_mode_enabled":    "⚡",
	"coherence_monitored":      "🩺",
	"coherence_degraded":       "⚠️",
	"consensus_reached":        "🤝",
	"consensus_not_reached":    "🙅",
	"insights_synthesized":     "💡",
	"extension_registered":     "🧩",
}

func (f *defaultFormatter) format(evt *coord.Event) error {
	icon, ok := eventIcons[evt.Name]
	if !ok {
		icon = "•"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", evt.Timestamp.Format("15:04:05"), icon, evt.Name)
	if evt.SessionID != "" {
		fmt.Fprintf(&b, " session=%s", evt.SessionID)
	}

	keys := make([]string, 0, len(evt.Data))
	for k := range evt.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, evt.Data[k])
	}

	_, err := fmt.Fprintln(f.writer, b.String())
	return err
}

func (f *defaultFormatter) warn(err error) {
	fmt.Fprintf(f.writer, "⚠️  skipped event: %v\n", err)
}

type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) format(evt *coord.Event) error {
	return f.encoder.Encode(evt)
}

// warn is silent so the JSON stream stays machine-readable.
func (f *jsonFormatter) warn(error) {}
