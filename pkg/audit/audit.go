// Package audit provides structured audit logging for governance
// operations, backed by an append-only hash-chained trail with
// optional relational archives.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventEthics     EventType = "ETHICS"
	EventCompliance EventType = "COMPLIANCE"
	EventCredential EventType = "CREDENTIAL"
	EventIncident   EventType = "INCIDENT"
	EventSystem     EventType = "SYSTEM"
)

// Event represents a structured audit record.
type Event struct {
	ID        string                 `json:"id"`
	Actor     string                 `json:"actor"`
	Type      EventType              `json:"type"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error
}

// logger implements Logger, writing structured JSON to a configurable Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, clock: time.Now}
}

func (l *logger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	actor := actorFrom(ctx)

	event := Event{
		ID:        uuid.New().String(),
		Actor:     actor,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: l.clock(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

type actorKey struct{}

// WithActor stamps the acting identity onto the context so audit
// records can attribute operations.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if ctx == nil {
		return "system"
	}
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}

// Nop returns a Logger that discards every event. Useful for tests
// and for callers that wire auditing conditionally.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Record(context.Context, EventType, string, string, map[string]interface{}) error {
	return nil
}
