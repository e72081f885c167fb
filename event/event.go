package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a log event, ordered from LevelDebug (lowest)
// to LevelFatal (highest).
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// String returns the upper-case wire name of the level.
func (l Level) String() string {
	if l < LevelDebug || l > LevelFatal {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel converts a level name (any case) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	}
	return LevelDebug, fmt.Errorf("event: unknown level %q", s)
}

// MarshalJSON encodes the level as its upper-case name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level from its name.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ValidationError reports a caller-fixable problem with the fields passed to
// New. It is returned synchronously; an event that fails validation is never
// queued or persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event: invalid %s: %s", e.Field, e.Reason)
}

// Event is one structured log record. Immutable once constructed: the client
// never modifies an Event after it has been enqueued.
type Event struct {
	Level      Level  `json:"level"`
	Service    string `json:"service"`
	LoggerName string `json:"logger_name"`
	Message    string `json:"message"`
	UserID     string `json:"user_id,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	RequestID  string `json:"request_id"`

	// Context carries arbitrary JSON-serializable key/value data. Values
	// survive a disk-buffer round trip byte-for-byte in meaning, though
	// numbers decode as float64 per encoding/json.
	Context map[string]any `json:"context,omitempty"`

	// ClientLogDatetime is the capture time in UTC (ISO-8601 on the wire).
	ClientLogDatetime time.Time `json:"client_log_datetime"`
}

// Option customises an Event under construction.
type Option func(*Event)

// WithLoggerName overrides the logger name (defaults to the service name).
func WithLoggerName(name string) Option {
	return func(e *Event) { e.LoggerName = name }
}

// WithUserID attaches an opaque user identifier.
func WithUserID(id string) Option {
	return func(e *Event) { e.UserID = id }
}

// WithTenantID attaches an opaque tenant identifier.
func WithTenantID(id string) Option {
	return func(e *Event) { e.TenantID = id }
}

// WithRequestID sets the request id. When absent a random UUID is generated
// so every event is individually traceable.
func WithRequestID(id string) Option {
	return func(e *Event) { e.RequestID = id }
}

// WithContext attaches structured context data. The map is copied so later
// mutation by the caller cannot affect an already-enqueued event.
func WithContext(ctx map[string]any) Option {
	return func(e *Event) {
		if len(ctx) == 0 {
			return
		}
		cp := make(map[string]any, len(ctx))
		for k, v := range ctx {
			cp[k] = v
		}
		e.Context = cp
	}
}

// WithTimestamp overrides the capture time. The value is normalised to UTC.
func WithTimestamp(t time.Time) Option {
	return func(e *Event) { e.ClientLogDatetime = t.UTC() }
}

// Validate checks the construction invariants: non-empty service and
// message, and a known level.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Service) == "" {
		return &ValidationError{Field: "service", Reason: "must be non-empty"}
	}
	if strings.TrimSpace(e.Message) == "" {
		return &ValidationError{Field: "message", Reason: "must be non-empty"}
	}
	if e.Level < LevelDebug || e.Level > LevelFatal {
		return &ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %d", int(e.Level))}
	}
	return nil
}

// New builds a validated Event. Service and message must be non-empty;
// everything else is defaulted: logger name to the service, request id to a
// fresh UUID, capture time to now (UTC).
func New(level Level, service, message string, opts ...Option) (Event, error) {
	e := Event{
		Level:   level,
		Service: service,
		Message: message,
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	for _, opt := range opts {
		opt(&e)
	}

	if e.LoggerName == "" {
		e.LoggerName = service
	}
	if e.RequestID == "" {
		e.RequestID = uuid.NewString()
	}
	if e.ClientLogDatetime.IsZero() {
		e.ClientLogDatetime = time.Now().UTC()
	}
	return e, nil
}
