package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents the severity level of a log message
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// PeerID creates a field carrying a derived peer identifier
// ("peer_" + base64url(sha256(publicKey))) for a Controller or Cardhost.
func PeerID(id string) Field {
	return Field{Key: "peer_id", Value: id}
}

// CardhostID creates a field carrying the peer id of the Cardhost side of
// a relay. Kept distinct from PeerID so a log line correlating both a
// Controller and its bound Cardhost doesn't collide on one key.
func CardhostID(id string) Field {
	return Field{Key: "cardhost_id", Value: id}
}

// SessionToken creates a field carrying an opaque session token. Callers
// should pass the full token: unlike a public key there is nothing
// sensitive to redact, and truncating it would make session log lines
// unjoinable across the Controller and Cardhost sides of a relay.
func SessionToken(token string) Field {
	return Field{Key: "session_token", Value: token}
}

// RequestID creates a field carrying an rpc-request/rpc-response
// envelope id, the key the Transport Service correlates on.
func RequestID(id string) Field {
	return Field{Key: "request_id", Value: id}
}

// Phase creates a field naming a WebSocket handler's current phase
// (e.g. "authenticating", "connecting", "rpc").
func Phase(phase string) Field {
	return Field{Key: "phase", Value: phase}
}

// ctxKey is an unexported type for the values this package stashes on a
// context.Context, so a bare string key from an unrelated package can
// never collide with or shadow one of these.
type ctxKey int

const (
	ctxKeyPeerID ctxKey = iota
	ctxKeySessionToken
)

// ContextWithPeerID attaches a peer id to ctx so every log line emitted
// through a logger built with WithContext(ctx) carries it automatically,
// without every call site having to pass logger.PeerID(id) explicitly.
func ContextWithPeerID(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, ctxKeyPeerID, peerID)
}

// ContextWithSessionToken attaches a session token to ctx the same way.
func ContextWithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeySessionToken, token)
}

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	WithContext(ctx context.Context) Logger
	WithFields(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// StructuredLogger implements the Logger interface with JSON output
type StructuredLogger struct {
	mu          sync.RWMutex
	level       Level
	output      io.Writer
	context     context.Context
	baseFields  []Field
	timeFormat  string
	prettyPrint bool
}

// NewLogger creates a new structured logger
func NewLogger(output io.Writer, level Level) *StructuredLogger {
	return &StructuredLogger{
		level:      level,
		output:     output,
		timeFormat: time.RFC3339,
	}
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger() *StructuredLogger {
	level := InfoLevel
	if envLevel := os.Getenv("ROUTER_LOG_LEVEL"); envLevel != "" {
		switch strings.ToUpper(envLevel) {
		case "DEBUG":
			level = DebugLevel
		case "INFO":
			level = InfoLevel
		case "WARN":
			level = WarnLevel
		case "ERROR":
			level = ErrorLevel
		}
	}

	return NewLogger(os.Stdout, level)
}

// SetPrettyPrint enables or disables pretty printing of JSON logs
func (l *StructuredLogger) SetPrettyPrint(pretty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prettyPrint = pretty
}

// SetTimeFormat sets the time format for log entries
func (l *StructuredLogger) SetTimeFormat(format string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeFormat = format
}

// Debug logs a debug level message
func (l *StructuredLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

// Info logs an info level message
func (l *StructuredLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

// Warn logs a warning level message
func (l *StructuredLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

// Error logs an error level message
func (l *StructuredLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

// Fatal logs a fatal level message and exits
func (l *StructuredLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

// WithContext returns a new logger with the given context
func (l *StructuredLogger) WithContext(ctx context.Context) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &StructuredLogger{
		level:       l.level,
		output:      l.output,
		context:     ctx,
		baseFields:  l.baseFields,
		timeFormat:  l.timeFormat,
		prettyPrint: l.prettyPrint,
	}
}

// WithFields returns a new logger with additional fields
func (l *StructuredLogger) WithFields(fields ...Field) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newFields := make([]Field, len(l.baseFields)+len(fields))
	copy(newFields, l.baseFields)
	copy(newFields[len(l.baseFields):], fields)

	return &StructuredLogger{
		level:       l.level,
		output:      l.output,
		context:     l.context,
		baseFields:  newFields,
		timeFormat:  l.timeFormat,
		prettyPrint: l.prettyPrint,
	}
}

// SetLevel sets the minimum log level
func (l *StructuredLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *StructuredLogger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// log is the internal logging method
func (l *StructuredLogger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	entry := make(map[string]interface{})
	entry["timestamp"] = time.Now().Format(l.timeFormat)
	entry["level"] = level.String()
	entry["message"] = msg

	// Add caller information
	if pc, file, line, ok := runtime.Caller(2); ok {
		entry["caller"] = fmt.Sprintf("%s:%d", file, line)
		if fn := runtime.FuncForPC(pc); fn != nil {
			entry["function"] = fn.Name()
		}
	}

	// Add context fields if available. These are the two identifiers the
	// Router actually correlates log lines by: a peer id (set once a
	// socket authenticates) and a session token (set once connect-cardhost
	// binds it), not a generic request/trace id.
	if l.context != nil {
		if peerID, ok := l.context.Value(ctxKeyPeerID).(string); ok && peerID != "" {
			entry["peer_id"] = peerID
		}
		if token, ok := l.context.Value(ctxKeySessionToken).(string); ok && token != "" {
			entry["session_token"] = token
		}
	}

	// Add base fields
	for _, field := range l.baseFields {
		entry[field.Key] = field.Value
	}

	// Add provided fields
	for _, field := range fields {
		entry[field.Key] = field.Value
	}

	// Marshal to JSON
	var data []byte
	var err error
	if l.prettyPrint {
		data, err = json.MarshalIndent(entry, "", "  ")
	} else {
		data, err = json.Marshal(entry)
	}

	if err != nil {
		fmt.Fprintf(l.output, `{"level":"ERROR","message":"Failed to marshal log entry","error":"%v"}`+"\n", err)
		return
	}

	// Write to output
	fmt.Fprintf(l.output, "%s\n", data)
}

// RouterError represents a structured error carrying one of the
// Router's stable error.code values, suitable for both logging and
// direct translation into a wire error envelope.
type RouterError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *RouterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *RouterError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *RouterError) WithDetails(key string, value interface{}) *RouterError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Fields returns the structured fields a handler should attach when
// logging a RouterError, so the log line and the wire error envelope it
// produces report the same code.
func (e *RouterError) Fields() []Field {
	fields := make([]Field, 0, 2+len(e.Details))
	fields = append(fields, String("error_code", e.Code), String("error_message", e.Message))
	for k, v := range e.Details {
		fields = append(fields, Any(k, v))
	}
	return fields
}

// NewRouterError creates a new RouterError.
func NewRouterError(code, message string, cause error) *RouterError {
	return &RouterError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error taxonomy codes, surfaced verbatim in wire error envelopes.
const (
	ErrCodeInvalidPhase       = "INVALID_PHASE"
	ErrCodeAuthFailed         = "AUTH_FAILED"
	ErrCodeNoRelaySession     = "NO_RELAY_SESSION"
	ErrCodeCardhostOffline    = "CARDHOST_OFFLINE"
	ErrCodeDuplicateRequestID = "DUPLICATE_REQUEST_ID"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeSendFailed         = "SEND_FAILED"
	ErrCodeUnknownMessage     = "UNKNOWN_MESSAGE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Global logger instance
var defaultLogger = NewDefaultLogger()

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger Logger) {
	if l, ok := logger.(*StructuredLogger); ok {
		defaultLogger = l
	}
}

// GetDefaultLogger returns the global default logger
func GetDefaultLogger() *StructuredLogger {
	return defaultLogger
}

// Package-level logging functions using the default logger

// Debug logs a debug message using the default logger
func Debug(msg string, fields ...Field) {
	defaultLogger.Debug(msg, fields...)
}

// Info logs an info message using the default logger
func Info(msg string, fields ...Field) {
	defaultLogger.Info(msg, fields...)
}

// Warn logs a warning message using the default logger
func Warn(msg string, fields ...Field) {
	defaultLogger.Warn(msg, fields...)
}

// ErrorMsg logs an error message using the default logger
func ErrorMsg(msg string, fields ...Field) {
	defaultLogger.Error(msg, fields...)
}

// Fatal logs a fatal message using the default logger and exits
func Fatal(msg string, fields ...Field) {
	defaultLogger.Fatal(msg, fields...)
}