// Structured logging (ambient stack), adapted from pkg/dialog/logger.go:
// the same level/field/JSON-record shape, with the SIP-dialog-specific
// context methods replaced by RTP session context (WithSSRC, alongside
// the generic WithComponent and WithFields).
package rtp

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel is the logging verbosity, lowest to highest severity.
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var logLevelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if int(l) >= 0 && int(l) < len(logLevelNames) {
		return logLevelNames[l]
	}
	return "UNKNOWN"
}

// Field is one structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Uint32(key string, value uint32) Field           { return Field{key, value} }
func Duration(key string, value time.Duration) Field  { return Field{key, value} }
func Err(err error) Field                             { return Field{"error", err} }

// logEntry is one emitted record.
type logEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component"`
	SSRC      string                 `json:"ssrc,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Logger is the structured logger used throughout the package.
// Session/transport code never writes to stdout directly.
type Logger struct {
	mu         sync.RWMutex
	level      LogLevel
	output     io.Writer
	component  string
	ssrc       string
	fields     map[string]interface{}
	jsonOutput bool
}

// NewLogger returns a Logger writing JSON records to stdout at Info
// level.
func NewLogger() *Logger {
	return &Logger{level: LogLevelInfo, output: os.Stdout, jsonOutput: true, fields: map[string]interface{}{}}
}

// NewDiscardLogger returns a Logger that drops every record; the
// default when SessionConfig.Logger is left nil.
func NewDiscardLogger() *Logger {
	return &Logger{level: LogLevelError + 1, output: io.Discard}
}

func (l *Logger) clone() *Logger {
	return &Logger{
		level:      l.level,
		output:     l.output,
		component:  l.component,
		ssrc:       l.ssrc,
		fields:     copyFields(l.fields),
		jsonOutput: l.jsonOutput,
	}
}

// SetLevel adjusts the minimum emitted level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// WithComponent returns a derived logger tagged with component (e.g.
// "scheduler", "source-table", "transport-udp").
func (l *Logger) WithComponent(component string) *Logger {
	c := l.clone()
	c.component = component
	return c
}

// WithSSRC returns a derived logger tagged with a source's SSRC,
// formatted as hex to match how SSRCs are usually quoted in RTCP
// dumps.
func (l *Logger) WithSSRC(ssrc uint32) *Logger {
	c := l.clone()
	c.ssrc = fmt.Sprintf("%08x", ssrc)
	return c
}

// WithFields returns a derived logger with additional persistent
// fields merged in.
func (l *Logger) WithFields(fields ...Field) *Logger {
	c := l.clone()
	for _, f := range fields {
		c.fields[f.Key] = f.Value
	}
	return c
}

func (l *Logger) Trace(msg string, fields ...Field) { l.log(LogLevelTrace, msg, nil, fields...) }
func (l *Logger) Debug(msg string, fields ...Field) { l.log(LogLevelDebug, msg, nil, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LogLevelInfo, msg, nil, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LogLevelWarn, msg, nil, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LogLevelError, msg, nil, fields...) }

// LogError logs msg at Error level with err attached as a field.
func (l *Logger) LogError(err error, msg string, fields ...Field) {
	l.log(LogLevelError, msg, err, fields...)
}

func (l *Logger) log(level LogLevel, msg string, err error, fields ...Field) {
	l.mu.RLock()
	enabled := level >= l.level
	l.mu.RUnlock()
	if !enabled {
		return
	}

	entry := logEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   msg,
		Component: l.component,
		SSRC:      l.ssrc,
	}
	if len(l.fields) > 0 || len(fields) > 0 {
		entry.Fields = copyFields(l.fields)
		for _, f := range fields {
			entry.Fields[f.Key] = f.Value
		}
	}
	if err != nil {
		entry.Error = err.Error()
	}

	l.mu.RLock()
	output := l.output
	jsonOutput := l.jsonOutput
	l.mu.RUnlock()

	var line string
	if jsonOutput {
		if data, mErr := json.Marshal(entry); mErr == nil {
			line = string(data) + "\n"
		}
	}
	if line == "" {
		line = formatSimple(&entry)
	}
	_, _ = output.Write([]byte(line))
}

func formatSimple(e *logEntry) string {
	var parts []string
	parts = append(parts, e.Timestamp.Format("2006-01-02 15:04:05.000"))
	parts = append(parts, fmt.Sprintf("[%-5s]", e.Level))
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Component))
	}
	if e.SSRC != "" {
		parts = append(parts, fmt.Sprintf("ssrc=%s", e.SSRC))
	}
	parts = append(parts, e.Message)
	if e.Error != "" {
		parts = append(parts, fmt.Sprintf("error=%s", e.Error))
	}
	return strings.Join(parts, " ") + "\n"
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
