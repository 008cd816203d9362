package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventQueryReceived AuditEventType = "query.received"
	AuditEventQueryAnswered AuditEventType = "query.answered"
	AuditEventQueryError    AuditEventType = "query.error"
	AuditEventRetrieve      AuditEventType = "retrieve"
	AuditEventLLMRequest    AuditEventType = "llm.request"
	AuditEventLLMError      AuditEventType = "llm.error"
	AuditEventIndexBuild    AuditEventType = "index.build"
	AuditEventIngestRun     AuditEventType = "ingest.run"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogQueryReceived logs an incoming answer query.
func (l *AuditLogger) LogQueryReceived(ctx context.Context, queryLen, topK int) {
	l.Log(&AuditEvent{
		EventType: AuditEventQueryReceived,
		Success:   true,
		Message:   "Query received",
		Details: map[string]interface{}{
			"query_chars": queryLen,
			"top_k":       topK,
		},
	})
}

// LogQueryAnswered logs a completed answer query.
func (l *AuditLogger) LogQueryAnswered(ctx context.Context, duration time.Duration, chunkCount, citationCount int) {
	l.Log(&AuditEvent{
		EventType: AuditEventQueryAnswered,
		Success:   true,
		Duration:  duration,
		Message:   "Query answered",
		Details: map[string]interface{}{
			"retrieved_chunks": chunkCount,
			"citation_count":   citationCount,
		},
	})
}

// LogQueryError logs a failed answer query.
func (l *AuditLogger) LogQueryError(ctx context.Context, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventQueryError,
		Success:     false,
		Message:     "Query failed",
		ErrorDetail: err.Error(),
	})
}

// LogRetrieve logs one retrieval operation.
func (l *AuditLogger) LogRetrieve(ctx context.Context, topK, returned int, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventRetrieve,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Retrieved %d of %d requested chunks", returned, topK),
		Details: map[string]interface{}{
			"top_k":    topK,
			"returned": returned,
		},
	})
}

// LogLLMRequest logs an LLM completion request.
func (l *AuditLogger) LogLLMRequest(ctx context.Context, provider, model string, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventLLMRequest,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("LLM request to %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogLLMError logs an LLM failure.
func (l *AuditLogger) LogLLMError(ctx context.Context, provider, model string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventLLMError,
		Success:     false,
		Message:     fmt.Sprintf("LLM error from %s/%s", provider, model),
		ErrorDetail: err.Error(),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogIndexBuild logs an index build run.
func (l *AuditLogger) LogIndexBuild(ctx context.Context, rows, dim int, outDir string, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventIndexBuild,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Index built: %d rows, dim %d", rows, dim),
		Details: map[string]interface{}{
			"rows":    rows,
			"dim":     dim,
			"out_dir": outDir,
		},
	})
}

// LogIngestRun logs a corpus fetch run.
func (l *AuditLogger) LogIngestRun(ctx context.Context, fetched, skipped, failed int, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventIngestRun,
		Success:   failed == 0,
		Duration:  duration,
		Message:   fmt.Sprintf("Ingest run: %d fetched, %d skipped, %d failed", fetched, skipped, failed),
		Details: map[string]interface{}{
			"fetched": fetched,
			"skipped": skipped,
			"failed":  failed,
		},
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// Global audit logger instance
var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		// Return a disabled logger if not initialized
		return &AuditLogger{enabled: false}
	}
	return globalAuditLogger
}
