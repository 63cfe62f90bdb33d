// Audit logging for device interactions. Every wire request, response and
// lifecycle event is appended as one JSON line to .appscout/logs/audit.jsonl
// so a crawl can be replayed or diffed after the fact.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Device lifecycle
	AuditDeviceConnect    AuditEventType = "device_connect"
	AuditDeviceDisconnect AuditEventType = "device_disconnect"
	AuditHandshake        AuditEventType = "handshake"

	// Wire request/response correlation
	AuditRequestSent      AuditEventType = "request_sent"
	AuditResponseReceived AuditEventType = "response_received"
	AuditRequestTimeout   AuditEventType = "request_timeout"
	AuditResponseUnknown  AuditEventType = "response_unknown"

	// Exploration
	AuditExploreStart    AuditEventType = "explore_start"
	AuditExploreScreen   AuditEventType = "explore_screen"
	AuditExploreClick    AuditEventType = "explore_click"
	AuditExploreComplete AuditEventType = "explore_complete"
	AuditExploreError    AuditEventType = "explore_error"

	// Knowledge persistence
	AuditKnowledgeSaved  AuditEventType = "knowledge_saved"
	AuditKnowledgeLoaded AuditEventType = "knowledge_loaded"
)

// AuditEvent represents a single structured audit log entry.
type AuditEvent struct {
	Timestamp  int64          `json:"ts"` // Unix milliseconds
	EventType  AuditEventType `json:"event"`
	DeviceID   string         `json:"device,omitempty"`
	SessionID  string         `json:"session,omitempty"`
	RequestID  string         `json:"req,omitempty"`
	Action     string         `json:"action,omitempty"` // Wire action type
	Target     string         `json:"target,omitempty"` // Package, screen id or selector
	Success    bool           `json:"success"`
	DurationMs int64          `json:"dur_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Message    string         `json:"msg,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type auditWriter struct {
	mu   sync.Mutex
	file *os.File
}

var (
	auditLogger *auditWriter
	auditOnce   sync.Once
)

// getAuditWriter lazily opens the audit file. Returns nil when debug mode is
// off or the logs directory was never initialized.
func getAuditWriter() *auditWriter {
	auditOnce.Do(func() {
		if !IsDebugMode() || logsDir == "" {
			return
		}
		path := filepath.Join(logsDir, "audit.jsonl")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logging] Warning: could not open audit log %s: %v\n", path, err)
			return
		}
		auditLogger = &auditWriter{file: file}
	})
	return auditLogger
}

// Audit appends one event to the audit trail. No-op in production mode.
func Audit(event AuditEvent) {
	w := getAuditWriter()
	if w == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.file.Write(data)
	w.file.Write([]byte("\n"))
}

// AuditRequest records an outbound wire request.
func AuditRequest(deviceID, requestID, action string) {
	Audit(AuditEvent{
		EventType: AuditRequestSent,
		DeviceID:  deviceID,
		RequestID: requestID,
		Action:    action,
		Success:   true,
	})
}

// AuditResponse records a correlated response.
func AuditResponse(deviceID, requestID string, success bool, durMs int64, errMsg string) {
	Audit(AuditEvent{
		EventType:  AuditResponseReceived,
		DeviceID:   deviceID,
		RequestID:  requestID,
		Success:    success,
		DurationMs: durMs,
		Error:      errMsg,
	})
}

// AuditTimeout records a request that hit the correlation deadline.
func AuditTimeout(deviceID, requestID, action string) {
	Audit(AuditEvent{
		EventType: AuditRequestTimeout,
		DeviceID:  deviceID,
		RequestID: requestID,
		Action:    action,
	})
}

// AuditScreen records a newly analyzed screen during exploration.
func AuditScreen(sessionID, pkg, screenID string, elements int) {
	Audit(AuditEvent{
		EventType: AuditExploreScreen,
		SessionID: sessionID,
		Target:    screenID,
		Success:   true,
		Fields:    map[string]any{"package": pkg, "elements": elements},
	})
}

// CloseAudit flushes and closes the audit file (call at shutdown).
func CloseAudit() {
	if auditLogger == nil {
		return
	}
	auditLogger.mu.Lock()
	defer auditLogger.mu.Unlock()
	if auditLogger.file != nil {
		auditLogger.file.Close()
		auditLogger.file = nil
	}
}
