// Package protocol defines the device wire protocol: line-delimited JSON
// frames exchanged with connected devices, the action vocabulary, and the
// typed request/response pair used by the correlation engine.
// This package exists to break import cycles between server, explore, and
// knowledge. Types here are foundational data structures with no complex
// dependencies.
package protocol

import (
	"encoding/json"
	"time"
)

// ActionType identifies a UI action a device can execute.
type ActionType string

const (
	ActionClick            ActionType = "click"
	ActionLongClick        ActionType = "long_click"
	ActionSwipe            ActionType = "swipe"
	ActionTypeText         ActionType = "type_text"
	ActionScroll           ActionType = "scroll"
	ActionLaunchApp        ActionType = "launch_app"
	ActionPressBack        ActionType = "press_back"
	ActionPressHome        ActionType = "press_home"
	ActionPressRecents     ActionType = "press_recents"
	ActionFindElement      ActionType = "find_element"
	ActionGetText          ActionType = "get_text"
	ActionGetUIState       ActionType = "get_ui_state"
	ActionGetInstalledApps ActionType = "get_installed_apps"
	ActionExecuteTask      ActionType = "execute_task"
)

// Frame type discriminators for the wire envelope.
const (
	FrameHandshake         = "handshake"
	FrameHandshakeResponse = "handshake_response"
	FrameWelcome           = "welcome"
	FrameHeartbeat         = "heartbeat"
	FrameHeartbeatResponse = "heartbeat_response"
	FrameRequest           = "request"
	FrameResponse          = "response"
	FrameEvent             = "event"
)

// Event types a device may report.
const (
	EventUIChanged   = "ui_changed"
	EventAppLaunched = "app_launched"
	EventTextChanged = "text_changed"
	EventScreenOn    = "screen_on"
	EventScreenOff   = "screen_off"
)

// Response statuses on the wire.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the minimal frame shape used to dispatch an inbound message
// before full decoding. Remaining fields stay raw until the frame type is
// known.
type Envelope struct {
	Type       string          `json:"type"`
	DeviceID   string          `json:"deviceId,omitempty"`
	DeviceInfo json.RawMessage `json:"deviceInfo,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	EventType  string          `json:"eventType,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Request is one outbound action call awaiting a device response.
type Request struct {
	ID         string
	Action     ActionType
	Parameters map[string]any
	SessionID  string
}

// requestFrame is the serialized wire form of a Request.
type requestFrame struct {
	Type       string         `json:"type"`
	RequestID  string         `json:"requestId"`
	ActionType ActionType     `json:"actionType"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  float64        `json:"timestamp"`
	SessionID  string         `json:"sessionId,omitempty"`
}

// MarshalFrame serializes the request into its wire envelope. A nil
// parameter map serializes as an empty object so devices never see null.
func (r *Request) MarshalFrame() ([]byte, error) {
	params := r.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return json.Marshal(requestFrame{
		Type:       FrameRequest,
		RequestID:  r.ID,
		ActionType: r.Action,
		Parameters: params,
		Timestamp:  Now(),
		SessionID:  r.SessionID,
	})
}

// ResponseData is the device-side payload of a response frame.
type ResponseData struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Response is the resolved outcome of a Request. Exactly one Response is
// delivered per request id: a real device answer, a synthesized timeout, or
// a synthesized transport failure.
type Response struct {
	RequestID string
	Status    string
	Data      ResponseData
	Error     string

	// State is set only when the original request was get_ui_state and the
	// embedded device-state JSON parsed cleanly. On parse failure RawState
	// carries the original string through unchanged and State stays nil.
	State    *DeviceState
	RawState string
}

// OK reports whether the device answered with success.
func (r *Response) OK() bool { return r.Status == StatusSuccess }

// ErrorResponse synthesizes a failure response for a request id.
func ErrorResponse(requestID, errText string) *Response {
	return &Response{
		RequestID: requestID,
		Status:    StatusError,
		Data:      ResponseData{Status: StatusError, Error: errText},
		Error:     errText,
	}
}

// Continuation is invoked exactly once when a request's outcome is known.
type Continuation func(*Response)

// HandshakeAck is the server's reply to a device handshake.
type HandshakeAck struct {
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Timestamp float64 `json:"timestamp"`
}

// Welcome is sent after a device has been registered.
type Welcome struct {
	Type      string  `json:"type"`
	DeviceID  string  `json:"device_id"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// HeartbeatAck answers a device heartbeat.
type HeartbeatAck struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// Now returns the wire timestamp: seconds since the Unix epoch as a float,
// matching what device clients expect.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
