package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"appscout/internal/logging"
	"appscout/internal/metric"
	"appscout/internal/protocol"
)

// Sentinel errors for the send path.
var (
	ErrNotConnected = errors.New("device not connected")
	ErrSendFailed   = errors.New("send failed")
)

// DefaultRequestTimeout is how long a request may stay pending before a
// timeout response is synthesized.
const DefaultRequestTimeout = 60 * time.Second

// timedOutCap bounds the memory kept for classifying late responses.
const timedOutCap = 1024

// pendingRequest tracks one in-flight request on a device connection.
type pendingRequest struct {
	request *protocol.Request
	cont    protocol.Continuation
	timer   *time.Timer
	sentAt  time.Time
}

// DeviceConn is one connected device. It owns the socket write path and the
// pending-request table. Each request id resolves exactly once: the first of
// {device response, timeout, disconnect} to pop the pending entry wins and
// invokes the continuation; the losers find nothing and stand down.
type DeviceConn struct {
	ID           string
	Capabilities []string
	Info         map[string]any

	conn    net.Conn
	reader  *FrameReader
	writeMu sync.Mutex
	timeout time.Duration
	metrics *metric.Metrics

	mu        sync.Mutex
	connected bool
	lastSeen  time.Time
	pending   map[string]*pendingRequest

	// ids that resolved as timeouts, kept briefly so a late device answer
	// can be told apart from one we never asked for
	timedOut      map[string]struct{}
	timedOutOrder []string
}

// NewDeviceConn wraps an accepted, handshaken socket.
func NewDeviceConn(id string, conn net.Conn, timeout time.Duration, metrics *metric.Metrics) *DeviceConn {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &DeviceConn{
		ID:        id,
		conn:      conn,
		timeout:   timeout,
		metrics:   metrics,
		connected: true,
		lastSeen:  time.Now(),
		pending:   make(map[string]*pendingRequest),
		timedOut:  make(map[string]struct{}),
	}
}

// Connected reports whether the socket is still usable.
func (d *DeviceConn) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// LastSeen returns the time of the last frame received from the device.
func (d *DeviceConn) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

func (d *DeviceConn) touch() {
	d.mu.Lock()
	d.lastSeen = time.Now()
	d.mu.Unlock()
}

// PendingCount returns the number of in-flight requests.
func (d *DeviceConn) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// SendRequest writes a request frame and arms the timeout watchdog. The
// continuation fires exactly once, on its own goroutine, with either the
// device's response, a synthesized timeout, or a synthesized transport
// error. A nil continuation makes the request fire-and-forget.
func (d *DeviceConn) SendRequest(req *protocol.Request, cont protocol.Continuation) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		logging.DeviceError("device %s not connected, failing request %s", d.ID, req.ID)
		if cont != nil {
			go cont(protocol.ErrorResponse(req.ID, "Device not connected"))
		}
		return fmt.Errorf("%w: %s", ErrNotConnected, d.ID)
	}
	d.mu.Unlock()

	frame, err := req.MarshalFrame()
	if err != nil {
		if cont != nil {
			go cont(protocol.ErrorResponse(req.ID, err.Error()))
		}
		return fmt.Errorf("marshal request %s: %w", req.ID, err)
	}
	frame = append(frame, '\n')

	if len(frame) > largeFrameThreshold {
		logging.Device("sending large request to %s (%.2f KB)", d.ID, float64(len(frame))/1024)
	}

	// Register before writing so a fast response cannot miss its entry.
	if cont != nil {
		p := &pendingRequest{request: req, cont: cont, sentAt: time.Now()}
		p.timer = time.AfterFunc(d.timeout, func() { d.expire(req.ID) })
		d.mu.Lock()
		d.pending[req.ID] = p
		d.mu.Unlock()
	}

	d.writeMu.Lock()
	_, err = d.conn.Write(frame)
	d.writeMu.Unlock()

	if err != nil {
		logging.DeviceError("write to %s failed: %v", d.ID, err)
		if p := d.pop(req.ID); p != nil {
			p.timer.Stop()
			go p.cont(protocol.ErrorResponse(req.ID, err.Error()))
		}
		return fmt.Errorf("%w: %s: %v", ErrSendFailed, d.ID, err)
	}

	if d.metrics != nil {
		d.metrics.RecordRequestSent(string(req.Action))
	}
	logging.AuditRequest(d.ID, req.ID, string(req.Action))
	logging.DeviceDebug("sent %s to %s (request %s)", req.Action, d.ID, req.ID)
	return nil
}

// Do sends a request and blocks until its outcome or ctx cancellation.
func (d *DeviceConn) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	ch := make(chan *protocol.Response, 1)
	if err := d.SendRequest(req, func(resp *protocol.Response) { ch <- resp }); err != nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pop removes and returns the pending entry for id, or nil if already taken.
func (d *DeviceConn) pop(id string) *pendingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	return p
}

// expire resolves a request as timed out if nothing else got there first.
func (d *DeviceConn) expire(id string) {
	p := d.pop(id)
	if p == nil {
		return
	}

	d.mu.Lock()
	d.timedOut[id] = struct{}{}
	d.timedOutOrder = append(d.timedOutOrder, id)
	if len(d.timedOutOrder) > timedOutCap {
		oldest := d.timedOutOrder[0]
		d.timedOutOrder = d.timedOutOrder[1:]
		delete(d.timedOut, oldest)
	}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordRequestTimeout(string(p.request.Action))
	}
	logging.AuditTimeout(d.ID, id, string(p.request.Action))
	logging.DeviceWarn("request %s (%s) to %s timed out after %v", id, p.request.Action, d.ID, d.timeout)

	go p.cont(protocol.ErrorResponse(id, "Request timed out"))
}

// HandleResponse correlates an inbound response frame. Unknown ids are
// dropped: counted as late when the request already timed out here, or as
// unknown when it was never pending on this connection.
func (d *DeviceConn) HandleResponse(requestID string, data protocol.ResponseData) {
	d.touch()

	p := d.pop(requestID)
	if p == nil {
		d.mu.Lock()
		_, late := d.timedOut[requestID]
		d.mu.Unlock()
		if d.metrics != nil {
			if late {
				d.metrics.RecordLateResponse()
			} else {
				d.metrics.RecordUnknownResponse()
			}
		}
		logging.DeviceDebug("dropping response %s from %s (late=%v)", requestID, d.ID, late)
		return
	}
	p.timer.Stop()

	resp := &protocol.Response{
		RequestID: requestID,
		Status:    data.Status,
		Data:      data,
		Error:     data.Error,
	}

	if p.request.Action == protocol.ActionGetUIState {
		resp.State, resp.RawState = decodeDeviceState(data.Message)
	}

	if d.metrics != nil {
		d.metrics.RecordResponseMatched(data.Status)
		d.metrics.RecordRequestDuration(string(p.request.Action), time.Since(p.sentAt))
	}
	logging.AuditResponse(d.ID, requestID, resp.OK(), time.Since(p.sentAt).Milliseconds(), data.Error)
	logging.WithRequestID(logging.CategoryDevice, requestID).
		Debug("correlated %s response from %s in %v", p.request.Action, d.ID, time.Since(p.sentAt))

	go p.cont(resp)
}

// decodeDeviceState parses the device-state payload of a get_ui_state
// response. The device sends the state as a JSON string containing JSON;
// some client builds send the object directly. On parse failure the raw
// text passes through unchanged so callers can log it.
func decodeDeviceState(message json.RawMessage) (*protocol.DeviceState, string) {
	if len(message) == 0 {
		return nil, ""
	}

	raw := message
	var inner string
	if err := json.Unmarshal(message, &inner); err == nil {
		raw = []byte(inner)
	}

	state, err := protocol.ParseDeviceState(raw)
	if err != nil {
		logging.DeviceError("parse device state failed: %v (%d bytes)", err, len(raw))
		return nil, string(raw)
	}
	return state, ""
}

// FailAllPending resolves every in-flight request with an error. Called on
// disconnect so no continuation waits out the full timeout on a dead socket.
func (d *DeviceConn) FailAllPending(reason string) {
	d.mu.Lock()
	taken := d.pending
	d.pending = make(map[string]*pendingRequest)
	d.mu.Unlock()

	for id, p := range taken {
		p.timer.Stop()
		go p.cont(protocol.ErrorResponse(id, reason))
	}
	if len(taken) > 0 {
		logging.Device("failed %d pending requests on %s: %s", len(taken), d.ID, reason)
	}
}

// Close marks the device disconnected, fails its pending requests and
// closes the socket. Safe to call more than once.
func (d *DeviceConn) Close() {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return
	}
	d.connected = false
	d.mu.Unlock()

	d.FailAllPending("device disconnected")
	d.conn.Close()
}

// writeFrame serializes v and writes it with the frame delimiter.
func (d *DeviceConn) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if _, err := d.conn.Write(data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSendFailed, d.ID, err)
	}
	return nil
}
