// Package server implements the TCP device server: accept loop, handshake,
// frame dispatch, and the per-device request correlation engine.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"appscout/internal/logging"
	"appscout/internal/metric"
	"appscout/internal/protocol"
)

// ErrNoDevice is returned when an operation targets a device id that is not
// connected.
var ErrNoDevice = errors.New("no such device")

// HandshakeTimeout bounds how long a fresh connection may take to identify
// itself before being dropped.
const HandshakeTimeout = 10 * time.Second

// Config holds the device server settings.
type Config struct {
	Host             string
	Port             int
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the standard device server settings.
func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             8080,
		RequestTimeout:   DefaultRequestTimeout,
		HandshakeTimeout: HandshakeTimeout,
	}
}

// EventHandler receives device-initiated event frames.
type EventHandler func(deviceID, eventType, sessionID string, data json.RawMessage)

// ConnectHandler runs after a device completes its handshake.
type ConnectHandler func(deviceID string)

// Server accepts device connections and routes their frames.
type Server struct {
	config  Config
	metrics *metric.Metrics

	mu       sync.RWMutex
	devices  map[string]*DeviceConn
	listener net.Listener
	running  bool

	eventMu         sync.RWMutex
	eventHandlers   []EventHandler
	connectHandlers []ConnectHandler

	wg sync.WaitGroup
}

// New creates a device server. metrics may be nil in tests.
func New(config Config, metrics *metric.Metrics) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = HandshakeTimeout
	}
	return &Server{
		config:  config,
		metrics: metrics,
		devices: make(map[string]*DeviceConn),
	}
}

// OnEvent registers a handler for device-initiated events.
func (s *Server) OnEvent(h EventHandler) {
	s.eventMu.Lock()
	s.eventHandlers = append(s.eventHandlers, h)
	s.eventMu.Unlock()
}

// OnConnect registers a handler invoked after each successful handshake.
func (s *Server) OnConnect(h ConnectHandler) {
	s.eventMu.Lock()
	s.connectHandlers = append(s.connectHandlers, h)
	s.eventMu.Unlock()
}

// Start begins listening and serving connections. Blocks until Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	logging.Server("device server listening on %s", addr)
	return s.acceptLoop(listener)
}

// Serve runs the accept loop on a caller-provided listener. Useful for
// tests and for binding to port 0.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	logging.Server("device server listening on %s", listener.Addr())
	return s.acceptLoop(listener)
}

func (s *Server) acceptLoop(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.RLock()
			running := s.running
			s.mu.RUnlock()
			if !running {
				return nil
			}
			logging.ServerError("accept failed: %v", err)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		logging.Server("new connection from %s", conn.RemoteAddr())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleClient(conn)
		}()
	}
}

// handleClient runs the handshake, registers the device and pumps frames
// until the connection dies.
func (s *Server) handleClient(conn net.Conn) {
	device, err := s.handshake(conn)
	if err != nil {
		logging.ServerWarn("handshake with %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	s.register(device)
	defer s.unregister(device)

	welcome := protocol.Welcome{
		Type:      protocol.FrameWelcome,
		DeviceID:  device.ID,
		Message:   "welcome to appscout",
		Timestamp: protocol.Now(),
	}
	if err := device.writeFrame(welcome); err != nil {
		logging.ServerError("send welcome to %s: %v", device.ID, err)
		return
	}

	s.readLoop(device)
}

// handshake reads and validates the identification frame within the
// handshake deadline, then acknowledges it.
func (s *Server) handshake(conn net.Conn) (*DeviceConn, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}

	reader := NewFrameReader(conn, conn.RemoteAddr().String())
	frame, err := reader.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}

	var env protocol.Envelope
	if err := json.Unmarshal([]byte(frame), &env); err != nil {
		return nil, fmt.Errorf("parse handshake: %w", err)
	}
	if env.Type != protocol.FrameHandshake {
		return nil, fmt.Errorf("expected handshake frame, got %q", env.Type)
	}
	if env.DeviceID == "" {
		return nil, errors.New("handshake missing device id")
	}

	device := NewDeviceConn(env.DeviceID, conn, s.config.RequestTimeout, s.metrics)
	device.reader = reader

	if len(env.DeviceInfo) > 0 {
		var info map[string]any
		if err := json.Unmarshal(env.DeviceInfo, &info); err == nil {
			device.Info = info
			if caps, ok := info["capabilities"].([]any); ok {
				for _, c := range caps {
					if cs, ok := c.(string); ok {
						device.Capabilities = append(device.Capabilities, cs)
					}
				}
			}
		}
	}
	logging.Server("device info for %s: %v", device.ID, device.Info)

	ack := protocol.HandshakeAck{
		Type:      protocol.FrameHandshakeResponse,
		Status:    "ok",
		Timestamp: protocol.Now(),
	}
	if err := device.writeFrame(ack); err != nil {
		return nil, fmt.Errorf("send handshake ack: %w", err)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}

	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditHandshake,
		DeviceID:  env.DeviceID,
		Success:   true,
	})
	return device, nil
}

// readLoop pumps frames from one device until its stream ends. A malformed
// frame is logged and skipped, never fatal to the connection.
func (s *Server) readLoop(device *DeviceConn) {
	for {
		frame, err := device.reader.ReadFrame()
		if err != nil {
			if err == io.EOF {
				logging.Server("device %s disconnected", device.ID)
			} else {
				logging.ServerError("read from %s: %v", device.ID, err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal([]byte(frame), &env); err != nil {
			logging.ServerError("parse frame from %s: %v (len=%d)", device.ID, err, len(frame))
			if s.metrics != nil {
				s.metrics.RecordFrameDropped("parse_error")
			}
			continue
		}

		s.dispatch(device, &env, frame)
	}
}

// dispatch routes one decoded frame by its type discriminator.
func (s *Server) dispatch(device *DeviceConn, env *protocol.Envelope, frame string) {
	switch env.Type {
	case protocol.FrameHeartbeat:
		device.touch()
		if s.metrics != nil {
			s.metrics.RecordHeartbeat()
		}
		ack := protocol.HeartbeatAck{
			Type:      protocol.FrameHeartbeatResponse,
			Timestamp: protocol.Now(),
		}
		if err := device.writeFrame(ack); err != nil {
			logging.ServerWarn("heartbeat ack to %s failed: %v", device.ID, err)
		}

	case protocol.FrameResponse:
		var data protocol.ResponseData
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &data); err != nil {
				logging.ServerError("parse response data from %s: %v", device.ID, err)
				if s.metrics != nil {
					s.metrics.RecordFrameDropped("bad_response_data")
				}
				return
			}
		}
		device.HandleResponse(env.RequestID, data)

	case protocol.FrameEvent:
		device.touch()
		if s.metrics != nil {
			s.metrics.RecordEvent(env.EventType)
		}
		logging.Server("event %s from %s (session %s)", env.EventType, device.ID, env.SessionID)

		s.eventMu.RLock()
		handlers := make([]EventHandler, len(s.eventHandlers))
		copy(handlers, s.eventHandlers)
		s.eventMu.RUnlock()
		for _, h := range handlers {
			h(device.ID, env.EventType, env.SessionID, env.Data)
		}

	default:
		logging.ServerWarn("unknown frame type %q from %s", env.Type, device.ID)
		if s.metrics != nil {
			s.metrics.RecordFrameDropped("unknown_type")
		}
	}
}

func (s *Server) register(device *DeviceConn) {
	s.mu.Lock()
	if old, ok := s.devices[device.ID]; ok {
		// A reconnecting device replaces its stale entry
		logging.ServerWarn("device %s reconnected, closing stale connection", device.ID)
		go old.Close()
	}
	s.devices[device.ID] = device
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordDeviceConnected(1)
	}
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditDeviceConnect,
		DeviceID:  device.ID,
		Success:   true,
	})
	logging.Server("device registered: %s", device.ID)

	s.eventMu.RLock()
	handlers := make([]ConnectHandler, len(s.connectHandlers))
	copy(handlers, s.connectHandlers)
	s.eventMu.RUnlock()
	for _, h := range handlers {
		go h(device.ID)
	}
}

func (s *Server) unregister(device *DeviceConn) {
	s.mu.Lock()
	if current, ok := s.devices[device.ID]; ok && current == device {
		delete(s.devices, device.ID)
	}
	s.mu.Unlock()

	device.Close()

	if s.metrics != nil {
		s.metrics.RecordDeviceConnected(-1)
	}
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditDeviceDisconnect,
		DeviceID:  device.ID,
		Success:   true,
	})
	logging.Server("device unregistered: %s", device.ID)
}

// Device returns the connection for a device id.
func (s *Server) Device(id string) (*DeviceConn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	device, ok := s.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, id)
	}
	return device, nil
}

// Devices returns the ids of all connected devices.
func (s *Server) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	return ids
}

// AnyDevice returns an arbitrary connected device, or an error when none is.
func (s *Server) AnyDevice() (*DeviceConn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, device := range s.devices {
		return device, nil
	}
	return nil, fmt.Errorf("%w: no devices connected", ErrNoDevice)
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every device connection, then waits for the
// per-connection goroutines to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	s.running = false
	listener := s.listener
	s.listener = nil
	devices := make([]*DeviceConn, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, d := range devices {
		d.Close()
	}

	s.wg.Wait()
	logging.Server("device server stopped")
}
