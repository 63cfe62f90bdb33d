package server

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"

	"appscout/internal/logging"
)

// largeFrameThreshold is the line size past which the reader logs a warning.
// Frames themselves are unbounded; device UI dumps can legitimately run to
// megabytes.
const largeFrameThreshold = 1 << 20

// FrameReader extracts newline-delimited frames from a device stream.
// Bytes that do not form valid UTF-8 are reinterpreted as Latin-1, which
// accepts any byte sequence, so a frame is never rejected for encoding.
type FrameReader struct {
	r        *bufio.Reader
	deviceID string
}

// NewFrameReader wraps a device connection stream.
func NewFrameReader(r io.Reader, deviceID string) *FrameReader {
	return &FrameReader{
		r:        bufio.NewReaderSize(r, 8192),
		deviceID: deviceID,
	}
}

// ReadFrame returns the next non-empty frame without its trailing newline.
// Returns io.EOF when the peer closes cleanly.
func (f *FrameReader) ReadFrame() (string, error) {
	for {
		line, err := f.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				// Trailing partial line without newline is not a frame
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue // skip empty keepalive lines
		}

		if len(line) > largeFrameThreshold {
			logging.ServerWarn("large frame from %s: %d bytes", f.deviceID, len(line))
		}

		return decodeFrame(line), nil
	}
}

// decodeFrame converts raw frame bytes to a string, falling back to Latin-1
// when the bytes are not valid UTF-8.
func decodeFrame(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	logging.ServerWarn("frame is not valid UTF-8, decoding as Latin-1 (%d bytes)", len(b))
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
