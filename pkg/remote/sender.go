package remote

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
	"time"
)

// dialTimeout bounds how long Connect waits for the receiver.
const dialTimeout = 10 * time.Second

// Sender drives a paired Receiver. Connect establishes and authenticates
// the link; SendSpeed streams values over it. Reconnecting is just
// calling Connect again.
type Sender struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewSender creates a disconnected sender.
func NewSender() *Sender {
	return &Sender{}
}

// Connect dials the receiver and presents the pairing code. An existing
// connection is dropped first. The receiver closes the link silently on a
// wrong code, which surfaces here as an error on the next SendSpeed.
func (s *Sender) Connect(addr, code string) error {
	if len(code) != pairingCodeLen {
		return fmt.Errorf("pairing code must be %d characters, got %d", pairingCodeLen, len(code))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to reach receiver at %q: %w", addr, err)
	}
	if _, err := conn.Write([]byte(code)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send pairing code: %w", err)
	}

	s.conn = conn
	return nil
}

// SendSpeed streams one value to the receiver. Returns ErrNotConnected
// when there is no live link; a write error drops the connection so the
// caller can Connect again.
func (s *Sender) SendSpeed(speed float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}

	var frame [speedFrameLen]byte
	binary.LittleEndian.PutUint32(frame[:], math.Float32bits(speed))
	if _, err := s.conn.Write(frame[:]); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("failed to send speed: %w", err)
	}
	return nil
}

// Connected reports whether a link is currently up.
func (s *Sender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close drops the connection. Safe to call when disconnected.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
