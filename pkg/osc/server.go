// Package osc receives intensity values over the network as OSC messages.
//
// Games and creative tools (VRChat, TouchOSC, SuperCollider) broadcast
// parameter changes as OSC floats over UDP. The server listens on a local
// port, filters messages by a glob pattern on the OSC address, and delivers
// the first numeric argument of each matching message into a ring channel
// the control loop drains at its own pace. Slow consumers lose old values,
// never fresh ones.
package osc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gobwas/glob"
	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemote/internal/groutine"
	"github.com/srg/blemote/internal/ringchan"
)

// valueBuffer bounds how many unread values are kept. OSC sources can emit
// hundreds of messages per second; only the recent ones matter.
const valueBuffer = 64

// Value is one numeric OSC argument that matched the address pattern.
type Value struct {
	// Address is the OSC address the value arrived on.
	Address string
	// Value is the first numeric argument of the message.
	Value float64
}

// Server listens for OSC packets on a UDP port and publishes matching
// values. Start and Stop may be called repeatedly; each Start opens a fresh
// value channel.
type Server struct {
	port int
	log  *logrus.Entry

	mu      sync.Mutex
	pattern glob.Glob
	running bool
	cancel  context.CancelFunc
	conn    net.PacketConn
	values  *ringchan.RingChannel[Value]
}

// NewServer creates a server for the given UDP port. Pattern is a glob
// matched against OSC addresses with wildmatch semantics: '*' crosses
// address levels, so "*" matches everything and "/avatar/parameters/*"
// matches any depth under that prefix.
func NewServer(port int, pattern string, log *logrus.Logger) (*Server, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid osc address pattern %q: %w", pattern, err)
	}
	return &Server{
		port:    port,
		pattern: g,
		log:     log.WithField("component", "osc"),
	}, nil
}

// SetPattern swaps the address pattern without restarting the server.
func (s *Server) SetPattern(pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid osc address pattern %q: %w", pattern, err)
	}
	s.mu.Lock()
	s.pattern = g
	s.mu.Unlock()
	return nil
}

// match applies the current address pattern.
func (s *Server) match(address string) bool {
	s.mu.Lock()
	g := s.pattern
	s.mu.Unlock()
	return g.Match(address)
}

// Start binds the UDP port and begins dispatching packets. It returns an
// error if the port cannot be bound or the server is already running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("osc server already running")
	}

	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind osc port %d: %w", s.port, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.conn = conn
	s.values = ringchan.New[Value](valueBuffer)

	values := s.values
	srv := &goosc.Server{Dispatcher: &dispatcher{s: s, values: values}}

	groutine.Go(ctx, "osc-server", func(ctx context.Context) {
		<-ctx.Done()
		conn.Close()
	})
	groutine.Go(ctx, "osc-serve", func(ctx context.Context) {
		defer values.Close()
		s.log.WithField("port", s.port).Info("OSC server listening")
		if err := srv.Serve(conn); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("OSC server stopped unexpectedly")
		}
	})
	return nil
}

// Stop closes the UDP port and the value channel. Safe to call when the
// server is not running.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	s.cancel = nil
	s.conn = nil
	s.values = nil
}

// Values returns the channel of matching values for the current run. The
// channel is closed when the server stops. Returns nil when not running.
func (s *Server) Values() <-chan Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		return nil
	}
	return s.values.C()
}

// dispatcher routes decoded OSC packets into the value channel. Bound to
// one Start cycle so a restart never writes into a closed channel.
type dispatcher struct {
	s      *Server
	values *ringchan.RingChannel[Value]
}

// Dispatch implements goosc.Dispatcher. Bundles are flattened recursively;
// their timetags are ignored and messages delivered immediately.
func (d *dispatcher) Dispatch(packet goosc.Packet) {
	switch p := packet.(type) {
	case *goosc.Message:
		d.message(p)
	case *goosc.Bundle:
		for _, m := range p.Messages {
			d.message(m)
		}
		for _, b := range p.Bundles {
			d.Dispatch(b)
		}
	}
}

func (d *dispatcher) message(msg *goosc.Message) {
	if !d.s.match(msg.Address) {
		return
	}
	v, ok := firstNumeric(msg.Arguments)
	if !ok {
		return
	}
	d.s.log.WithFields(logrus.Fields{
		"address": msg.Address,
		"value":   v,
	}).Debug("OSC value received")
	d.values.ForceSend(Value{Address: msg.Address, Value: v})
}

// firstNumeric extracts the first argument representable as a float.
// Booleans map to 0/1 so toggle parameters work as on/off intensity.
func firstNumeric(args []interface{}) (float64, bool) {
	for _, a := range args {
		switch v := a.(type) {
		case float32:
			return float64(v), true
		case float64:
			return v, true
		case int32:
			return float64(v), true
		case int64:
			return float64(v), true
		case bool:
			if v {
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}
