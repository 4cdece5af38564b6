package remote

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/blemote/internal/groutine"
	"github.com/srg/blemote/internal/ringchan"
)

// eventBuffer bounds unread receiver events. Speed frames arrive fast;
// stale ones are safe to drop.
const eventBuffer = 64

// Receiver accepts one authenticated sender at a time and republishes its
// speed stream as events. Start and Stop may be called repeatedly; each
// Start issues a fresh pairing code and a fresh event channel.
type Receiver struct {
	listen string
	log    *logrus.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	ln      net.Listener
	conn    net.Conn
	code    string
	addr    string
	events  *ringchan.RingChannel[Event]
}

// NewReceiver creates a receiver for the given listen address, for
// example ":9210". A nil logger falls back to the standard one.
func NewReceiver(listen string, log *logrus.Logger) *Receiver {
	if log == nil {
		log = logrus.New()
	}
	return &Receiver{
		listen: listen,
		log:    log.WithField("component", "remote-receiver"),
	}
}

// Start binds the listen address, generates a pairing code and begins
// accepting senders. The first event on the channel is EventStarted with
// the bound address and the code.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("remote receiver already running")
	}

	ln, err := net.Listen("tcp", r.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", r.listen, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.ln = ln
	r.code = uuid.NewString()
	r.addr = ln.Addr().String()
	r.events = ringchan.New[Event](eventBuffer)

	code, events := r.code, r.events
	r.log.WithFields(logrus.Fields{
		"addr": r.addr,
		"code": code,
	}).Info("Remote receiver listening")

	groutine.Go(ctx, "remote-close", func(ctx context.Context) {
		<-ctx.Done()
		ln.Close()
		r.mu.Lock()
		if r.conn != nil {
			r.conn.Close()
			r.conn = nil
		}
		r.mu.Unlock()
	})
	groutine.Go(ctx, "remote-accept", func(ctx context.Context) {
		defer events.Close()
		defer events.ForceSend(Event{Kind: EventStopped})

		events.ForceSend(Event{Kind: EventStarted, Addr: ln.Addr().String(), Code: code})

		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					r.log.WithError(err).Error("Accept failed")
					events.ForceSend(Event{Kind: EventError, Message: err.Error()})
				}
				return
			}
			r.serve(ctx, conn, code, events)
		}
	})
	return nil
}

// Stop closes the listener, any live sender connection and the event
// channel. Safe to call when not running.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	r.cancel()
	r.cancel = nil
	r.ln = nil
	r.code = ""
	r.addr = ""
	r.events = nil
}

// Events returns the event channel for the current run, closed on Stop.
// Returns nil when not running.
func (r *Receiver) Events() <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		return nil
	}
	return r.events.C()
}

// PairingCode returns the code senders must present, empty when not
// running.
func (r *Receiver) PairingCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

// Addr returns the bound listen address, empty when not running. Useful
// when the configured address has port 0.
func (r *Receiver) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// serve authenticates one sender and pumps its speed frames until the
// connection drops. Only one sender is served at a time; others queue in
// the listener backlog.
func (r *Receiver) serve(ctx context.Context, conn net.Conn, code string, events *ringchan.RingChannel[Event]) {
	defer conn.Close()

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
	}()

	log := r.log.WithField("sender", conn.RemoteAddr().String())

	buf := make([]byte, pairingCodeLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		log.WithError(err).Debug("Sender hung up before pairing")
		return
	}
	if string(buf) != code {
		log.Warn("Sender presented a wrong pairing code")
		return
	}

	log.Info("Sender paired")
	events.ForceSend(Event{Kind: EventConnection})

	frame := make([]byte, speedFrameLen)
	for {
		if _, err := io.ReadFull(conn, frame); err != nil {
			if ctx.Err() == nil && err != io.EOF {
				log.WithError(err).Debug("Sender stream ended")
			}
			return
		}
		speed := math.Float32frombits(binary.LittleEndian.Uint32(frame))
		events.ForceSend(Event{Kind: EventSpeed, Speed: speed})
	}
}
