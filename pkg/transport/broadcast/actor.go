// Package broadcast implements the connectionless transport: a
// spoofed-advertisement actor that re-encodes the current intensity as
// proprietary manufacturer data and keeps it on air. The accessory
// never connects; it decodes whatever matching advertisement it hears,
// so replacing the payload is how a command is delivered.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/blemote/internal/groutine"
	"github.com/srg/blemote/internal/ringchan"
	"github.com/srg/blemote/pkg/radio"
	"github.com/srg/blemote/pkg/transport"
)

const (
	commandBuffer = 32
	eventBuffer   = 16
)

var _ transport.Transport = (*Actor)(nil)

// Actor is the broadcast transport. The target hardware address is a
// compile-time constant (radio.TargetAddress); no scanning or
// discovery happens on this path.
type Actor struct {
	logger *logrus.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	cur       *session
	lastLevel int
}

type session struct {
	ctx    context.Context
	cmds   chan transport.Command
	events *ringchan.RingChannel[transport.Event]
}

func (s *session) emit(ev transport.Event) {
	s.events.ForceSend(ev)
}

// NewActor creates a stopped broadcast actor.
func NewActor(logger *logrus.Logger) *Actor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Actor{logger: logger, lastLevel: -1}
}

// Start acquires the advertising adapter and spins up the worker.
func (a *Actor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		a.logger.Warn("Broadcast transport worker is already running")
		return transport.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:    ctx,
		cmds:   make(chan transport.Command, commandBuffer),
		events: ringchan.New[transport.Event](eventBuffer),
	}
	a.cancel = cancel
	a.cur = s
	a.lastLevel = -1
	a.running = true

	groutine.Go(ctx, "broadcast-worker", func(ctx context.Context) {
		a.worker(ctx, s)
	})
	return nil
}

// Stop cancels any in-flight advertisement and tears down the worker.
func (a *Actor) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Events returns the event stream for the current worker session.
func (a *Actor) Events() <-chan transport.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil {
		return nil
	}
	return a.cur.events.C()
}

// Poll performs a non-blocking receive on the event stream.
func (a *Actor) Poll() (transport.Event, bool) {
	a.mu.Lock()
	s := a.cur
	a.mu.Unlock()

	if s == nil {
		return transport.Event{}, false
	}
	return s.events.TryReceive()
}

// Connect is a no-op: the broadcast accessory is addressed by a fixed
// constant and never connected to.
func (a *Actor) Connect(string) error { return nil }

// Disconnect is a no-op for the same reason.
func (a *Actor) Disconnect() error { return nil }

// SendIntensity encodes the level and replaces the advertisement on
// air. Identical consecutive levels are debounced.
func (a *Actor) SendIntensity(level byte) error {
	a.mu.Lock()
	if a.lastLevel == int(level) {
		a.mu.Unlock()
		return nil
	}
	a.lastLevel = int(level)
	a.mu.Unlock()

	return a.enqueue(transport.Command{Kind: transport.CmdSendIntensity, Level: level})
}

func (a *Actor) enqueue(cmd transport.Command) error {
	a.mu.Lock()
	running := a.running
	s := a.cur
	a.mu.Unlock()

	if !running || s == nil {
		return transport.ErrStopped
	}

	select {
	case s.cmds <- cmd:
		return nil
	case <-s.ctx.Done():
		return transport.ErrStopped
	}
}

func (a *Actor) worker(ctx context.Context, s *session) {
	var advCancel context.CancelFunc
	var advDone chan struct{}

	// stopAdvertising tears down the current advertisement and waits
	// for the advertising goroutine to finish, so the old payload is
	// fully off air before a new one starts.
	stopAdvertising := func() {
		if advCancel == nil {
			return
		}
		advCancel()
		<-advDone
		advCancel = nil
		advDone = nil
	}

	defer func() {
		stopAdvertising()
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		s.events.Close()
	}()

	advertiser, err := AdvertiserFactory(a.logger)
	if err != nil {
		a.logger.WithError(err).Error("BLE advertising adapter unavailable")
		s.emit(transport.Event{Kind: transport.AdapterError, Message: err.Error()})
		return
	}
	defer func() {
		if err := advertiser.Stop(); err != nil {
			a.logger.WithError(err).Debug("Advertiser stop failed")
		}
	}()

	s.emit(transport.Event{Kind: transport.AdapterReady})
	a.logger.Info("Broadcast transport ready")

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-s.cmds:
			if cmd.Kind != transport.CmdSendIntensity {
				continue
			}

			payload := radio.AdvertisingPayload(cmd.Level)

			// Replace as a unit: the accessory re-evaluates the
			// advertisement every few tens of milliseconds, so the
			// payload swaps atomically from its point of view.
			stopAdvertising()

			advCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			advCancel = cancel
			advDone = done

			groutine.Go(advCtx, "broadcast-adv", func(ctx context.Context) {
				defer close(done)
				err := advertiser.Advertise(ctx, radio.CompanyID, payload)
				if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
					a.logger.WithError(err).Error("Advertising failed")
					s.emit(transport.Event{Kind: transport.AdapterError, Message: err.Error()})
				}
			})

			a.logger.WithField("level", cmd.Level).Info("Broadcast intensity updated")
		}
	}
}
