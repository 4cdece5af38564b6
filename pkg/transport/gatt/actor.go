// Package gatt implements the connection-oriented transport: a device
// actor that owns the platform adapter, scans for the accessory,
// manages at most one peripheral connection and writes ASCII intensity
// commands to the accessory's command characteristic.
package gatt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blemote/internal/groutine"
	"github.com/srg/blemote/internal/ringchan"
	"github.com/srg/blemote/pkg/transport"
)

// MaxIntensity is the highest level the GATT wire protocol accepts.
const MaxIntensity = 20

const (
	commandBuffer = 32
	eventBuffer   = 64
)

// Options configures the actor.
type Options struct {
	// ConnectTimeout bounds dial plus service discovery.
	ConnectTimeout time.Duration
}

// DefaultOptions returns the defaults used by NewActor.
func DefaultOptions() *Options {
	return &Options{
		ConnectTimeout: 30 * time.Second,
	}
}

var _ transport.Transport = (*Actor)(nil)

// Actor is the GATT transport. All Bluetooth I/O happens on a single
// background worker; the owner interacts only through the command
// methods and the event stream.
type Actor struct {
	logger *logrus.Logger
	opts   *Options

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	cur       *session
	lastLevel int
}

// session holds the channel pair owned by one Start/Stop cycle, so a
// finished worker can never touch a successor's channels.
type session struct {
	ctx    context.Context
	cmds   chan transport.Command
	events *ringchan.RingChannel[transport.Event]
}

func (s *session) emit(ev transport.Event) {
	s.events.ForceSend(ev)
}

// NewActor creates a stopped GATT actor. Call Start to acquire the
// adapter and begin scanning.
func NewActor(opts *Options, logger *logrus.Logger) *Actor {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Actor{
		logger:    logger,
		opts:      opts,
		lastLevel: -1,
	}
}

// Start acquires the platform adapter and spins up the worker.
// Starting a running actor logs a warning and returns
// transport.ErrAlreadyRunning; a second concurrent worker is never
// spawned.
func (a *Actor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		a.logger.Warn("GATT transport worker is already running")
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

	groutine.Go(ctx, "gatt-worker", func(ctx context.Context) {
		a.worker(ctx, s)
	})
	return nil
}

// Stop tears down the worker. Safe to call at any time, including
// concurrently with an in-flight connect; the worker resolves to a
// stopped state and closes the event channel.
func (a *Actor) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Events returns the event stream for the current worker session.
// The channel is closed when the actor stops.
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

// Connect requests a connection to the given address. Any active
// peripheral is torn down first. Connection failures are logged, not
// surfaced; the owner re-issues Connect to retry.
func (a *Actor) Connect(address string) error {
	return a.enqueue(transport.Command{Kind: transport.CmdConnect, Address: address})
}

// Disconnect tears down the active peripheral, if any.
func (a *Actor) Disconnect() error {
	return a.enqueue(transport.Command{Kind: transport.CmdDisconnect})
}

// SendRaw writes bytes to the accessory's command characteristic
// without waiting for acknowledgment. Dropped silently when no
// peripheral is connected.
func (a *Actor) SendRaw(data []byte) error {
	return a.enqueue(transport.Command{Kind: transport.CmdSendRaw, Data: data})
}

// SendIntensity delivers an intensity level as a Vibrate command.
// Identical consecutive levels are debounced before they reach the
// command queue.
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

// enqueue pushes a command into the worker queue without ever blocking
// on Bluetooth I/O; it only waits for queue space or worker teardown.
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

// worker owns the adapter for the lifetime of one Start/Stop cycle.
func (a *Actor) worker(ctx context.Context, s *session) {
	scanDone := make(chan struct{})
	scanStarted := false

	defer func() {
		if scanStarted {
			<-scanDone
		}
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		s.events.Close()
	}()

	adapter, err := AdapterFactory(a.logger)
	if err != nil {
		a.logger.WithError(err).Error("BLE adapter unavailable")
		s.emit(transport.Event{Kind: transport.AdapterError, Message: err.Error()})
		return
	}
	defer func() {
		if err := adapter.Stop(); err != nil {
			a.logger.WithError(err).Debug("Adapter stop failed")
		}
	}()

	scanStarted = true
	groutine.Go(ctx, "gatt-scan", func(ctx context.Context) {
		defer close(scanDone)
		err := adapter.Scan(ctx, func(adv Advertisement) {
			a.handleAdvertisement(s, adv)
		})
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			a.logger.WithError(err).Error("BLE scan failed")
			s.emit(transport.Event{Kind: transport.AdapterError, Message: fmt.Sprintf("scan failed: %s", err)})
		}
	})

	s.emit(transport.Event{Kind: transport.AdapterReady})
	a.logger.Info("GATT transport ready, scanning for accessories")

	var peripheral Peripheral
	var disconnected <-chan struct{}

	for {
		select {
		case <-ctx.Done():
			if peripheral != nil {
				addr := peripheral.Address()
				_ = peripheral.Disconnect()
				s.emit(transport.Event{Kind: transport.DeviceDisconnected, Address: addr})
			}
			return

		case <-disconnected:
			// Link dropped outside our control (out of range, power off).
			addr := peripheral.Address()
			a.logger.WithField("address", addr).Warn("Peripheral connection lost")
			s.emit(transport.Event{Kind: transport.DeviceDisconnected, Address: addr})
			peripheral = nil
			disconnected = nil

		case cmd := <-s.cmds:
			peripheral, disconnected = a.handleCommand(ctx, s, adapter, peripheral, disconnected, cmd)
		}
	}
}

// handleAdvertisement forwards accessory advertisements as discovery
// events. Deduplication by address is the owner's job.
func (a *Actor) handleAdvertisement(s *session, adv Advertisement) {
	if !advertisesService(adv, AccessoryServiceUUID.String()) {
		return
	}

	a.logger.WithFields(logrus.Fields{
		"address": adv.Address,
		"name":    adv.Name,
	}).Debug("Accessory advertisement")

	s.emit(transport.Event{
		Kind:   transport.DeviceDiscovered,
		Device: transport.Device{Address: adv.Address, Name: adv.Name},
	})
}

func advertisesService(adv Advertisement, uuid string) bool {
	for _, svc := range adv.Services {
		if strings.EqualFold(svc, uuid) {
			return true
		}
	}
	return false
}

// handleCommand processes one command and returns the (possibly
// changed) active peripheral. A failing command never takes the worker
// down.
func (a *Actor) handleCommand(
	ctx context.Context,
	s *session,
	adapter Adapter,
	peripheral Peripheral,
	disconnected <-chan struct{},
	cmd transport.Command,
) (Peripheral, <-chan struct{}) {
	switch cmd.Kind {
	case transport.CmdConnect:
		// At most one active peripheral: tear down the old one first so
		// the owner observes DeviceDisconnected(old) before
		// DeviceConnecting(new).
		if peripheral != nil {
			addr := peripheral.Address()
			_ = peripheral.Disconnect()
			s.emit(transport.Event{Kind: transport.DeviceDisconnected, Address: addr})
			peripheral = nil
			disconnected = nil
		}

		s.emit(transport.Event{Kind: transport.DeviceConnecting, Address: cmd.Address})
		a.logger.WithField("address", cmd.Address).Info("Connecting to accessory")

		dialCtx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout)
		p, err := adapter.Dial(dialCtx, cmd.Address)
		cancel()
		if err != nil {
			// Recoverable: state unchanged, owner re-issues Connect.
			a.logger.WithError(err).WithField("address", cmd.Address).Warn("Connect failed")
			return nil, nil
		}

		a.logger.WithField("address", cmd.Address).Info("Connected to accessory")
		s.emit(transport.Event{Kind: transport.DeviceConnected, Address: cmd.Address})
		return p, p.Disconnected()

	case transport.CmdDisconnect:
		if peripheral == nil {
			// No-op, no event.
			return nil, nil
		}
		addr := peripheral.Address()
		_ = peripheral.Disconnect()
		s.emit(transport.Event{Kind: transport.DeviceDisconnected, Address: addr})
		return nil, nil

	case transport.CmdSendRaw:
		a.writeRaw(peripheral, cmd.Data)
		return peripheral, disconnected

	case transport.CmdSendIntensity:
		level := cmd.Level
		if level > MaxIntensity {
			level = MaxIntensity
		}
		a.writeRaw(peripheral, []byte(fmt.Sprintf("Vibrate:%d;", level)))
		return peripheral, disconnected
	}

	return peripheral, disconnected
}

func (a *Actor) writeRaw(peripheral Peripheral, data []byte) {
	if peripheral == nil {
		a.logger.Debug("Dropping write, no peripheral connected")
		return
	}
	if err := peripheral.Write(data); err != nil {
		// Recoverable; an actual link drop surfaces via Disconnected().
		a.logger.WithError(err).Warn("Characteristic write failed")
	}
}
