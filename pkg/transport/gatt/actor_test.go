package gatt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blemote/pkg/transport"
)

// fakePeripheral records writes and exposes a closable link-drop channel.
type fakePeripheral struct {
	addr string

	mu     sync.Mutex
	writes [][]byte

	dropOnce sync.Once
	dropped  chan struct{}
}

func newFakePeripheral(addr string) *fakePeripheral {
	return &fakePeripheral{addr: addr, dropped: make(chan struct{})}
}

func (p *fakePeripheral) Address() string { return p.addr }

func (p *fakePeripheral) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, append([]byte(nil), data...))
	return nil
}

func (p *fakePeripheral) Disconnect() error {
	p.dropLink()
	return nil
}

func (p *fakePeripheral) Disconnected() <-chan struct{} { return p.dropped }

func (p *fakePeripheral) dropLink() {
	p.dropOnce.Do(func() { close(p.dropped) })
}

func (p *fakePeripheral) writesSnapshot() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

// fakeAdapter feeds scripted advertisements and dials fake peripherals.
type fakeAdapter struct {
	advCh   chan Advertisement
	dialErr error

	mu     sync.Mutex
	dialed []*fakePeripheral
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{advCh: make(chan Advertisement, 16)}
}

func (f *fakeAdapter) Scan(ctx context.Context, h func(Advertisement)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case adv := <-f.advCh:
			h(adv)
		}
	}
}

func (f *fakeAdapter) Dial(_ context.Context, address string) (Peripheral, error) {
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	p := newFakePeripheral(address)
	f.mu.Lock()
	f.dialed = append(f.dialed, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeAdapter) Stop() error { return nil }

func (f *fakeAdapter) lastDialed() *fakePeripheral {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dialed) == 0 {
		return nil
	}
	return f.dialed[len(f.dialed)-1]
}

func withFakeAdapter(t *testing.T, fake *fakeAdapter) {
	t.Helper()
	orig := AdapterFactory
	AdapterFactory = func(*logrus.Logger) (Adapter, error) {
		return fake, nil
	}
	t.Cleanup(func() { AdapterFactory = orig })
}

func newTestActor() *Actor {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewActor(nil, logger)
}

func waitEvent(t *testing.T, events <-chan transport.Event) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed unexpectedly")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return transport.Event{}
	}
}

func TestStartEmitsAdapterReady(t *testing.T) {
	withFakeAdapter(t, newFakeAdapter())
	actor := newTestActor()
	require.NoError(t, actor.Start())
	defer actor.Stop()

	ev := waitEvent(t, actor.Events())
	assert.Equal(t, transport.AdapterReady, ev.Kind)
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	withFakeAdapter(t, newFakeAdapter())
	actor := newTestActor()
	require.NoError(t, actor.Start())
	defer actor.Stop()

	assert.ErrorIs(t, actor.Start(), transport.ErrAlreadyRunning)
}

func TestAdapterFailureIsFatalButRestartable(t *testing.T) {
	orig := AdapterFactory
	AdapterFactory = func(*logrus.Logger) (Adapter, error) {
		return nil, errors.New("no adapters found")
	}
	t.Cleanup(func() { AdapterFactory = orig })

	actor := newTestActor()
	require.NoError(t, actor.Start())

	events := actor.Events()
	ev := waitEvent(t, events)
	assert.Equal(t, transport.AdapterError, ev.Kind)
	assert.Contains(t, ev.Message, "no adapters found")

	// Worker exited; the event channel closes and a restart is allowed.
	_, ok := <-events
	assert.False(t, ok)

	withFakeAdapter(t, newFakeAdapter())
	require.NoError(t, actor.Start())
	defer actor.Stop()
	assert.Equal(t, transport.AdapterReady, waitEvent(t, actor.Events()).Kind)
}

func TestDiscoveryFiltersByServiceUUID(t *testing.T) {
	fake := newFakeAdapter()
	withFakeAdapter(t, fake)
	actor := newTestActor()
	require.NoError(t, actor.Start())
	defer actor.Stop()

	events := actor.Events()
	require.Equal(t, transport.AdapterReady, waitEvent(t, events).Kind)

	// A foreign device is ignored, the accessory is reported.
	fake.advCh <- Advertisement{Address: "11:22:33:44:55:66", Name: "headphones", Services: []string{"180d"}}
	fake.advCh <- Advertisement{
		Address:  "AA:BB:CC:DD:EE:FF",
		Name:     "accessory",
		Services: []string{AccessoryServiceUUID.String()},
	}

	ev := waitEvent(t, events)
	assert.Equal(t, transport.DeviceDiscovered, ev.Kind)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", ev.Device.Address)
	assert.Equal(t, "accessory", ev.Device.Name)
}

func TestConnectEventOrderAndSingleWrite(t *testing.T) {
	fake := newFakeAdapter()
	withFakeAdapter(t, fake)
	actor := newTestActor()
	require.NoError(t, actor.Start())
	defer actor.Stop()

	events := actor.Events()
	require.Equal(t, transport.AdapterReady, waitEvent(t, events).Kind)

	require.NoError(t, actor.Connect("AA:BB:CC:DD:EE"))

	ev := waitEvent(t, events)
	require.Equal(t, transport.DeviceConnecting, ev.Kind)
	assert.Equal(t, "AA:BB:CC:DD:EE", ev.Address)

	ev = waitEvent(t, events)
	require.Equal(t, transport.DeviceConnected, ev.Kind)
	assert.Equal(t, "AA:BB:CC:DD:EE", ev.Address)

	require.NoError(t, actor.SendIntensity(7))

	p := fake.lastDialed()
	require.NotNil(t, p)
	require.Eventually(t, func() bool {
		return len(p.writesSnapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("Vibrate:7;"), p.writesSnapshot()[0])
}

func TestSendIntensityDebounced(t *testing.T) {
	fake := newFakeAdapter()
	withFakeAdapter(t, fake)
	actor := newTestActor()
	require.NoError(t, actor.Start())
	defer actor.Stop()

	events := actor.Events()
	require.Equal(t, transport.AdapterReady, waitEvent(t, events).Kind)
	require.NoError(t, actor.Connect("AA:BB:CC:DD:EE"))
	require.Equal(t, transport.DeviceConnecting, waitEvent(t, events).Kind)
	require.Equal(t, transport.DeviceConnected, waitEvent(t, events).Kind)

	require.NoError(t, actor.SendIntensity(5))
	require.NoError(t, actor.SendIntensity(5))
	require.NoError(t, actor.SendIntensity(5))
	require.NoError(t, actor.SendIntensity(9))

	p := fake.lastDialed()
	require.NotNil(t, p)
	require.Eventually(t, func() bool {
		return len(p.writesSnapshot()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	writes := p.writesSnapshot()
	assert.Equal(t, []byte("Vibrate:5;"), writes[0])
	assert.Equal(t, []byte("Vibrate:9;"), writes[1])
}

func TestSendIntensityClampsToProtocolRange(t *testing.T) {
	fake := newFakeAdapter()
	withFakeAdapter(t, fake)
	actor := newTestActor()
	require.NoError(t, actor.Start())
	defer actor.Stop()

	events := actor.Events()
	require.Equal(t, transport.AdapterReady, waitEvent(t, events).Kind)
	require.NoError(t, actor.Connect("AA:BB:CC:DD:EE"))
	require.Equal(t, transport.DeviceConnecting, waitEvent(t, events).Kind)
	require.Equal(t, transport.DeviceConnected, waitEvent(t, events).Kind)

	require.NoError(t, actor.SendIntensity(200))

	p := fake.lastDialed()
	require.NotNil(t, p)
	require.Eventually(t, func() bool {
		return len(p.writesSnapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte("Vibrate:20;"), p.writesSnapshot()[0])
}

func TestConnectTearsDownExistingPeripheralFirst(t *testing.T) {
	fake := newFakeAdapter()
	withFakeAdapter(t, fake)
	actor := newTestActor()
	require.NoError(t, actor.Start())
	defer actor.Stop()

	events := actor.Events()
	require.Equal(t, transport.AdapterReady, waitEvent(t, events).Kind)

	require.NoError(t, actor.Connect("AA:AA:AA:AA:AA"))
	require.Equal(t, transport.DeviceConnecting, waitEvent(t, events).Kind)
	require.Equal(t, transport.DeviceConnected, waitEvent(t, events).Kind)

	require.NoError(t, actor.Connect("BB:BB:BB:BB:BB"))

	// Exactly one teardown of A before B becomes observable.
	ev := waitEvent(t, events)
	require.Equal(t, transport.DeviceDisconnected, ev.Kind)
	assert.Equal(t, "AA:AA:AA:AA:AA", ev.Address)

	ev = waitEvent(t, events)
	require.Equal(t, transport.DeviceConnecting, ev.Kind)
	assert.Equal(t, "BB:BB:BB:BB:BB", ev.Address)

	ev = waitEvent(t, events)
	require.Equal(t, transport.DeviceConnected, ev.Kind)
	assert.Equal(t, "BB:BB:BB:BB:BB", ev.Address)
}

func TestDisconnectWithoutConnectionIsSilent(t *testing.T) {
	fake := newFakeAdapter()
	withFakeAdapter(t, fake)
	actor := newTestActor()
	require.NoError(t, actor.Start())
	defer actor.Stop()

	events := actor.Events()
	require.Equal(t, transport.AdapterReady, waitEvent(t, events).Kind)

	require.NoError(t, actor.Disconnect())

	// No event may follow; give the worker time to process.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConnectFailureLeavesStateUnchanged(t *testing.T) {
	fake := newFakeAdapter()
	fake.dialErr = errors.New("peripheral unreachable")
	withFakeAdapter(t, fake)
	actor := newTestActor()
	require.NoError(t, actor.Start())
	defer actor.Stop()

	events := actor.Events()
	require.Equal(t, transport.AdapterReady, waitEvent(t, events).Kind)

	require.NoError(t, actor.Connect("AA:BB:CC:DD:EE"))
	require.Equal(t, transport.DeviceConnecting, waitEvent(t, events).Kind)

	// Failure: no DeviceConnected, no error event; owner retries.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(200 * time.Millisecond):
	}

	// Retry succeeds once the peripheral is reachable.
	fake.dialErr = nil
	require.NoError(t, actor.Connect("AA:BB:CC:DD:EE"))
	require.Equal(t, transport.DeviceConnecting, waitEvent(t, events).Kind)
	require.Equal(t, transport.DeviceConnected, waitEvent(t, events).Kind)
}

func TestLinkDropEmitsDisconnectedAndKeepsWorkerAlive(t *testing.T) {
	fake := newFakeAdapter()
	withFakeAdapter(t, fake)
	actor := newTestActor()
	require.NoError(t, actor.Start())
	defer actor.Stop()

	events := actor.Events()
	require.Equal(t, transport.AdapterReady, waitEvent(t, events).Kind)
	require.NoError(t, actor.Connect("AA:BB:CC:DD:EE"))
	require.Equal(t, transport.DeviceConnecting, waitEvent(t, events).Kind)
	require.Equal(t, transport.DeviceConnected, waitEvent(t, events).Kind)

	// Accessory walks out of range.
	fake.lastDialed().dropLink()

	ev := waitEvent(t, events)
	require.Equal(t, transport.DeviceDisconnected, ev.Kind)
	assert.Equal(t, "AA:BB:CC:DD:EE", ev.Address)

	// The scan loop survived: discovery still works.
	fake.advCh <- Advertisement{
		Address:  "CC:CC:CC:CC:CC",
		Services: []string{AccessoryServiceUUID.String()},
	}
	ev = waitEvent(t, events)
	assert.Equal(t, transport.DeviceDiscovered, ev.Kind)
}

func TestStopClosesEventChannelAndRejectsCommands(t *testing.T) {
	fake := newFakeAdapter()
	withFakeAdapter(t, fake)
	actor := newTestActor()
	require.NoError(t, actor.Start())

	events := actor.Events()
	require.Equal(t, transport.AdapterReady, waitEvent(t, events).Kind)

	actor.Stop()

	// Pending receives observe a clean close.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, actor.Connect("AA:BB:CC:DD:EE"), transport.ErrStopped)
}

func TestPollIsNonBlocking(t *testing.T) {
	fake := newFakeAdapter()
	withFakeAdapter(t, fake)
	actor := newTestActor()

	// Not started: no events, no blocking.
	_, ok := actor.Poll()
	assert.False(t, ok)

	require.NoError(t, actor.Start())
	defer actor.Stop()

	require.Eventually(t, func() bool {
		ev, ok := actor.Poll()
		return ok && ev.Kind == transport.AdapterReady
	}, 5*time.Second, 10*time.Millisecond)

	_, ok = actor.Poll()
	assert.False(t, ok)
}
