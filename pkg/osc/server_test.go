package osc

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blemote/internal/ringchan"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// freePort grabs an ephemeral UDP port and releases it for the server.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestServerDeliversMatchingValues(t *testing.T) {
	port := freePort(t)
	s, err := NewServer(port, "*", testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	client := goosc.NewClient("127.0.0.1", port)
	msg := goosc.NewMessage("/avatar/parameters/intensity")
	msg.Append(float32(0.75))

	// UDP on loopback should not drop, but re-send until the server has
	// definitely bound and processed one.
	values := s.Values()
	var got Value
	require.Eventually(t, func() bool {
		if client.Send(msg) != nil {
			return false
		}
		select {
		case v, ok := <-values:
			if !ok {
				return false
			}
			got = v
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "/avatar/parameters/intensity", got.Address)
	assert.InDelta(t, 0.75, got.Value, 1e-6)
}

func TestServerFiltersByPattern(t *testing.T) {
	port := freePort(t)
	s, err := NewServer(port, "/avatar/parameters/*", testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	client := goosc.NewClient("127.0.0.1", port)
	other := goosc.NewMessage("/tracking/head")
	other.Append(float32(9))
	wanted := goosc.NewMessage("/avatar/parameters/speed")
	wanted.Append(float32(0.5))

	values := s.Values()
	var got Value
	require.Eventually(t, func() bool {
		if client.Send(other) != nil || client.Send(wanted) != nil {
			return false
		}
		select {
		case v, ok := <-values:
			if !ok {
				return false
			}
			got = v
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	// The non-matching address must never come through.
	assert.Equal(t, "/avatar/parameters/speed", got.Address)
}

func TestServerDoubleStart(t *testing.T) {
	s, err := NewServer(freePort(t), "*", testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
}

func TestServerStopClosesValues(t *testing.T) {
	s, err := NewServer(freePort(t), "*", testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	values := s.Values()
	s.Stop()

	select {
	case _, ok := <-values:
		assert.False(t, ok, "expected closed channel")
	case <-time.After(5 * time.Second):
		t.Fatal("value channel not closed after Stop")
	}
	assert.Nil(t, s.Values())
}

func TestServerRestart(t *testing.T) {
	port := freePort(t)
	s, err := NewServer(port, "*", testLogger())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	// The port must be released promptly so a restart can rebind it.
	require.Eventually(t, func() bool {
		return s.Start(context.Background()) == nil
	}, 5*time.Second, 10*time.Millisecond)
	s.Stop()
}

func TestSetPattern(t *testing.T) {
	s, err := NewServer(0, "/a/*", testLogger())
	require.NoError(t, err)

	values := ringchan.New[Value](4)
	d := &dispatcher{s: s, values: values}

	msg := goosc.NewMessage("/b/x")
	msg.Append(float32(1))

	d.Dispatch(msg)
	_, ok := values.TryReceive()
	assert.False(t, ok)

	require.NoError(t, s.SetPattern("/b/*"))
	d.Dispatch(msg)
	v, ok := values.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "/b/x", v.Address)

	assert.Error(t, s.SetPattern("["))
}

// Patterns use wildmatch semantics: '*' crosses '/' so the default "*"
// pattern catches every OSC address, all of which start with '/'.
func TestPatternWildcardCrossesAddressLevels(t *testing.T) {
	tests := []struct {
		pattern string
		address string
		want    bool
	}{
		{"*", "/avatar/parameters/intensity", true},
		{"*", "/tracking/head", true},
		{"/avatar/parameters/*", "/avatar/parameters/speed", true},
		{"/avatar/parameters/*", "/avatar/parameters/nested/speed", true},
		{"/avatar/parameters/*", "/tracking/head", false},
	}
	for _, tt := range tests {
		s, err := NewServer(0, tt.pattern, testLogger())
		require.NoError(t, err)
		assert.Equal(t, tt.want, s.match(tt.address),
			"pattern %q against %q", tt.pattern, tt.address)
	}
}

func TestNewServerRejectsBadPattern(t *testing.T) {
	_, err := NewServer(9001, "[", testLogger())
	assert.Error(t, err)
}

func TestFirstNumeric(t *testing.T) {
	tests := []struct {
		name string
		args []interface{}
		want float64
		ok   bool
	}{
		{"float32", []interface{}{float32(0.5)}, 0.5, true},
		{"float64", []interface{}{0.25}, 0.25, true},
		{"int32", []interface{}{int32(3)}, 3, true},
		{"bool true", []interface{}{true}, 1, true},
		{"bool false", []interface{}{false}, 0, true},
		{"string skipped", []interface{}{"hi", float32(2)}, 2, true},
		{"no numeric", []interface{}{"hi"}, 0, false},
		{"empty", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstNumeric(tt.args)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDispatcherFlattensBundles(t *testing.T) {
	s, err := NewServer(0, "*", testLogger())
	require.NoError(t, err)

	values := ringchan.New[Value](8)
	d := &dispatcher{s: s, values: values}

	inner := goosc.NewMessage("/a")
	inner.Append(float32(1))
	outer := goosc.NewMessage("/b")
	outer.Append(float32(2))

	bundle := goosc.NewBundle(time.Now())
	require.NoError(t, bundle.Append(outer))
	nested := goosc.NewBundle(time.Now())
	require.NoError(t, nested.Append(inner))
	require.NoError(t, bundle.Append(nested))

	d.Dispatch(bundle)

	v1, ok := values.TryReceive()
	require.True(t, ok)
	v2, ok := values.TryReceive()
	require.True(t, ok)
	assert.ElementsMatch(t,
		[]string{"/a", "/b"},
		[]string{v1.Address, v2.Address})
}
