package inspector

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slighter12/graph-livesync/clock"
	"github.com/slighter12/graph-livesync/eventbus"
	"github.com/slighter12/graph-livesync/graph"
	"github.com/slighter12/graph-livesync/runloop"
)

type portTypes map[string]string

func (p portTypes) PortType(nodeID, port string) (string, bool) {
	t, ok := p[nodeID+"."+port]
	return t, ok
}

func newTestStore(t *testing.T, ports PortTypeResolver) (*Store, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	return New(clk, runloop.Inline(), ports), clk
}

func TestPulseFadeInAndOut(t *testing.T) {
	store, clk := newTestStore(t, nil)

	store.SetConnectionsToPulse([]string{"c1"})
	require.True(t, store.Ticking())

	clk.Advance(16 * time.Millisecond)
	pulse, ok := store.Pulse("c1")
	require.True(t, ok)
	assert.InDelta(t, 0.32, pulse.Opacity, 1e-9)
	assert.InDelta(t, 0.8, pulse.Offset, 1e-9)

	clk.Advance(32 * time.Millisecond)
	pulse, _ = store.Pulse("c1")
	assert.InDelta(t, 0.96, pulse.Opacity, 1e-9)

	clk.Advance(16 * time.Millisecond)
	pulse, _ = store.Pulse("c1")
	assert.InDelta(t, 1.0, pulse.Opacity, 1e-9)

	// Removed at t=64ms.
	store.SetConnectionsToPulse(nil)
	pulse, _ = store.Pulse("c1")
	require.True(t, pulse.Removed())

	clk.Advance(16 * time.Millisecond)
	pulse, ok = store.Pulse("c1")
	require.True(t, ok)
	assert.InDelta(t, 1-16.0/500, pulse.Opacity, 1e-9)

	clk.Advance(480 * time.Millisecond)
	pulse, ok = store.Pulse("c1")
	require.True(t, ok)
	assert.InDelta(t, 0.008, pulse.Opacity, 1e-9)

	clk.Advance(16 * time.Millisecond)
	_, ok = store.Pulse("c1")
	assert.False(t, ok)
	assert.False(t, store.Ticking())
	assert.Zero(t, clk.Pending())
}

func TestPulseReaddedClearsRemoval(t *testing.T) {
	store, clk := newTestStore(t, nil)

	store.SetConnectionsToPulse([]string{"c1", "c2"})
	clk.Advance(16 * time.Millisecond)
	store.SetConnectionsToPulse([]string{"c2"})
	c1, _ := store.Pulse("c1")
	require.True(t, c1.Removed())

	store.SetConnectionsToPulse([]string{"c1", "c2"})
	c1, _ = store.Pulse("c1")
	assert.False(t, c1.Removed())
	assert.Equal(t, []string{"c1", "c2"}, store.PulsingIDs())
}

func TestPulsesChangedEveryFrame(t *testing.T) {
	store, clk := newTestStore(t, nil)
	frames := 0
	store.Events().Subscribe(func(eventbus.Event[Topic]) { frames++ }, TopicPulsesChanged)

	store.SetConnectionsToPulse([]string{"c1"})
	clk.Advance(64 * time.Millisecond)
	assert.Equal(t, 4, frames)
}

func TestResetStopsTicker(t *testing.T) {
	store, clk := newTestStore(t, nil)
	store.SetInspectorValues([]Value{{ID: "n1", Value: json.RawMessage(`42`)}})
	store.SetConnectionsToPulse([]string{"c1"})

	store.Reset()
	assert.False(t, store.Ticking())
	assert.Empty(t, store.Pulses())
	assert.Empty(t, store.Values())
	assert.Zero(t, clk.Pending())

	// A restart after reset ticks exactly once per frame.
	store.SetConnectionsToPulse([]string{"c2"})
	clk.Advance(16 * time.Millisecond)
	assert.Equal(t, 1, clk.Pending())
}

func TestStaleFrameIgnored(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	var queued []func()
	poster := runloop.PosterFunc(func(fn func()) bool {
		queued = append(queued, fn)
		return true
	})
	store := New(clk, poster, nil)

	store.SetConnectionsToPulse([]string{"c1"})
	clk.Advance(16 * time.Millisecond)
	require.Len(t, queued, 1)

	store.Reset()
	store.SetConnectionsToPulse([]string{"c1"})
	queued[0]()

	pulse, ok := store.Pulse("c1")
	require.True(t, ok)
	assert.Zero(t, pulse.Opacity)
}

func TestValueForConnection(t *testing.T) {
	ports := portTypes{"btn.onClick": graph.PortTypeSignal, "text.value": "string"}
	store, _ := newTestStore(t, ports)

	signal := graph.Connection{FromID: "btn", FromProperty: "onClick", ToID: "n2", ToProperty: "run"}
	plain := graph.Connection{FromID: "text", FromProperty: "value", ToID: "n2", ToProperty: "in"}
	missing := graph.Connection{FromID: "ghost", FromProperty: "out", ToID: "n2", ToProperty: "in"}

	assert.Equal(t, NotTriggered, store.ValueForConnection(signal).State)
	assert.Equal(t, Unknown, store.ValueForConnection(plain).State)
	assert.Equal(t, Unknown, store.ValueForConnection(missing).State)

	store.SetConnectionValue(plain, json.RawMessage(`"hello"`))
	lookup := store.ValueForConnection(plain)
	assert.Equal(t, Known, lookup.State)
	assert.JSONEq(t, `"hello"`, string(lookup.Value))

	store.SetInspectorValues([]Value{{ID: "btnonClick", Value: json.RawMessage(`true`)}})
	assert.Equal(t, Known, store.ValueForConnection(signal).State)
}

func TestInspectorValueSubscribers(t *testing.T) {
	store, _ := newTestStore(t, nil)
	var got []Value
	store.Events().Subscribe(func(ev eventbus.Event[Topic]) {
		got = append(got, ev.Payload.(Value))
	}, ValueTopic("n1"))

	store.SetInspectorValues([]Value{
		{ID: "n1", Value: json.RawMessage(`1`)},
		{ID: "n2", Value: json.RawMessage(`2`)},
		{ID: "n1", Value: json.RawMessage(`3`)},
	})

	require.Len(t, got, 2)
	assert.JSONEq(t, `3`, string(got[1].Value))
	v, ok := store.InspectorValue("n2")
	require.True(t, ok)
	assert.JSONEq(t, `2`, string(v))
}
