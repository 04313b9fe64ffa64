// Package inspector caches debug telemetry streamed back by viewers:
// inspector values, connection values and the animated pulses drawn on
// connections that just carried data.
package inspector

import (
	"encoding/json"
	"maps"
	"math"
	"sort"
	"time"

	"github.com/slighter12/graph-livesync/clock"
	"github.com/slighter12/graph-livesync/eventbus"
	"github.com/slighter12/graph-livesync/graph"
	"github.com/slighter12/graph-livesync/logger"
	"github.com/slighter12/graph-livesync/runloop"
)

// DefaultFrameInterval approximates one animation frame.
const DefaultFrameInterval = 16 * time.Millisecond

const (
	offsetDivisorMs = 20.0
	fadeInMs        = 50.0
	fadeOutMs       = 500.0
)

// PortTypeResolver reports the declared type of a node port.
type PortTypeResolver interface {
	PortType(nodeID, port string) (string, bool)
}

// Value is one inspector reading reported by a viewer.
type Value struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

// Pulse is the animation state of one connection.
type Pulse struct {
	CreatedAt time.Time
	RemovedAt time.Time
	Offset    float64
	Opacity   float64
}

// Removed reports whether the pulse is fading out.
func (p Pulse) Removed() bool {
	return !p.RemovedAt.IsZero()
}

// Store holds telemetry for one editor session. It is owned by the session
// loop and is not safe for concurrent use.
type Store struct {
	clock         clock.Clock
	poster        runloop.Poster
	ports         PortTypeResolver
	frameInterval time.Duration

	values map[string]json.RawMessage
	pulses map[string]*Pulse

	ticker     *clock.Timer
	tickerGen  uint64
	tickerLive bool

	events *eventbus.Bus[Topic]
}

// Option configures a Store.
type Option func(*Store)

// WithFrameInterval overrides DefaultFrameInterval.
func WithFrameInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.frameInterval = d
		}
	}
}

// New creates a store. Frames are scheduled on clk and executed through
// poster; ports resolves source port types for ValueForConnection.
func New(clk clock.Clock, poster runloop.Poster, ports PortTypeResolver, opts ...Option) *Store {
	s := &Store{
		clock:         clk,
		poster:        poster,
		ports:         ports,
		frameInterval: DefaultFrameInterval,
		values:        map[string]json.RawMessage{},
		pulses:        map[string]*Pulse{},
		events:        eventbus.New[Topic](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events is the bus subscribers use to follow value and pulse changes.
func (s *Store) Events() *eventbus.Bus[Topic] {
	return s.events
}

// SetInspectorValues overwrites the value of every listed inspector and
// notifies that inspector's subscribers.
func (s *Store) SetInspectorValues(values []Value) {
	for _, v := range values {
		if v.ID == "" {
			continue
		}
		s.values[v.ID] = v.Value
		s.events.Publish(ValueTopic(v.ID), v)
	}
}

// SetConnectionValue stores a value reported for conn under its source
// port id.
func (s *Store) SetConnectionValue(conn graph.Connection, value json.RawMessage) {
	s.SetInspectorValues([]Value{{ID: conn.SourcePortID(), Value: value}})
}

// InspectorValue returns the cached value for id.
func (s *Store) InspectorValue(id string) (json.RawMessage, bool) {
	v, ok := s.values[id]
	return v, ok
}

// ValueForConnection looks up the last value seen on conn's source port.
func (s *Store) ValueForConnection(conn graph.Connection) Lookup {
	if v, ok := s.values[conn.SourcePortID()]; ok {
		return Lookup{State: Known, Value: v}
	}
	if s.ports != nil {
		if portType, ok := s.ports.PortType(conn.FromID, conn.FromProperty); ok && portType == graph.PortTypeSignal {
			return Lookup{State: NotTriggered}
		}
	}
	return Lookup{State: Unknown}
}

// SetConnectionsToPulse replaces the set of pulsing connections. Ids that
// disappear start fading out instead of vanishing.
func (s *Store) SetConnectionsToPulse(ids []string) {
	now := s.clock.Now()
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
		if pulse, ok := s.pulses[id]; ok {
			pulse.RemovedAt = time.Time{}
			continue
		}
		s.pulses[id] = &Pulse{CreatedAt: now}
	}
	for id, pulse := range s.pulses {
		if _, ok := present[id]; !ok && !pulse.Removed() {
			pulse.RemovedAt = now
		}
	}
	if len(s.pulses) > 0 {
		s.startTicker()
	}
}

// Pulse returns the current state of one connection's pulse.
func (s *Store) Pulse(id string) (Pulse, bool) {
	pulse, ok := s.pulses[id]
	if !ok {
		return Pulse{}, false
	}
	return *pulse, true
}

// Pulses returns a copy of every tracked pulse.
func (s *Store) Pulses() map[string]Pulse {
	out := make(map[string]Pulse, len(s.pulses))
	for id, pulse := range s.pulses {
		out[id] = *pulse
	}
	return out
}

// PulsingIDs returns tracked connection ids in sorted order.
func (s *Store) PulsingIDs() []string {
	ids := make([]string, 0, len(s.pulses))
	for id := range s.pulses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ticking reports whether frames are being scheduled.
func (s *Store) Ticking() bool {
	return s.tickerLive
}

// Reset forgets all telemetry and stops the frame ticker.
func (s *Store) Reset() {
	hadPulses := len(s.pulses) > 0
	clear(s.values)
	clear(s.pulses)
	s.stopTicker()
	if hadPulses {
		s.events.Publish(TopicPulsesChanged, nil)
	}
	logger.Debug("Inspector telemetry reset")
}

// Values returns a copy of the cached inspector values.
func (s *Store) Values() map[string]json.RawMessage {
	return maps.Clone(s.values)
}

func (s *Store) startTicker() {
	if s.tickerLive {
		return
	}
	s.tickerLive = true
	s.tickerGen++
	s.schedule(s.tickerGen)
}

func (s *Store) stopTicker() {
	s.ticker.Stop()
	s.ticker = nil
	s.tickerLive = false
	s.tickerGen++
}

func (s *Store) schedule(gen uint64) {
	s.ticker = s.clock.AfterFunc(s.frameInterval, func() {
		s.poster.Post(func() { s.frame(gen) })
	})
}

// frame advances every pulse. A frame from a stopped ticker generation is
// ignored.
func (s *Store) frame(gen uint64) {
	if gen != s.tickerGen || !s.tickerLive {
		return
	}
	now := s.clock.Now()
	for id, pulse := range s.pulses {
		ageMs := msSince(now, pulse.CreatedAt)
		pulse.Offset = ageMs / offsetDivisorMs
		pulse.Opacity = math.Min(1, ageMs/fadeInMs)
		if pulse.Removed() {
			pulse.Opacity = math.Max(0, 1-msSince(now, pulse.RemovedAt)/fadeOutMs)
			if pulse.Opacity <= 0 {
				delete(s.pulses, id)
			}
		}
	}
	s.events.Publish(TopicPulsesChanged, nil)

	if len(s.pulses) == 0 {
		s.ticker = nil
		s.tickerLive = false
		return
	}
	s.schedule(gen)
}

func msSince(now, then time.Time) float64 {
	return float64(now.Sub(then)) / float64(time.Millisecond)
}
