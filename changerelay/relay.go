// Package changerelay turns project mutations into modelUpdate diffs for
// viewers and performs deduplicated full exports.
package changerelay

import (
	"sort"
	"time"

	"github.com/slighter12/graph-livesync/clock"
	"github.com/slighter12/graph-livesync/eventbus"
	"github.com/slighter12/graph-livesync/graph"
	"github.com/slighter12/graph-livesync/logger"
	"github.com/slighter12/graph-livesync/runloop"
	"github.com/slighter12/graph-livesync/wire"
)

// DefaultRouterIndexDebounce is the quiet period before the router index
// is recomputed.
const DefaultRouterIndexDebounce = 100 * time.Millisecond

// Sender writes an envelope to the relay. It reports whether the envelope
// left the process.
type Sender interface {
	Send(env wire.Envelope) bool
}

// Relay is owned by the session loop and is not safe for concurrent use.
type Relay struct {
	events   *eventbus.Bus[graph.Topic]
	exporter graph.Exporter
	sender   Sender
	clock    clock.Clock
	poster   runloop.Poster
	debounce time.Duration

	group *eventbus.Group[graph.Topic]

	routerTimer *clock.Timer
	routerGen   uint64

	watchEnabled bool
	known        map[string]struct{}
	cache        map[string]string
}

// Option configures a Relay.
type Option func(*Relay)

// WithRouterIndexDebounce overrides DefaultRouterIndexDebounce.
func WithRouterIndexDebounce(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// New creates a stopped relay.
func New(events *eventbus.Bus[graph.Topic], exporter graph.Exporter, sender Sender, clk clock.Clock, poster runloop.Poster, opts ...Option) *Relay {
	r := &Relay{
		events:       events,
		exporter:     exporter,
		sender:       sender,
		clock:        clk,
		poster:       poster,
		debounce:     DefaultRouterIndexDebounce,
		watchEnabled: true,
		known:        map[string]struct{}{},
		cache:        map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to model events. Calling Start again resubscribes.
func (r *Relay) Start() {
	r.Stop()
	r.group = eventbus.NewGroup(r.events)
	r.group.Subscribe(func(ev eventbus.Event[graph.Topic]) {
		r.poster.Post(func() { r.handle(ev.Topic, ev.Payload) })
	}, watchedTopics...)
	logger.Debug("Change relay started", "topics", len(watchedTopics))
}

// Stop revokes subscriptions and cancels a pending router index push.
func (r *Relay) Stop() {
	if r.group != nil {
		r.group.Close()
		r.group = nil
	}
	r.cancelRouterIndex()
}

// Running reports whether model events are being relayed.
func (r *Relay) Running() bool {
	return r.group != nil
}

// SetWatchModelChangesEnabled turns diff relaying on or off. Bulk edits
// disable it and follow up with a full Export.
func (r *Relay) SetWatchModelChangesEnabled(enabled bool) {
	r.watchEnabled = enabled
}

func (r *Relay) WatchModelChangesEnabled() bool {
	return r.watchEnabled
}

// AddClient marks a viewer as a destination for broadcast exports.
func (r *Relay) AddClient(id string) {
	if id != "" {
		r.known[id] = struct{}{}
	}
}

// ForgetClient drops a viewer and its cached export.
func (r *Relay) ForgetClient(id string) {
	delete(r.known, id)
	delete(r.cache, id)
}

// KnownClients lists broadcast destinations in sorted order.
func (r *Relay) KnownClients() []string {
	ids := make([]string, 0, len(r.known))
	for id := range r.known {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClearCache forgets what every client was last sent, forcing the next
// Export to resend.
func (r *Relay) ClearCache() {
	clear(r.cache)
}

// Reset forgets known clients and cached exports. Used when the relay
// connection drops since the relay will replay registrations.
func (r *Relay) Reset() {
	clear(r.known)
	clear(r.cache)
}

// Export sends the full project to target, or to every known client when
// target is empty. Destinations already holding an identical payload are
// skipped. It returns the number of envelopes sent.
func (r *Relay) Export(target string) int {
	payload, err := r.exporter.ExportProject()
	if err != nil {
		logger.Error("Failed to export project", "error", err)
		return 0
	}
	destinations := []string{target}
	if target == "" {
		destinations = r.KnownClients()
	}

	sent := 0
	for _, id := range destinations {
		if cached, ok := r.cache[id]; ok && cached == string(payload) {
			continue
		}
		env := wire.NewSerialized(wire.CmdExport, payload)
		env.Target = id
		if !r.sender.Send(env) {
			continue
		}
		r.cache[id] = string(payload)
		sent++
	}
	if sent > 0 {
		logger.Debug("Exported project", "destinations", sent, "bytes", len(payload))
	}
	return sent
}

func (r *Relay) handle(topic graph.Topic, payload any) {
	if topic == graph.TopicInstanceWillChange {
		r.ClearCache()
		r.cancelRouterIndex()
		return
	}
	if !r.watchEnabled {
		return
	}

	update, ok, err := r.buildUpdate(topic, payload)
	if err != nil {
		logger.Warn("Failed to serialize model change", "topic", string(topic), "error", err)
		return
	}
	if ok {
		r.sendUpdate(update)
	}
	if affectsRouterIndex(topic, payload) {
		r.scheduleRouterIndex()
	}
}

func (r *Relay) sendUpdate(update Update) {
	env, err := wire.New(wire.CmdModelUpdate, update)
	if err != nil {
		logger.Error("Failed to encode model update", "type", update.Type, "error", err)
		return
	}
	r.sender.Send(env)
}

// scheduleRouterIndex restarts the debounce window.
func (r *Relay) scheduleRouterIndex() {
	r.cancelRouterIndex()
	gen := r.routerGen
	r.routerTimer = r.clock.AfterFunc(r.debounce, func() {
		r.poster.Post(func() {
			if gen != r.routerGen {
				return
			}
			r.routerTimer = nil
			r.sendRouterIndex()
		})
	})
}

func (r *Relay) cancelRouterIndex() {
	r.routerTimer.Stop()
	r.routerTimer = nil
	r.routerGen++
}

func (r *Relay) sendRouterIndex() {
	index, err := r.exporter.ExportRouterIndex()
	if err != nil {
		logger.Warn("Failed to build router index", "error", err)
		return
	}
	r.sendUpdate(Update{Type: UpdateRouterIndexChanged, Data: index})
}
