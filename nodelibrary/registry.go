// Package nodelibrary tracks which viewer clients are connected, which node
// types each of them reported, and merges those reports into one canonical
// node library for the editor.
//
// A Registry is not safe for concurrent use; it is owned by the session loop.
package nodelibrary

import (
	"maps"
	"slices"
	"sort"

	"github.com/slighter12/graph-livesync/logger"
)

// DefaultReloadThreshold is the number of connected clients at which a
// changed library asks the editor to reload. A single client is the initial
// connect, where a reload is not yet meaningful.
const DefaultReloadThreshold = 2

// Sink receives the merged library.
type Sink interface {
	PublishNodeLibrary(Snapshot)
	Reload()
}

// ViewerClient is one connected viewer and what it last reported.
type ViewerClient struct {
	ID           string
	RuntimeTypes map[string]struct{}
	NodeNames    map[string]struct{}
}

// Registry merges capability reports from viewer clients.
type Registry struct {
	clients map[string]*ViewerClient
	// runtimeNames holds the last names reported per runtime so a runtime
	// keeps its nodes while none of its clients is connected.
	runtimeNames    map[string]map[string]struct{}
	current         *Snapshot
	dirty           bool
	sink            Sink
	reloadThreshold int
}

// Option configures a Registry.
type Option func(*Registry)

// WithReloadThreshold sets the connected-client count that triggers Reload.
func WithReloadThreshold(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.reloadThreshold = n
		}
	}
}

// New creates a registry publishing to sink.
func New(sink Sink, opts ...Option) *Registry {
	r := &Registry{
		clients:         make(map[string]*ViewerClient),
		runtimeNames:    make(map[string]map[string]struct{}),
		sink:            sink,
		reloadThreshold: DefaultReloadThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Import records a full capability report from one client for one runtime.
// The report replaces whatever the client reported before.
func (r *Registry) Import(clientID, runtimeType string, lib Snapshot) {
	client, ok := r.clients[clientID]
	if !ok {
		client = &ViewerClient{
			ID:           clientID,
			RuntimeTypes: make(map[string]struct{}),
		}
		r.clients[clientID] = client
		logger.Debug("Viewer client registered", "client_id", clientID, "runtime_type", runtimeType)
	}
	client.RuntimeTypes[runtimeType] = struct{}{}

	names := make(map[string]struct{}, len(lib.NodeTypes))
	for _, descriptor := range lib.NodeTypes {
		names[descriptor.Name] = struct{}{}
	}
	client.NodeNames = names
	r.runtimeNames[runtimeType] = maps.Clone(names)

	r.merge(runtimeType, lib)
}

func (r *Registry) merge(runtimeType string, lib Snapshot) {
	lib = lib.Clone()
	lib.ensureBuckets()

	if r.current == nil {
		canonical := Snapshot{
			NodeTypes:       make([]Descriptor, 0, len(lib.NodeTypes)),
			NodeIndex:       lib.NodeIndex,
			ProjectSettings: lib.ProjectSettings,
		}
		for _, descriptor := range lib.NodeTypes {
			if slices.ContainsFunc(canonical.NodeTypes, func(d Descriptor) bool { return d.Name == descriptor.Name }) {
				continue
			}
			descriptor.RuntimeTypes = []string{runtimeType}
			canonical.NodeTypes = append(canonical.NodeTypes, descriptor)
		}
		r.current = &canonical
		r.dirty = true
		return
	}

	current := r.current
	for _, descriptor := range lib.NodeTypes {
		index := slices.IndexFunc(current.NodeTypes, func(d Descriptor) bool { return d.Name == descriptor.Name })
		if index < 0 {
			descriptor.RuntimeTypes = []string{runtimeType}
			current.NodeTypes = append(current.NodeTypes, descriptor)
			r.dirty = true
			continue
		}
		existing := &current.NodeTypes[index]
		if !existing.HasRuntime(runtimeType) {
			existing.RuntimeTypes = append(existing.RuntimeTypes, runtimeType)
			r.dirty = true
		}
	}

	var changed bool
	current.NodeIndex.CoreNodes, changed = mergeEntries(current.NodeIndex.CoreNodes, lib.NodeIndex.CoreNodes)
	r.dirty = r.dirty || changed
	current.NodeIndex.ModuleNodes, changed = mergeEntries(current.NodeIndex.ModuleNodes, lib.NodeIndex.ModuleNodes)
	r.dirty = r.dirty || changed
	current.ProjectSettings.Ports, changed = mergeEntries(current.ProjectSettings.Ports, lib.ProjectSettings.Ports)
	r.dirty = r.dirty || changed
	current.ProjectSettings.DynamicPorts, changed = mergeEntries(current.ProjectSettings.DynamicPorts, lib.ProjectSettings.DynamicPorts)
	r.dirty = r.dirty || changed
}

// mergeEntries replaces entries with a matching name and appends new ones.
func mergeEntries(existing, incoming []Entry) ([]Entry, bool) {
	changed := false
	for _, entry := range incoming {
		index := slices.IndexFunc(existing, func(e Entry) bool { return e.Name == entry.Name })
		if index < 0 {
			existing = append(existing, entry)
			changed = true
			continue
		}
		if !existing[index].equal(entry) {
			existing[index] = entry
			changed = true
		}
	}
	return existing, changed
}

// Disconnect forgets a client. Its runtime's last report stays cached.
func (r *Registry) Disconnect(clientID string) bool {
	if _, ok := r.clients[clientID]; !ok {
		return false
	}
	delete(r.clients, clientID)
	logger.Debug("Viewer client removed", "client_id", clientID)
	return true
}

// NodeNames returns the union of names reported by connected clients, plus
// the cached names of every runtime no connected client represents. The
// result is sorted.
func (r *Registry) NodeNames() []string {
	names := r.nodeNameSet()
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) nodeNameSet() map[string]struct{} {
	names := make(map[string]struct{})
	represented := make(map[string]struct{})
	for _, client := range r.clients {
		for name := range client.NodeNames {
			names[name] = struct{}{}
		}
		for runtimeType := range client.RuntimeTypes {
			represented[runtimeType] = struct{}{}
		}
	}
	for runtimeType, cached := range r.runtimeNames {
		if _, ok := represented[runtimeType]; ok {
			continue
		}
		for name := range cached {
			names[name] = struct{}{}
		}
	}
	return names
}

// UpdateIndex prunes descriptors nobody provides any more and publishes the
// canonical library when it changed or force is set. It reports whether a
// publish happened.
func (r *Registry) UpdateIndex(force bool) bool {
	if r.current == nil {
		return false
	}

	names := r.nodeNameSet()
	before := len(r.current.NodeTypes)
	r.current.NodeTypes = slices.DeleteFunc(r.current.NodeTypes, func(d Descriptor) bool {
		_, ok := names[d.Name]
		return !ok
	})
	pruned := before - len(r.current.NodeTypes)

	if pruned == 0 && !r.dirty && !force {
		return false
	}
	r.dirty = false

	logger.Debug("Publishing node library",
		"node_types", len(r.current.NodeTypes),
		"pruned", pruned,
		"forced", force,
		"clients", len(r.clients),
	)
	if r.sink == nil {
		return true
	}
	r.sink.PublishNodeLibrary(r.current.Clone())
	if len(r.clients) >= r.reloadThreshold {
		r.sink.Reload()
	}
	return true
}

// Reset discards the canonical library ahead of a project switch. Clients
// and the per-runtime cache survive.
func (r *Registry) Reset() {
	r.current = nil
	r.dirty = false
}

// Current returns a copy of the canonical library.
func (r *Registry) Current() (Snapshot, bool) {
	if r.current == nil {
		return Snapshot{}, false
	}
	return r.current.Clone(), true
}

// Clients returns connected client ids, sorted.
func (r *Registry) Clients() []string {
	ids := slices.Collect(maps.Keys(r.clients))
	sort.Strings(ids)
	return ids
}

// Client returns a copy of one client's state.
func (r *Registry) Client(clientID string) (ViewerClient, bool) {
	client, ok := r.clients[clientID]
	if !ok {
		return ViewerClient{}, false
	}
	return ViewerClient{
		ID:           client.ID,
		RuntimeTypes: maps.Clone(client.RuntimeTypes),
		NodeNames:    maps.Clone(client.NodeNames),
	}, true
}
