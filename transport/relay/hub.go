package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slighter12/graph-livesync/logger"
	"github.com/slighter12/graph-livesync/wire"
)

const peerSendBuffer = 256

// Peer is one websocket connection to the relay.
type Peer struct {
	ID       string
	Role     wire.Role
	Created  time.Time
	LastSeen time.Time

	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func (p *Peer) close() {
	p.once.Do(func() { close(p.closed) })
}

// PeerInfo is the public view of a peer.
type PeerInfo struct {
	ID       string    `json:"id"`
	Role     wire.Role `json:"role,omitempty"`
	Created  time.Time `json:"created"`
	LastSeen time.Time `json:"lastSeen"`
}

// Hub tracks peers and routes envelopes between the editor and viewers.
type Hub struct {
	peers map[string]*Peer
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		peers: make(map[string]*Peer),
	}
}

// Add registers a new peer under a fresh id.
func (h *Hub) Add() *Peer {
	now := time.Now()
	peer := &Peer{
		ID:       ulid.Make().String(),
		Created:  now,
		LastSeen: now,
		send:     make(chan []byte, peerSendBuffer),
		closed:   make(chan struct{}),
	}
	h.mu.Lock()
	h.peers[peer.ID] = peer
	h.mu.Unlock()
	logger.Debug("Relay peer connected", "client_id", peer.ID)
	return peer
}

// Touch marks the peer as alive.
func (h *Hub) Touch(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	peer, ok := h.peers[id]
	if ok {
		peer.LastSeen = time.Now()
	}
	return ok
}

// Remove drops a peer. Editors are told when a viewer leaves.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	peer, ok := h.peers[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.peers, id)
	peer.close()
	if peer.Role == wire.RoleViewer {
		h.broadcastLocked(wire.RoleEditor, wire.Envelope{Cmd: wire.CmdDisconnect, ClientID: id})
	}
	h.mu.Unlock()
	logger.Debug("Relay peer removed", "client_id", id, "role", string(peer.Role))
}

// Peers lists connected peers ordered by id.
func (h *Hub) Peers() []PeerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]PeerInfo, 0, len(h.peers))
	for _, peer := range h.peers {
		out = append(out, PeerInfo{ID: peer.ID, Role: peer.Role, Created: peer.Created, LastSeen: peer.LastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CleanupPeers removes peers silent for longer than timeout.
func (h *Hub) CleanupPeers(timeout time.Duration) int {
	now := time.Now()
	h.mu.RLock()
	var stale []string
	for id, peer := range h.peers {
		if now.Sub(peer.LastSeen) > timeout {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()
	for _, id := range stale {
		h.Remove(id)
	}
	return len(stale)
}

// CloseAll disconnects every peer.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Remove(id)
	}
}

// Route handles one envelope received from peer id.
func (h *Hub) Route(id string, env wire.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peer, ok := h.peers[id]
	if !ok {
		return
	}

	if env.Cmd == wire.CmdRegister {
		h.registerLocked(peer, env.Type)
		return
	}

	switch peer.Role {
	case wire.RoleViewer:
		env.ClientID = peer.ID
		h.broadcastLocked(wire.RoleEditor, env)
	case wire.RoleEditor:
		if env.Target != "" {
			target, ok := h.peers[env.Target]
			if !ok {
				logger.Debug("Dropping message for unknown target", "cmd", string(env.Cmd), "target", env.Target)
				return
			}
			h.sendLocked(target, env)
			return
		}
		h.broadcastLocked(wire.RoleViewer, env)
	default:
		logger.Debug("Dropping message from unregistered peer", "cmd", string(env.Cmd), "client_id", peer.ID)
	}
}

func (h *Hub) registerLocked(peer *Peer, role wire.Role) {
	if role != wire.RoleEditor {
		role = wire.RoleViewer
	}
	peer.Role = role
	logger.Info("Relay peer registered", "client_id", peer.ID, "role", string(role))

	if role == wire.RoleViewer {
		registered := wire.Envelope{Cmd: wire.CmdRegistered, Type: wire.RoleViewer, ClientID: peer.ID}
		h.sendLocked(peer, registered)
		h.broadcastLocked(wire.RoleEditor, registered)
		return
	}

	h.sendLocked(peer, wire.Envelope{Cmd: wire.CmdRegistered, Type: wire.RoleEditor, ClientID: peer.ID})
	for _, viewer := range h.sortedLocked(wire.RoleViewer) {
		h.sendLocked(peer, wire.Envelope{Cmd: wire.CmdRegistered, Type: wire.RoleViewer, ClientID: viewer.ID})
	}
}

func (h *Hub) sortedLocked(role wire.Role) []*Peer {
	var out []*Peer
	for _, peer := range h.peers {
		if peer.Role == role {
			out = append(out, peer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) broadcastLocked(role wire.Role, env wire.Envelope) {
	for _, peer := range h.sortedLocked(role) {
		h.sendLocked(peer, env)
	}
}

// sendLocked queues env for peer. A peer that cannot keep up is closed.
func (h *Hub) sendLocked(peer *Peer, env wire.Envelope) {
	data, err := wire.Encode(env)
	if err != nil {
		logger.Error("Failed to encode relay envelope", "cmd", string(env.Cmd), "error", err)
		return
	}
	select {
	case <-peer.closed:
	case peer.send <- data:
	default:
		logger.Warn("Relay peer send buffer full, disconnecting", "client_id", peer.ID)
		peer.close()
	}
}
