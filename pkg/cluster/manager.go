package cluster

import (
	"sort"
	"sync"
	"time"
)

// Manager maintains the node table for one cluster session: which peers are
// connected, which frame each client last applied, and the local node's
// fixed role. All methods are safe for concurrent use; the lock is only held
// for single reads or writes of the small tables, never across I/O.
type Manager struct {
	mu          sync.RWMutex
	local       Node
	nodes       map[string]*Node
	lastApplied map[string]uint32
}

// NewManager creates a manager and registers the local node.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		nodes:       make(map[string]*Node),
		lastApplied: make(map[string]uint32),
	}
	m.local = Node{
		ID:       cfg.NodeID,
		Address:  cfg.Address,
		Role:     cfg.Role,
		State:    StateConnected,
		LastSeen: time.Now(),
	}
	m.nodes[cfg.NodeID] = &m.local
	return m
}

// Local returns the local node.
func (m *Manager) Local() Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.local
}

// IsMaster reports whether this process is the cluster master.
func (m *Manager) IsMaster() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.local.Role == RoleMaster
}

// SetConnected registers a peer or marks a known peer as connected again.
func (m *Manager) SetConnected(id, address string, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		n = &Node{ID: id, Role: role}
		m.nodes[id] = n
	}
	if address != "" {
		n.Address = address
	}
	n.State = StateConnected
	n.LastSeen = time.Now()
}

// SetLost marks a peer as lost. The peer stays in the table so a reconnect
// is distinguishable from a first connect, but it no longer counts toward
// the barrier quorum.
func (m *Manager) SetLost(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[id]; ok {
		n.State = StateLost
	}
	delete(m.lastApplied, id)
}

// ConnectedClients returns a snapshot of all connected client peers,
// excluding the local node. This is the barrier quorum.
func (m *Manager) ConnectedClients() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.ID == m.local.ID || n.State != StateConnected || n.Role != RoleClient {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nodes returns a snapshot of all known nodes, local included.
func (m *Manager) Nodes() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetLastApplied records the last frame a client decoded successfully. The
// coordinator uses this to detect stalled clients.
func (m *Manager) SetLastApplied(id string, frame uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastApplied[id] = frame
}

// LastApplied returns the last frame the given client applied, if known.
func (m *Manager) LastApplied(id string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.lastApplied[id]
	return f, ok
}
