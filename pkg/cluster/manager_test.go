package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMasterManager() *Manager {
	return NewManager(Config{NodeID: "master", Address: "localhost:20400", Role: RoleMaster})
}

func TestManagerLocalNode(t *testing.T) {
	m := newMasterManager()
	local := m.Local()
	assert.Equal(t, "master", local.ID)
	assert.Equal(t, RoleMaster, local.Role)
	assert.True(t, m.IsMaster())
	assert.Empty(t, m.ConnectedClients())
}

func TestManagerQuorum(t *testing.T) {
	m := newMasterManager()
	m.SetConnected("c1", "localhost:20401", RoleClient)
	m.SetConnected("c2", "localhost:20402", RoleClient)

	clients := m.ConnectedClients()
	require.Len(t, clients, 2)
	assert.Equal(t, "c1", clients[0].ID)
	assert.Equal(t, "c2", clients[1].ID)

	m.SetLost("c2")
	clients = m.ConnectedClients()
	require.Len(t, clients, 1)
	assert.Equal(t, "c1", clients[0].ID)

	// A lost peer stays in the table for reconnect detection.
	all := m.Nodes()
	assert.Len(t, all, 3)
}

func TestManagerReconnectKeepsAddress(t *testing.T) {
	m := newMasterManager()
	m.SetConnected("c1", "localhost:20401", RoleClient)
	m.SetLost("c1")
	m.SetConnected("c1", "", RoleClient)

	clients := m.ConnectedClients()
	require.Len(t, clients, 1)
	assert.Equal(t, "localhost:20401", clients[0].Address)
	assert.Equal(t, StateConnected, clients[0].State)
}

func TestManagerLastApplied(t *testing.T) {
	m := newMasterManager()
	m.SetConnected("c1", "localhost:20401", RoleClient)

	_, ok := m.LastApplied("c1")
	assert.False(t, ok)

	m.SetLastApplied("c1", 7)
	f, ok := m.LastApplied("c1")
	require.True(t, ok)
	assert.Equal(t, uint32(7), f)

	// Losing the peer clears its progress.
	m.SetLost("c1")
	_, ok = m.LastApplied("c1")
	assert.False(t, ok)
}
