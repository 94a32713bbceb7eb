package cluster

import "time"

// Role indicates the node's cluster role. Exactly one master exists per
// session and the role is fixed for the process lifetime.
type Role string

const (
	RoleMaster Role = "master"
	RoleClient Role = "client"
)

// ConnectionState tracks the lifecycle of a node's link to the cluster.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateLost         ConnectionState = "lost"
)

// Node represents a cluster member.
type Node struct {
	ID       string
	Address  string
	Role     Role
	State    ConnectionState
	LastSeen time.Time
}

// Config controls the in-process cluster manager.
type Config struct {
	// NodeID is this process's ID.
	NodeID string
	// Address is this process's advertised address.
	Address string
	// Role is this process's fixed role for the session.
	Role Role
}
