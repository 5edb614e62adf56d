// pkg/core/role.go
package core

import (
	"fmt"
	"strings"
)

// Role identifies which side of the link a session plays. It is fixed once the
// connection is established.
type Role uint8

const (
	RoleHost Role = iota
	RolePeer
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RolePeer:
		return "peer"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleHost || r == RolePeer
}

// ParseRole accepts "host"/"create" and "peer"/"join" (case-insensitive).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host", "create", "server":
		return RoleHost, nil
	case "peer", "join", "client":
		return RolePeer, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}
