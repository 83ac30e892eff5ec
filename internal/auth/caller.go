package auth

import "fmt"

// Caller is the owning task identity of a connection.
type Caller struct {
	PID int32
	UID uint32
	GID uint32
}

func (c Caller) String() string {
	return fmt.Sprintf("pid=%d uid=%d gid=%d", c.PID, c.UID, c.GID)
}

// IsRoot reports whether the caller runs as uid 0.
func (c Caller) IsRoot() bool {
	return c.UID == 0
}
