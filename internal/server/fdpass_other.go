//go:build !linux

package server

import (
	"net"
	"os"

	"github.com/danmuck/voltshift/internal/protocol/frame"
)

func (s *Server) writeWithFile(conn *net.UnixConn, f frame.Frame, _ *os.File) error {
	return s.write(conn, f)
}
