//go:build linux

package server

import (
	"net"
	"os"
	"time"

	"github.com/danmuck/voltshift/internal/protocol/frame"
	"golang.org/x/sys/unix"
)

// writeWithFile sends f with the descriptor of file attached to its first byte.
func (s *Server) writeWithFile(conn *net.UnixConn, f frame.Frame, file *os.File) error {
	buf, err := frame.Marshal(f, s.cfg.Limits)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	n, _, err := conn.WriteMsgUnix(buf, unix.UnixRights(int(file.Fd())), nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("server.Server.writeWithFile failed")
		return err
	}
	if n < len(buf) {
		_, err = conn.Write(buf[n:])
	}
	return err
}
