//go:build !linux

package client

import (
	"net"
	"os"

	"github.com/danmuck/voltshift/internal/protocol/frame"
)

func readFrameWithFile(conn *net.UnixConn, limits frame.Limits) (frame.Frame, *os.File, error) {
	f, err := frame.ReadFrame(conn, limits)
	return f, nil, err
}
