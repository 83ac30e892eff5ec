//go:build linux

package client

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/danmuck/voltshift/internal/protocol/frame"
	"golang.org/x/sys/unix"
)

// readFrameWithFile reads one frame and any descriptor attached to its first
// bytes. Extra descriptors are closed.
func readFrameWithFile(conn *net.UnixConn, limits frame.Limits) (frame.Frame, *os.File, error) {
	hdr := make([]byte, frame.FixedHeaderLen)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := conn.ReadMsgUnix(hdr, oob)
	if err != nil {
		return frame.Frame{}, nil, err
	}
	file, err := parseRights(oob[:oobn])
	if err != nil {
		return frame.Frame{}, nil, err
	}
	fail := func(err error) (frame.Frame, *os.File, error) {
		if file != nil {
			file.Close()
		}
		return frame.Frame{}, nil, err
	}
	if n < len(hdr) {
		if _, err := io.ReadFull(conn, hdr[n:]); err != nil {
			return fail(err)
		}
	}
	h, err := frame.DecodeHeader(hdr)
	if err != nil {
		return fail(err)
	}
	f, err := frame.ReadBody(conn, h, limits)
	if err != nil {
		return fail(err)
	}
	return f, file, nil
}

func parseRights(oob []byte) (*os.File, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("client: control message: %w", err)
	}
	var file *os.File
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			if file == nil {
				file = os.NewFile(uintptr(fd), "voltshift-report")
				continue
			}
			unix.Close(fd)
		}
	}
	return file, nil
}
