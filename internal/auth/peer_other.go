//go:build !linux

package auth

import (
	"errors"
	"net"
)

var errNoPeerCred = errors.New("auth: peer credentials unsupported on this platform")

func PeerCaller(conn *net.UnixConn) (Caller, error) {
	return Caller{}, errNoPeerCred
}
