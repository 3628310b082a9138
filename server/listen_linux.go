//go:build linux

package server

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func listenConfig(reusePort bool) (net.ListenConfig, error) {
	var lc net.ListenConfig
	if !reusePort {
		return lc, nil
	}
	lc.Control = func(network, address string, rawConn syscall.RawConn) error {
		var serr error
		err := rawConn.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
		if err != nil {
			return err
		}
		return serr
	}
	return lc, nil
}
