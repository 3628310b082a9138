//go:build !linux

package server

import (
	"errors"
	"net"
)

func listenConfig(reusePort bool) (net.ListenConfig, error) {
	if reusePort {
		return net.ListenConfig{}, errors.New("reuse_port is only supported on linux")
	}
	return net.ListenConfig{}, nil
}
