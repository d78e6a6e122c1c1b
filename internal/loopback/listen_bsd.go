//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package loopback

import (
	"errors"
	"net"
	"syscall"
)

// listenConfig clears the SO_REUSEADDR that Go sets on every listener. On
// BSD kernels it lets 127.0.0.1:P bind while another socket holds *:P.
func listenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 0)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
