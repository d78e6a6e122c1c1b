//go:build windows

package loopback

import (
	"errors"
	"net"
	"syscall"
)

const (
	// soExclusiveAddrUse is ~SO_REUSEADDR as defined by winsock.
	soExclusiveAddrUse = ^4
	wsaeAddrInUse      = syscall.Errno(10048)
)

// listenConfig sets SO_EXCLUSIVEADDRUSE so that no other process can share
// the port while the session owns it.
func listenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, soExclusiveAddrUse, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}

func isAddrInUse(err error) bool {
	return errors.Is(err, wsaeAddrInUse) || errors.Is(err, syscall.EADDRINUSE)
}
