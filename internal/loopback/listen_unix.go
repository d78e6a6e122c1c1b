//go:build !windows && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package loopback

import (
	"errors"
	"net"
	"syscall"
)

// listenConfig returns the default configuration. Go sets SO_REUSEADDR but
// never SO_REUSEPORT, and on Linux that still refuses a second bind of a
// port that has a listener, including a wildcard one.
func listenConfig() *net.ListenConfig {
	return &net.ListenConfig{}
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
