package netutil

import (
	"fmt"
	"net"
)

// EphemeralLoopbackAddr returns a loopback TCP address whose port was free a moment ago.
// The port is released before returning, so a later listener may still race for it.
func EphemeralLoopbackAddr() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().String(), nil
}
