package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// closeErrors are the errors a session sees when the peer simply hangs up, at any point in a frame.
var closeErrors = []error{
	io.EOF,
	io.ErrUnexpectedEOF,
	net.ErrClosed,
	syscall.EPIPE,
	syscall.ECONNRESET,
}

// IsExpectedCloseError reports whether err, anywhere in its chain, means the peer went away
// rather than that something broke.
func IsExpectedCloseError(err error) bool {
	for _, target := range closeErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
