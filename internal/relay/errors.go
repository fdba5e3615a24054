package relay

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// isBenign reports whether err is an expected peer-side termination (orderly
// close, reset, abort, timeout) rather than a fault worth escalating. Relay
// workers log benign errors at debug level and everything else as errors.
func isBenign(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNABORTED, syscall.EPIPE, syscall.ETIMEDOUT, syscall.ENETRESET:
			return true
		}
	}
	return false
}

// isRecoverableAccept tries to replace ne.Temporary() which was deprecated
// without a clear replacement. See https://github.com/golang/go/issues/45729.
// An accept loop hitting one of these should keep running.
func isRecoverableAccept(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EMFILE, syscall.ENFILE:
			return true // too many open files - might recover
		case syscall.ECONNABORTED:
			return true
		}
	}
	return false
}
