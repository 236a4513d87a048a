// Package driver exchanges command streams with the binder device.
package driver

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	ErrBadFD           = errors.New("driver: bad file descriptor")
	ErrNotMapped       = errors.New("driver: address outside driver memory")
	ErrVersionMismatch = errors.New("driver: protocol version mismatch")
)

// Driver is one open binder device shared by every thread of a process.
// WriteRead must be safe for concurrent use; each call is one combined
// BINDER_WRITE_READ exchange.
type Driver interface {
	FD() int
	// WriteRead hands write to the driver and fills read. It returns the
	// number of bytes the driver consumed and produced.
	WriteRead(write, read []byte) (writeConsumed, readConsumed int, err error)
	// Pin makes buf addressable by the driver until unpin is called. The
	// returned address is what transaction records carry.
	Pin(buf []byte) (addr uint64, unpin func())
	// Region returns driver-owned memory from addr to the end of the
	// mapping that contains it.
	Region(addr uint64) ([]byte, error)
}

// Resolve returns size bytes of driver memory at addr.
func Resolve(d Driver, addr, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	mem, err := d.Region(addr)
	if err != nil {
		return nil, err
	}
	if uint64(len(mem)) < size {
		return nil, fmt.Errorf("%w: %#x+%d", ErrNotMapped, addr, size)
	}
	return mem[:size], nil
}

// Interrupted reports whether err is a retryable interrupted syscall.
func Interrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}
