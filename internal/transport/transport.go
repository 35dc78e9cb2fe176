// Package transport defines the byte channel every bootloader engine drives.
package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by operations on a channel that has been closed.
var ErrClosed = errors.New("channel closed")

// Channel is an open, byte-oriented duplex link to a target board.
//
// Read returns as soon as at least one byte is available, up to max bytes.
// If nothing arrives before timeout it returns an empty slice and a nil error;
// a timeout is an expected outcome, not a failure of the channel.
//
// Write must transmit all of p. Implementations that cannot do so return a
// *ShortWriteError, which callers treat as fatal.
//
// Flush drains and discards inbound bytes for at most d.
type Channel interface {
	Read(max int, timeout time.Duration) ([]byte, error)
	Write(p []byte) (int, error)
	Flush(d time.Duration) error
	Close() error
}

// ShortWriteError reports a write that transmitted fewer bytes than requested.
type ShortWriteError struct {
	Want    int
	Written int
}

func (e *ShortWriteError) Error() string {
	return fmt.Sprintf("short write: %d of %d bytes", e.Written, e.Want)
}

// WriteAll writes p to ch and converts a partial write into *ShortWriteError.
func WriteAll(ch Channel, p []byte) error {
	n, err := ch.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return &ShortWriteError{Want: len(p), Written: n}
	}
	return nil
}

// Drain reads and discards inbound bytes until the line has been quiet for
// quiet or d has elapsed. Channel implementations without a native input
// buffer reset use it to implement Flush.
func Drain(read func(max int, timeout time.Duration) ([]byte, error), d, quiet time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil
		}
		if quiet > left {
			quiet = left
		}
		b, err := read(256, quiet)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			return nil
		}
	}
}
