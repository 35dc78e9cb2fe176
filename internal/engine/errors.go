package engine

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Failure kinds. Every engine error matches exactly one stage kind with errors.Is,
// and may additionally match ErrTimeout, ErrTransport or ErrFraming.
var (
	ErrHandshakeFailed     = errors.New("handshake failed")
	ErrEraseFailed         = errors.New("erase failed")
	ErrProgramFailed       = errors.New("program failed")
	ErrVerifyMismatch      = errors.New("verify mismatch")
	ErrVerifyFailed        = errors.New("verify failed")
	ErrFinalizeFailed      = errors.New("finalize failed")
	ErrTimeout             = errors.New("timed out")
	ErrFraming             = errors.New("framing error")
	ErrTransport           = errors.New("transport error")
	ErrCancelled           = errors.New("cancelled")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// OpError attaches a failure kind to the operation that produced it.
type OpError struct {
	Kind error
	Op   string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Fail wraps err as an OpError of the given kind.
func Fail(kind error, op string, err error) error {
	return &OpError{Kind: kind, Op: op, Err: err}
}

// AckError reports an acknowledgement that timed out or did not match.
type AckError struct {
	Op   string
	Want []byte
	Ack  AckResult
}

func (e *AckError) Error() string {
	switch e.Ack.Status {
	case TimedOut:
		return fmt.Sprintf("%s: no acknowledgement after %v (received % X)",
			e.Op, e.Ack.Elapsed.Round(time.Millisecond), e.Ack.Received)
	default:
		return fmt.Sprintf("%s: expected % X, received % X after %v",
			e.Op, e.Want, e.Ack.Received, e.Ack.Elapsed.Round(time.Millisecond))
	}
}

func (e *AckError) Is(target error) bool {
	return target == ErrTimeout && e.Ack.Status == TimedOut
}

// Mismatch reports whether the target answered with unexpected bytes.
func (e *AckError) Mismatch() bool {
	return e.Ack.Status == Mismatched
}

// TransportError is a channel-level failure. It is never retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// FramingError is a frame that failed to decode or checksum.
type FramingError struct {
	Raw    []byte
	Reason error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("bad frame % X: %v", e.Raw, e.Reason)
}

func (e *FramingError) Unwrap() error { return e.Reason }

func (e *FramingError) Is(target error) bool { return target == ErrFraming }

// ProgramError is a failure programming one chunk.
type ProgramError struct {
	Chunk   int
	Address uint32
	// Attempts is how many times the chunk was sent; zero if it never was.
	Attempts int
	Err      error
}

func (e *ProgramError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("program chunk %d at 0x%08X after %d attempts: %v", e.Chunk, e.Address, e.Attempts, e.Err)
	}
	return fmt.Sprintf("program chunk %d at 0x%08X: %v", e.Chunk, e.Address, e.Err)
}

func (e *ProgramError) Unwrap() error { return e.Err }

func (e *ProgramError) Is(target error) bool { return target == ErrProgramFailed }

// VerifyMismatchError is a device checksum or read-back that disagrees with
// the image. It is never retried.
type VerifyMismatchError struct {
	Address  uint32
	Size     int
	Expected string
	Actual   string
}

func (e *VerifyMismatchError) Error() string {
	return fmt.Sprintf("verify 0x%08X+%d: expected %s, device reports %s",
		e.Address, e.Size, e.Expected, e.Actual)
}

func (e *VerifyMismatchError) Is(target error) bool { return target == ErrVerifyMismatch }

// Fatal reports whether err must not be retried.
func Fatal(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrVerifyMismatch)
}
