// Package transporttest provides a scripted transport.Channel for engine tests.
package transporttest

import (
	"sync"
	"time"

	"github.com/bigbag/boardflash/internal/transport"
)

// Responder is invoked with every buffer written to a Script and returns the
// bytes the simulated device sends back, if any.
type Responder func(written []byte) []byte

// Script is an in-memory transport.Channel that answers writes through a
// Responder. A nil Responder simulates a board that never answers.
type Script struct {
	mu      sync.Mutex
	respond Responder
	rx      []byte
	writes  [][]byte
	closed  bool

	// MaxRead caps the bytes returned by one Read to exercise partial reads.
	MaxRead int
	// WriteLimit, when positive, makes Write accept at most that many bytes.
	WriteLimit int
	// WriteErr is returned by every Write when set.
	WriteErr error
	// Flushes counts Flush calls.
	Flushes int
}

var _ transport.Channel = (*Script)(nil)

// New returns a Script driven by r.
func New(r Responder) *Script {
	return &Script{respond: r}
}

// Feed queues bytes as if the device had sent them unprompted.
func (s *Script) Feed(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rx = append(s.rx, b...)
}

// Writes returns a copy of every buffer written so far, in order.
func (s *Script) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.writes))
	copy(out, s.writes)
	return out
}

// Written returns all written bytes concatenated.
func (s *Script) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return out
}

func (s *Script) Read(max int, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if len(s.rx) == 0 {
		s.mu.Unlock()
		time.Sleep(timeout)
		return []byte{}, nil
	}
	n := len(s.rx)
	if n > max {
		n = max
	}
	if s.MaxRead > 0 && n > s.MaxRead {
		n = s.MaxRead
	}
	out := append([]byte(nil), s.rx[:n]...)
	s.rx = s.rx[n:]
	s.mu.Unlock()
	return out, nil
}

func (s *Script) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, transport.ErrClosed
	}
	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	n := len(p)
	if s.WriteLimit > 0 && n > s.WriteLimit {
		n = s.WriteLimit
	}
	buf := append([]byte(nil), p[:n]...)
	s.writes = append(s.writes, buf)
	if s.respond != nil {
		s.rx = append(s.rx, s.respond(buf)...)
	}
	return n, nil
}

// Flush drops pending inbound bytes immediately.
func (s *Script) Flush(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return transport.ErrClosed
	}
	s.rx = nil
	s.Flushes++
	return nil
}

func (s *Script) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
