package engine

import (
	"bytes"
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/bigbag/boardflash/internal/board"
	"github.com/bigbag/boardflash/internal/transport"
)

// AckStatus is the outcome of waiting for an acknowledgement.
type AckStatus int

const (
	Acknowledged AckStatus = iota
	Mismatched
	TimedOut
)

func (s AckStatus) String() string {
	switch s {
	case Acknowledged:
		return "acknowledged"
	case Mismatched:
		return "mismatched"
	default:
		return "timed out"
	}
}

// AckResult is what came back while waiting for an acknowledgement.
type AckResult struct {
	Status   AckStatus
	Received []byte
	Elapsed  time.Duration
}

// AckPolicy is the per-command acknowledgement policy.
type AckPolicy = board.AckPolicy

const (
	AckRequired   = board.AckRequired
	AckBestEffort = board.AckBestEffort
)

// Link drives a transport.Channel with bounded reads and journals every
// exchange. Bytes read past the end of a response are kept for the next read.
type Link struct {
	ch      transport.Channel
	journal *Journal
	pending []byte
}

// NewLink wraps ch. j may be nil.
func NewLink(ch transport.Channel, j *Journal) *Link {
	return &Link{ch: ch, journal: j}
}

// Journal returns the journal exchanges are recorded in.
func (l *Link) Journal() *Journal {
	return l.journal
}

// Send writes p in one write.
func (l *Link) Send(p []byte, note string) error {
	l.journal.Tx(p, note)
	if err := transport.WriteAll(l.ch, p); err != nil {
		l.journal.Notef("write failed: %v", err)
		return &TransportError{Op: "write " + note, Err: err}
	}
	return nil
}

// SendPieces writes p as a series of writes of at most piece bytes each.
func (l *Link) SendPieces(p []byte, piece int, note string) error {
	for off := 0; off < len(p); off += piece {
		end := off + piece
		if end > len(p) {
			end = len(p)
		}
		if err := l.Send(p[off:end], note); err != nil {
			return err
		}
	}
	return nil
}

// Flush discards buffered and in-flight input for at most d.
func (l *Link) Flush(d time.Duration) error {
	if len(l.pending) > 0 {
		l.journal.Rx(l.pending, 0, "discarded")
		l.pending = nil
	}
	if err := l.ch.Flush(d); err != nil {
		return &TransportError{Op: "flush", Err: err}
	}
	return nil
}

// Unread pushes b back so the next read returns it first.
func (l *Link) Unread(b []byte) {
	if len(b) == 0 {
		return
	}
	l.pending = append(append([]byte(nil), b...), l.pending...)
}

// Read returns buffered bytes or waits up to timeout for new ones. An empty
// result means the wait timed out.
func (l *Link) Read(ctx context.Context, max int, timeout time.Duration) ([]byte, error) {
	if len(l.pending) > 0 {
		n := len(l.pending)
		if n > max {
			n = max
		}
		out := l.pending[:n]
		l.pending = l.pending[n:]
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := l.ch.Read(max, timeout)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	return b, nil
}

// ReadUntil collects bytes until term is seen, limit bytes arrive without
// it, or timeout elapses. The terminator is included in Received. Acknowledged
// means only that the terminator arrived; callers judge the content.
func (l *Link) ReadUntil(ctx context.Context, term []byte, limit int, timeout time.Duration, note string) (AckResult, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	var buf []byte

	for {
		if i := bytes.Index(buf, term); i >= 0 {
			end := i + len(term)
			l.Unread(buf[end:])
			res := AckResult{Status: Acknowledged, Received: buf[:end], Elapsed: time.Since(start)}
			l.journal.Rx(res.Received, res.Elapsed, note)
			return res, nil
		}
		if len(buf) >= limit {
			res := AckResult{Status: Mismatched, Received: buf, Elapsed: time.Since(start)}
			l.journal.Rx(buf, res.Elapsed, note+": no terminator")
			return res, nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			res := AckResult{Status: TimedOut, Received: buf, Elapsed: time.Since(start)}
			l.journal.Rx(buf, res.Elapsed, note+": timeout")
			return res, nil
		}
		b, err := l.Read(ctx, limit-len(buf), left)
		if err != nil {
			return AckResult{Received: buf}, err
		}
		buf = append(buf, b...)
	}
}

// ReadN waits for exactly n bytes. Fewer than n by the deadline is TimedOut.
func (l *Link) ReadN(ctx context.Context, n int, timeout time.Duration, note string) (AckResult, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	buf := make([]byte, 0, n)

	for len(buf) < n {
		left := time.Until(deadline)
		if left <= 0 {
			res := AckResult{Status: TimedOut, Received: buf, Elapsed: time.Since(start)}
			l.journal.Rx(buf, res.Elapsed, note+": timeout")
			return res, nil
		}
		b, err := l.Read(ctx, n-len(buf), left)
		if err != nil {
			return AckResult{Received: buf}, err
		}
		buf = append(buf, b...)
	}

	res := AckResult{Status: Acknowledged, Received: buf, Elapsed: time.Since(start)}
	l.journal.Rx(buf, res.Elapsed, note)
	return res, nil
}

// Expect waits for the exact bytes want. Under AckBestEffort a missing or
// wrong answer is logged and swallowed.
func (l *Link) Expect(ctx context.Context, op string, want []byte, timeout time.Duration, policy AckPolicy) (AckResult, error) {
	res, err := l.ReadN(ctx, len(want), timeout, op)
	if err != nil {
		return res, err
	}
	if res.Status == Acknowledged && !bytes.Equal(res.Received, want) {
		res.Status = Mismatched
	}
	return res, l.Judge(op, want, res, policy)
}

// Judge turns an AckResult into an error according to policy.
func (l *Link) Judge(op string, want []byte, res AckResult, policy AckPolicy) error {
	if res.Status == Acknowledged {
		return nil
	}
	ackErr := &AckError{Op: op, Want: want, Ack: res}
	if policy == AckBestEffort {
		glog.Warningf("%v: ignored under best-effort policy", ackErr)
		l.journal.Notef("best-effort ack ignored: %v", ackErr)
		return nil
	}
	return ackErr
}
