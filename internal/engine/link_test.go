package engine

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bigbag/boardflash/internal/transport/transporttest"
)

func echo(reply []byte) transporttest.Responder {
	return func([]byte) []byte { return reply }
}

func TestLink_ReadUntilKeepsLeftover(t *testing.T) {
	ch := transporttest.New(nil)
	ch.Feed([]byte("X\n\rZ0000#\n\r"))
	l := NewLink(ch, NewJournal(nil))

	res, err := l.ReadUntil(context.Background(), []byte("\n\r"), 64, 50*time.Millisecond, "erase")
	if err != nil {
		t.Fatalf("ReadUntil() error = %v", err)
	}
	if res.Status != Acknowledged || string(res.Received) != "X\n\r" {
		t.Errorf("ReadUntil() = %v %q, want acknowledged %q", res.Status, res.Received, "X\n\r")
	}

	res, err = l.ReadUntil(context.Background(), []byte("\n\r"), 64, 50*time.Millisecond, "crc")
	if err != nil {
		t.Fatalf("ReadUntil() error = %v", err)
	}
	if string(res.Received) != "Z0000#\n\r" {
		t.Errorf("second ReadUntil() = %q, want %q", res.Received, "Z0000#\n\r")
	}
}

func TestLink_ReadUntilPartialReads(t *testing.T) {
	ch := transporttest.New(nil)
	ch.MaxRead = 1
	ch.Feed([]byte("v1.1\n\r"))
	l := NewLink(ch, nil)

	res, err := l.ReadUntil(context.Background(), []byte("\n\r"), 64, 100*time.Millisecond, "version")
	if err != nil || res.Status != Acknowledged || string(res.Received) != "v1.1\n\r" {
		t.Errorf("ReadUntil() = %v %q, %v; want acknowledged %q", res.Status, res.Received, err, "v1.1\n\r")
	}
}

func TestLink_ReadUntilLimit(t *testing.T) {
	ch := transporttest.New(nil)
	ch.Feed(bytes.Repeat([]byte{'a'}, 20))
	l := NewLink(ch, nil)

	res, err := l.ReadUntil(context.Background(), []byte("\n\r"), 8, 50*time.Millisecond, "version")
	if err != nil {
		t.Fatalf("ReadUntil() error = %v", err)
	}
	if res.Status != Mismatched || len(res.Received) != 8 {
		t.Errorf("ReadUntil() = %v with %d bytes, want mismatched with 8", res.Status, len(res.Received))
	}
}

func TestLink_ReadUntilTimeout(t *testing.T) {
	l := NewLink(transporttest.New(nil), nil)
	start := time.Now()
	res, err := l.ReadUntil(context.Background(), []byte("\n\r"), 8, 20*time.Millisecond, "erase")
	if err != nil {
		t.Fatalf("ReadUntil() error = %v", err)
	}
	if res.Status != TimedOut {
		t.Errorf("ReadUntil() status = %v, want %v", res.Status, TimedOut)
	}
	if time.Since(start) > time.Second {
		t.Errorf("ReadUntil() took %v, want about 20ms", time.Since(start))
	}
}

func TestLink_ExpectPolicies(t *testing.T) {
	tests := []struct {
		name    string
		reply   []byte
		policy  AckPolicy
		status  AckStatus
		wantErr error
	}{
		{"match", []byte{0x14, 0x10}, AckRequired, Acknowledged, nil},
		{"mismatch", []byte{0x14, 0x11}, AckRequired, Mismatched, errors.New("")},
		{"silent required", nil, AckRequired, TimedOut, ErrTimeout},
		{"silent best-effort", nil, AckBestEffort, TimedOut, nil},
	}
	for _, tt := range tests {
		l := NewLink(transporttest.New(echo(tt.reply)), NewJournal(nil))
		if err := l.Send([]byte{0x30, 0x20}, "sync"); err != nil {
			t.Fatalf("%s: Send() error = %v", tt.name, err)
		}
		res, err := l.Expect(context.Background(), "sync", []byte{0x14, 0x10}, 20*time.Millisecond, tt.policy)
		if res.Status != tt.status {
			t.Errorf("%s: Expect() status = %v, want %v", tt.name, res.Status, tt.status)
		}
		switch {
		case tt.wantErr == nil && err != nil:
			t.Errorf("%s: Expect() error = %v, want nil", tt.name, err)
		case tt.wantErr != nil && err == nil:
			t.Errorf("%s: Expect() error = nil, want failure", tt.name)
		case tt.wantErr == ErrTimeout && !errors.Is(err, ErrTimeout):
			t.Errorf("%s: Expect() error = %v, want ErrTimeout", tt.name, err)
		}
	}
}

func TestLink_MismatchIsNotTimeout(t *testing.T) {
	l := NewLink(transporttest.New(echo([]byte{0x15, 0x10})), nil)
	l.Send([]byte{0x30, 0x20}, "sync")
	_, err := l.Expect(context.Background(), "sync", []byte{0x14, 0x10}, 20*time.Millisecond, AckRequired)

	var ackErr *AckError
	if !errors.As(err, &ackErr) || !ackErr.Mismatch() {
		t.Fatalf("Expect() error = %v, want mismatched *AckError", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("mismatch matched ErrTimeout")
	}
}

func TestLink_SendErrorsAreTransport(t *testing.T) {
	ch := transporttest.New(nil)
	ch.WriteLimit = 2
	l := NewLink(ch, nil)

	err := l.Send([]byte("S20005000,00001000#"), "write buffer")
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Send() short write error = %v, want ErrTransport", err)
	}
	if !Fatal(err) {
		t.Errorf("Fatal(%v) = false, want true", err)
	}
}

func TestLink_SendPieces(t *testing.T) {
	ch := transporttest.New(nil)
	l := NewLink(ch, nil)
	data := bytes.Repeat([]byte{0xAA}, 1100)

	if err := l.SendPieces(data, 512, "data"); err != nil {
		t.Fatalf("SendPieces() error = %v", err)
	}
	writes := ch.Writes()
	if len(writes) != 3 || len(writes[0]) != 512 || len(writes[2]) != 76 {
		t.Errorf("SendPieces(1100, 512) wrote %d buffers, want 512+512+76", len(writes))
	}
}

func TestLink_FlushDropsPending(t *testing.T) {
	ch := transporttest.New(nil)
	l := NewLink(ch, nil)
	l.Unread([]byte("stale"))

	if err := l.Flush(time.Millisecond); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	b, _ := l.Read(context.Background(), 16, time.Millisecond)
	if len(b) != 0 {
		t.Errorf("Read() after Flush() = %q, want nothing", b)
	}
	if ch.Flushes != 1 {
		t.Errorf("channel flushes = %d, want 1", ch.Flushes)
	}
}

func TestLink_ReadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLink(transporttest.New(nil), nil)

	_, err := l.ReadN(ctx, 2, time.Second, "sync")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ReadN() error = %v, want context.Canceled", err)
	}
}

func TestLink_JournalsExchanges(t *testing.T) {
	j := NewJournal(nil)
	l := NewLink(transporttest.New(echo([]byte("V\n\r"))), j)
	l.Send([]byte("V#"), "version")
	l.ReadUntil(context.Background(), []byte("\n\r"), 64, 20*time.Millisecond, "version")

	entries := j.Entries()
	if len(entries) != 2 || entries[0].Dir != Tx || entries[1].Dir != Rx {
		t.Fatalf("journal = %v, want tx then rx", entries)
	}
	if string(entries[1].Data) != "V\n\r" {
		t.Errorf("rx entry data = %q, want %q", entries[1].Data, "V\n\r")
	}
}
