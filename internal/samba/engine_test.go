package samba

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bigbag/boardflash/internal/board"
	"github.com/bigbag/boardflash/internal/engine"
	"github.com/bigbag/boardflash/internal/samba/sambatest"
	"github.com/bigbag/boardflash/internal/transport/transporttest"
)

func testDescriptor() board.Descriptor {
	return board.Descriptor{
		Name:         "test-samd",
		Family:       board.FamilySamBa,
		BaudRate:     921600,
		FlashBase:    0x2000,
		SRAMBuffer:   0x20005000,
		EntryAddress: 0x2000,
		PageSize:     4096,
		Retries:      3,
		CopyAck:      board.AckBestEffort,
		Timeouts: board.Timeouts{
			Command: 50 * time.Millisecond,
			Sync:    20 * time.Millisecond,
			Erase:   100 * time.Millisecond,
			Write:   50 * time.Millisecond,
			Verify:  100 * time.Millisecond,
			Settle:  time.Millisecond,
			Flush:   time.Millisecond,
			Retry:   time.Millisecond,
		},
	}
}

func newEngine(m *sambatest.Monitor, desc board.Descriptor) (*Engine, *transporttest.Script) {
	var ch *transporttest.Script
	if m == nil {
		ch = transporttest.New(nil)
	} else {
		ch = transporttest.New(m.Respond)
	}
	return New(ch, desc, engine.NewJournal(nil)), ch
}

func TestEngine_Handshake(t *testing.T) {
	m := sambatest.New()
	e, _ := newEngine(m, testDescriptor())

	if err := e.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	if e.BootloaderVersion() != m.Version {
		t.Errorf("BootloaderVersion() = %q, want %q", e.BootloaderVersion(), m.Version)
	}
}

func TestEngine_HandshakeToleratesMissingModeAck(t *testing.T) {
	m := sambatest.New()
	m.NoNormalAck = true
	e, _ := newEngine(m, testDescriptor())

	if err := e.Handshake(context.Background()); err != nil {
		t.Errorf("Handshake() error = %v, want nil", err)
	}
}

func TestEngine_HandshakeNeverResponds(t *testing.T) {
	e, ch := newEngine(nil, testDescriptor())

	start := time.Now()
	err := e.Handshake(context.Background())
	if !errors.Is(err, engine.ErrHandshakeFailed) || !errors.Is(err, engine.ErrTimeout) {
		t.Fatalf("Handshake() error = %v, want ErrHandshakeFailed and ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Handshake() took %v, want bounded", elapsed)
	}
	// N# and V# per attempt.
	if got := len(ch.Writes()); got != 6 {
		t.Errorf("Handshake() wrote %d commands, want 6", got)
	}
	if ch.Flushes != 2 {
		t.Errorf("Handshake() flushed %d times, want 2", ch.Flushes)
	}
}

func TestEngine_HandshakeProceedWithout(t *testing.T) {
	m := sambatest.New()
	m.NoVersion = true
	desc := testDescriptor()
	desc.ProceedWithoutHandshake = true
	e, _ := newEngine(m, desc)

	if err := e.Handshake(context.Background()); err != nil {
		t.Errorf("Handshake() error = %v, want nil when proceeding without confirmation", err)
	}
}

func TestEngine_EraseMismatch(t *testing.T) {
	m := sambatest.New()
	m.EraseReply = []byte("?\n\r")
	e, _ := newEngine(m, testDescriptor())

	err := e.Erase(context.Background(), 0x2000, 5000)
	if !errors.Is(err, engine.ErrEraseFailed) {
		t.Fatalf("Erase() error = %v, want ErrEraseFailed", err)
	}
	if errors.Is(err, engine.ErrTimeout) {
		t.Errorf("Erase() error = %v, mismatch reported as timeout", err)
	}
	var ack *engine.AckError
	if !errors.As(err, &ack) || !ack.Mismatch() {
		t.Fatalf("Erase() error = %v, want AckError mismatch", err)
	}
	if !bytes.Equal(ack.Ack.Received, []byte("?\n\r")) {
		t.Errorf("AckError.Received = %q, want %q", ack.Ack.Received, "?\n\r")
	}
	if n := m.Count('X'); n != 3 {
		t.Errorf("erase sent %d times, want 3", n)
	}
}

func TestEngine_EraseTimeout(t *testing.T) {
	e, _ := newEngine(nil, testDescriptor())

	err := e.Erase(context.Background(), 0x2000, 100)
	if !errors.Is(err, engine.ErrEraseFailed) || !errors.Is(err, engine.ErrTimeout) {
		t.Errorf("Erase() error = %v, want ErrEraseFailed and ErrTimeout", err)
	}
}

func program(t *testing.T, e *Engine, img []byte, base uint32, page int) {
	t.Helper()
	for i, off := 0, 0; off < len(img); i, off = i+1, off+page {
		end := off + page
		if end > len(img) {
			end = len(img)
		}
		c := engine.Chunk{Index: i, Address: base + uint32(off), Data: img[off:end]}
		if err := e.Program(context.Background(), c); err != nil {
			t.Fatalf("Program(%v) error = %v", c, err)
		}
	}
}

func TestEngine_ProgramAndVerify(t *testing.T) {
	m := sambatest.New()
	e, ch := newEngine(m, testDescriptor())

	img := make([]byte, 5000)
	for i := range img {
		img[i] = byte(i ^ i>>8)
	}
	program(t, e, img, 0x2000, 4096)

	if got := m.Flash(0x2000, len(img)); !bytes.Equal(got, img) {
		t.Fatalf("flash contents differ from image")
	}
	if err := e.Verify(context.Background(), 0x2000, img); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	for _, w := range ch.Writes() {
		if len(w) > writePiece {
			t.Errorf("write of %d bytes exceeds %d", len(w), writePiece)
		}
	}
	want := []string{"S20005000,00001000#", "Y20005000,0#", "Y00002000,00001000#",
		"S20005000,00000388#", "Y20005000,0#", "Y00003000,00000388#", "Z00002000,00001388#"}
	if got := m.Commands(); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("commands = %v, want %v", got, want)
	}
}

func TestEngine_ProgramCopyAckBestEffort(t *testing.T) {
	m := sambatest.New()
	m.DropCopyAck = true
	e, _ := newEngine(m, testDescriptor())

	program(t, e, bytes.Repeat([]byte{0xA5}, 100), 0x2000, 4096)
	if n := m.Count('S'); n != 1 {
		t.Errorf("chunk staged %d times, want 1 (no retry on best-effort ack)", n)
	}
}

func TestEngine_ProgramCopyAckRequired(t *testing.T) {
	m := sambatest.New()
	m.DropCopyAck = true
	desc := testDescriptor()
	desc.CopyAck = board.AckRequired
	e, _ := newEngine(m, desc)

	err := e.Program(context.Background(), engine.Chunk{Index: 2, Address: 0x4000, Data: []byte{1, 2, 3}})
	var pe *engine.ProgramError
	if !errors.As(err, &pe) || pe.Chunk != 2 {
		t.Fatalf("Program() error = %v, want ProgramError for chunk 2", err)
	}
	if pe.Attempts != 3 || m.Count('S') != 3 {
		t.Errorf("Program() gave up after %d attempts, %d stagings; want 3 and 3", pe.Attempts, m.Count('S'))
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("Program() error = %q, want attempt count", err)
	}
	if !errors.Is(err, engine.ErrProgramFailed) || !errors.Is(err, engine.ErrTimeout) {
		t.Errorf("Program() error = %v, want ErrProgramFailed and ErrTimeout", err)
	}
}

func TestEngine_VerifyDropsLateCopyAck(t *testing.T) {
	m := sambatest.New()
	m.DropCopyAck = true
	e, ch := newEngine(m, testDescriptor())

	img := []byte("123456789")
	program(t, e, img, 0x2000, 4096)
	// The copy acknowledgement arrives after Program stopped waiting for it.
	ch.Feed([]byte("Y\n\r"))

	if err := e.Verify(context.Background(), 0x2000, img); err != nil {
		t.Errorf("Verify() error = %v, want nil", err)
	}
}

func TestEngine_VerifyMismatch(t *testing.T) {
	m := sambatest.New()
	m.CorruptCRC = true
	e, _ := newEngine(m, testDescriptor())

	img := []byte("123456789")
	program(t, e, img, 0x2000, 4096)
	err := e.Verify(context.Background(), 0x2000, img)

	var vm *engine.VerifyMismatchError
	if !errors.As(err, &vm) {
		t.Fatalf("Verify() error = %v, want VerifyMismatchError", err)
	}
	if vm.Expected != "0x31C3" || vm.Actual != "0x31C2" {
		t.Errorf("Verify() mismatch = %s vs %s, want 0x31C3 vs 0x31C2", vm.Expected, vm.Actual)
	}
	if !engine.Fatal(err) {
		t.Errorf("Fatal(%v) = false, want true", err)
	}
}

func TestEngine_VerifyNoReply(t *testing.T) {
	e, _ := newEngine(nil, testDescriptor())

	err := e.Verify(context.Background(), 0x2000, []byte{1})
	if !errors.Is(err, engine.ErrVerifyFailed) || errors.Is(err, engine.ErrVerifyMismatch) {
		t.Errorf("Verify() error = %v, want ErrVerifyFailed only", err)
	}
}

func TestEngine_ExecuteJumpsToEntry(t *testing.T) {
	m := sambatest.New()
	e, _ := newEngine(m, testDescriptor())

	if err := e.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if m.JumpedTo() != 0x2000 {
		t.Errorf("JumpedTo() = 0x%X, want 0x2000", m.JumpedTo())
	}
}

func TestEngine_ExecuteWithoutEntryResets(t *testing.T) {
	m := sambatest.New()
	desc := testDescriptor()
	desc.EntryAddress = 0
	e, _ := newEngine(m, desc)

	if err := e.Execute(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if m.Resets() != 1 {
		t.Errorf("Resets() = %d, want 1", m.Resets())
	}
}

func TestEngine_TransportErrorNotRetried(t *testing.T) {
	ch := transporttest.New(nil)
	ch.WriteErr = errors.New("device unplugged")
	e := New(ch, testDescriptor(), nil)

	err := e.Erase(context.Background(), 0x2000, 10)
	if !errors.Is(err, engine.ErrTransport) {
		t.Fatalf("Erase() error = %v, want ErrTransport", err)
	}
	if ch.Flushes != 0 {
		t.Errorf("Erase() retried %d times after a transport error", ch.Flushes)
	}
}
