// Package samba drives the SAM-BA monitor found in Atmel/Microchip ARM
// bootloaders, using the extended command set BOSSA relies on.
package samba

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/bigbag/boardflash/internal/board"
	"github.com/bigbag/boardflash/internal/checksum"
	"github.com/bigbag/boardflash/internal/engine"
	"github.com/bigbag/boardflash/internal/transport"
)

const (
	// writePiece bounds each raw write of chunk data.
	writePiece = 512
	// transmitMargin is added to the computed wire time after raw data.
	transmitMargin = 10 * time.Millisecond
	// maxReply bounds an answer that never reaches its line end.
	maxReply = 128
)

// Engine uploads through a SAM-BA monitor: data is staged in SRAM and the
// bootloader copies it into flash.
type Engine struct {
	link    *engine.Link
	desc    board.Descriptor
	version string
}

var _ engine.Engine = (*Engine)(nil)

// New returns an engine driving ch for the board desc.
func New(ch transport.Channel, desc board.Descriptor, j *engine.Journal) *Engine {
	return &Engine{link: engine.NewLink(ch, j), desc: desc.WithDefaults()}
}

func (e *Engine) Family() board.Family { return board.FamilySamBa }

func (e *Engine) VerifyMode() engine.VerifyMode { return engine.VerifyOnce }

// BootloaderVersion is the version string read during the handshake, if any.
func (e *Engine) BootloaderVersion() string { return e.version }

// Handshake selects binary mode and reads the version string. Boards marked
// ProceedWithoutHandshake continue when the version never arrives.
func (e *Engine) Handshake(ctx context.Context) error {
	err := engine.Retry(ctx, e.desc.Retries, e.desc.Timeouts.Retry, e.flush, func(attempt int) error {
		return e.identify(ctx)
	})
	if err == nil {
		glog.V(1).Infof("samba: %s bootloader %q", e.desc.Name, e.version)
		return nil
	}
	if e.desc.ProceedWithoutHandshake && !engine.Fatal(err) && ctx.Err() == nil {
		glog.Warningf("samba: %s did not identify itself (%v); proceeding as configured", e.desc.Name, err)
		e.link.Journal().Notef("handshake unconfirmed, proceeding: %v", err)
		e.flush()
		return nil
	}
	return engine.Fail(engine.ErrHandshakeFailed, "version", err)
}

func (e *Engine) identify(ctx context.Context) error {
	if err := e.link.Send(NormalMode(), "normal mode"); err != nil {
		return err
	}
	// Some monitors never acknowledge N#.
	if _, err := e.link.ReadUntil(ctx, LineEnd, maxReply, e.desc.Timeouts.Sync, "normal mode"); err != nil {
		return err
	}

	if err := e.link.Send(Version(), "version"); err != nil {
		return err
	}
	res, err := e.link.ReadUntil(ctx, LineEnd, maxReply, e.desc.Timeouts.Command, "version")
	if err != nil {
		return err
	}
	if res.Status != engine.Acknowledged {
		return &engine.AckError{Op: "version", Want: LineEnd, Ack: res}
	}
	v, err := ParseVersion(res.Received)
	if err != nil {
		return &engine.AckError{Op: "version", Want: LineEnd,
			Ack: engine.AckResult{Status: engine.Mismatched, Received: res.Received, Elapsed: res.Elapsed}}
	}
	e.version = v
	return nil
}

// Erase erases flash from addr. Only the echoed command letter followed by
// a line end counts as success.
func (e *Engine) Erase(ctx context.Context, addr uint32, size int) error {
	cmd := EraseFrom(addr)
	glog.V(1).Infof("samba: erase from 0x%08X (%d bytes needed)", addr, size)
	err := e.retry(ctx, func() error {
		if err := e.link.Send(cmd, "erase"); err != nil {
			return err
		}
		_, err := e.await(ctx, "erase", Ack(cmd), e.desc.Timeouts.Erase, engine.AckRequired)
		return err
	})
	if err != nil {
		return engine.Fail(engine.ErrEraseFailed, "erase", err)
	}
	return nil
}

// Program stages the chunk in SRAM and has the monitor copy it to flash.
func (e *Engine) Program(ctx context.Context, c engine.Chunk) error {
	return engine.RetryChunk(ctx, e.desc.Retries, e.desc.Timeouts.Retry, e.flush, c, func() error {
		return e.program(ctx, c)
	})
}

func (e *Engine) program(ctx context.Context, c engine.Chunk) error {
	buf := e.desc.SRAMBuffer
	if err := e.link.Send(WriteBuffer(buf, len(c.Data)), "write buffer"); err != nil {
		return err
	}
	if err := engine.Sleep(ctx, e.desc.Timeouts.Settle); err != nil {
		return err
	}
	if err := e.link.SendPieces(c.Data, writePiece, c.String()); err != nil {
		return err
	}
	// No flow control: wait for the bytes to leave the wire before talking again.
	if err := engine.Sleep(ctx, engine.TransmitDelay(len(c.Data), e.desc.BaudRate)+transmitMargin); err != nil {
		return err
	}

	src := SetSource(buf)
	if err := e.link.Send(src, "set source"); err != nil {
		return err
	}
	if _, err := e.await(ctx, "set source", Ack(src), e.desc.Timeouts.Command, engine.AckRequired); err != nil {
		return err
	}

	cp := CopyToFlash(c.Address, len(c.Data))
	if err := e.link.Send(cp, "copy to flash"); err != nil {
		return err
	}
	res, err := e.await(ctx, "copy to flash", Ack(cp), e.desc.Timeouts.Write, e.desc.CopyAck)
	if err == nil && res.Status != engine.Acknowledged {
		// Reported for some SAMD bootloaders; not confirmed against vendor documentation.
		glog.Warningf("samba: %s: no flash copy acknowledgement for %v; assuming success (unverified bootloader behaviour, CRC verify will decide)",
			e.desc.Name, c)
	}
	return err
}

// Verify compares the monitor's CRC16 over flash with one over data.
func (e *Engine) Verify(ctx context.Context, addr uint32, data []byte) error {
	// A late copy acknowledgement would otherwise be read as the CRC reply.
	if err := e.link.Flush(e.desc.Timeouts.Flush); err != nil {
		return engine.Fail(engine.ErrVerifyFailed, "flush", err)
	}
	if err := e.link.Send(ChecksumRange(addr, len(data)), "checksum"); err != nil {
		return engine.Fail(engine.ErrVerifyFailed, "checksum", err)
	}
	res, err := e.link.ReadUntil(ctx, LineEnd, maxReply, e.desc.Timeouts.Verify, "checksum")
	if err != nil {
		return engine.Fail(engine.ErrVerifyFailed, "checksum", err)
	}
	if res.Status != engine.Acknowledged {
		return engine.Fail(engine.ErrVerifyFailed, "checksum", &engine.AckError{Op: "checksum", Want: LineEnd, Ack: res})
	}
	actual, err := ParseCRC(res.Received)
	if err != nil {
		return engine.Fail(engine.ErrVerifyFailed, "checksum", err)
	}

	expected := checksum.CRC16(data)
	if actual != expected {
		return &engine.VerifyMismatchError{
			Address:  addr,
			Size:     len(data),
			Expected: fmt.Sprintf("0x%04X", expected),
			Actual:   fmt.Sprintf("0x%04X", actual),
		}
	}
	glog.V(1).Infof("samba: crc 0x%04X over %d bytes matches", actual, len(data))
	return nil
}

// Finalize discards whatever the monitor left in the input buffer.
func (e *Engine) Finalize(ctx context.Context) error {
	if err := e.link.Flush(e.desc.Timeouts.Flush); err != nil {
		return engine.Fail(engine.ErrFinalizeFailed, "flush", err)
	}
	return nil
}

// Execute jumps to the entry address, or resets the core when the board has
// none. The target restarts before it can answer.
func (e *Engine) Execute(ctx context.Context) error {
	if e.desc.EntryAddress == 0 {
		return e.Reset(ctx)
	}
	return e.link.Send(Go(e.desc.EntryAddress), "go")
}

// Reset requests a system reset through AIRCR.
func (e *Engine) Reset(ctx context.Context) error {
	return e.link.Send(WriteWord(AIRCR, AIRCRSysReset), "reset")
}

// await reads one line and checks it equals want.
func (e *Engine) await(ctx context.Context, op string, want []byte, timeout time.Duration, policy engine.AckPolicy) (engine.AckResult, error) {
	res, err := e.link.ReadUntil(ctx, LineEnd, maxReply, timeout, op)
	if err != nil {
		return res, err
	}
	if res.Status == engine.Acknowledged && !bytes.Equal(res.Received, want) {
		res.Status = engine.Mismatched
	}
	return res, e.link.Judge(op, want, res, policy)
}

func (e *Engine) flush() {
	if err := e.link.Flush(e.desc.Timeouts.Flush); err != nil {
		glog.Warningf("samba: flush: %v", err)
	}
}

func (e *Engine) retry(ctx context.Context, op func() error) error {
	return engine.Retry(ctx, e.desc.Retries, e.desc.Timeouts.Retry, e.flush, func(int) error {
		return op()
	})
}
