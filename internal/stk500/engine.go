// Package stk500 drives AVR bootloaders that speak STK500 version 1.
package stk500

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/bigbag/boardflash/internal/board"
	"github.com/bigbag/boardflash/internal/engine"
	"github.com/bigbag/boardflash/internal/transport"
)

// Engine programs flash one page at a time and reads each page back.
type Engine struct {
	link      *engine.Link
	desc      board.Descriptor
	signature Signature
}

var _ engine.Engine = (*Engine)(nil)

// New returns an engine driving ch for the board desc.
func New(ch transport.Channel, desc board.Descriptor, j *engine.Journal) *Engine {
	return &Engine{link: engine.NewLink(ch, j), desc: desc.WithDefaults()}
}

func (e *Engine) Family() board.Family { return board.FamilySTK500 }

func (e *Engine) VerifyMode() engine.VerifyMode { return engine.VerifyPerChunk }

// Signature is the device signature read during the handshake.
func (e *Engine) Signature() Signature { return e.signature }

// Handshake repeats GET_SYNC until the bootloader answers in sync within the
// sync window, then reads the signature and enters programming mode.
func (e *Engine) Handshake(ctx context.Context) error {
	err := e.retry(ctx, func() error {
		return e.request(ctx, "sync", GetSync(), OK, e.desc.Timeouts.Sync)
	})
	if err != nil {
		return engine.Fail(engine.ErrHandshakeFailed, "sync", err)
	}

	if err := e.readSignature(ctx); err != nil {
		return engine.Fail(engine.ErrHandshakeFailed, "signature", err)
	}
	glog.V(1).Infof("stk500: %s in sync, signature % X (%s)", e.desc.Name, e.signature[:], e.signature.Name())

	err = e.retry(ctx, func() error {
		return e.request(ctx, "enter progmode", EnterProgMode(), OK, e.desc.Timeouts.Command)
	})
	if err != nil {
		return engine.Fail(engine.ErrHandshakeFailed, "enter progmode", err)
	}
	return nil
}

func (e *Engine) readSignature(ctx context.Context) error {
	if err := e.link.Send(ReadSignature(), "read signature"); err != nil {
		return err
	}
	res, err := e.link.ReadN(ctx, 5, e.desc.Timeouts.Command, "signature")
	if err != nil {
		return err
	}
	if res.Status != engine.Acknowledged || res.Received[0] != RespInSync || res.Received[4] != RespOK {
		if res.Status == engine.Acknowledged {
			res.Status = engine.Mismatched
		}
		return &engine.AckError{Op: "read signature", Want: []byte{RespInSync, RespOK}, Ack: res}
	}
	copy(e.signature[:], res.Received[1:4])
	return nil
}

// Erase issues CHIP_ERASE. Optiboot erases each page as it is written and
// merely acknowledges this.
func (e *Engine) Erase(ctx context.Context, addr uint32, size int) error {
	err := e.retry(ctx, func() error {
		return e.request(ctx, "chip erase", ChipErase(), OK, e.desc.Timeouts.Erase)
	})
	if err != nil {
		return engine.Fail(engine.ErrEraseFailed, "chip erase", err)
	}
	return nil
}

// Program loads the page address and writes the page.
func (e *Engine) Program(ctx context.Context, c engine.Chunk) error {
	if err := checkRange(c.Address, len(c.Data)); err != nil {
		return &engine.ProgramError{Chunk: c.Index, Address: c.Address, Err: err}
	}
	return engine.RetryChunk(ctx, e.desc.Retries, e.desc.Timeouts.Retry, e.flush, c, func() error {
		if err := e.request(ctx, "load address", LoadAddress(c.Address), OK, e.desc.Timeouts.Command); err != nil {
			return err
		}
		return e.request(ctx, "prog page", ProgPage(c.Data), OK, e.desc.Timeouts.Write)
	})
}

// Verify reads the page back and compares it byte for byte. The protocol has
// no device-side checksum.
func (e *Engine) Verify(ctx context.Context, addr uint32, data []byte) error {
	var got []byte
	err := e.retry(ctx, func() error {
		var err error
		got, err = e.readPage(ctx, addr, len(data))
		return err
	})
	if err != nil {
		return engine.Fail(engine.ErrVerifyFailed, "read page", err)
	}
	if i := firstDiff(data, got); i >= 0 {
		return &engine.VerifyMismatchError{
			Address:  addr,
			Size:     len(data),
			Expected: fmt.Sprintf("0x%02X at 0x%04X", data[i], addr+uint32(i)),
			Actual:   fmt.Sprintf("0x%02X", got[i]),
		}
	}
	return nil
}

func (e *Engine) readPage(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if err := e.request(ctx, "load address", LoadAddress(addr), OK, e.desc.Timeouts.Command); err != nil {
		return nil, err
	}
	if err := e.link.Send(ReadPage(n), "read page"); err != nil {
		return nil, err
	}
	res, err := e.link.ReadN(ctx, n+2, e.desc.Timeouts.Verify, "read page")
	if err != nil {
		return nil, err
	}
	r := res.Received
	if res.Status != engine.Acknowledged || r[0] != RespInSync || r[len(r)-1] != RespOK {
		if res.Status == engine.Acknowledged {
			res.Status = engine.Mismatched
		}
		return nil, &engine.AckError{Op: "read page", Want: OK, Ack: res}
	}
	return r[1 : len(r)-1], nil
}

// Finalize drops any bytes left over from the session.
func (e *Engine) Finalize(ctx context.Context) error {
	if err := e.link.Flush(e.desc.Timeouts.Flush); err != nil {
		return engine.Fail(engine.ErrFinalizeFailed, "flush", err)
	}
	return nil
}

// Execute leaves programming mode; the bootloader then starts the sketch.
func (e *Engine) Execute(ctx context.Context) error {
	return e.leave(ctx, "leave progmode")
}

// Reset leaves programming mode so the watchdog restarts the part.
func (e *Engine) Reset(ctx context.Context) error {
	return e.leave(ctx, "reset")
}

func (e *Engine) leave(ctx context.Context, op string) error {
	if err := e.link.Send(LeaveProgMode(), op); err != nil {
		return err
	}
	_, err := e.link.Expect(ctx, op, OK, e.desc.Timeouts.Command, engine.AckBestEffort)
	return err
}

// request sends cmd and requires the exact answer want.
func (e *Engine) request(ctx context.Context, op string, cmd, want []byte, timeout time.Duration) error {
	if err := e.link.Send(cmd, op); err != nil {
		return err
	}
	_, err := e.link.Expect(ctx, op, want, timeout, engine.AckRequired)
	return err
}

func (e *Engine) flush() {
	if err := e.link.Flush(e.desc.Timeouts.Flush); err != nil {
		glog.Warningf("stk500: flush: %v", err)
	}
}

func (e *Engine) retry(ctx context.Context, op func() error) error {
	return engine.Retry(ctx, e.desc.Retries, e.desc.Timeouts.Retry, e.flush, func(int) error {
		return op()
	})
}

func checkRange(addr uint32, size int) error {
	if uint64(addr)+uint64(size) > MaxFlashAddress {
		return errors.Errorf("flash 0x%X+%d is beyond 16-bit word addressing", addr, size)
	}
	return nil
}

// firstDiff returns the first index where equal-length want and got differ, or -1.
func firstDiff(want, got []byte) int {
	for i := range want {
		if want[i] != got[i] {
			return i
		}
	}
	return -1
}
