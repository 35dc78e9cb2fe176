// Package esptool speaks the SLIP-framed ESP ROM serial loader protocol.
package esptool

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/bigbag/boardflash/internal/board"
	"github.com/bigbag/boardflash/internal/engine"
	"github.com/bigbag/boardflash/internal/slip"
	"github.com/bigbag/boardflash/internal/transport"
)

// rebootWait bounds the wait for a reply to FLASH_END with the reboot flag.
const rebootWait = 100 * time.Millisecond

// StatusError is a response whose status bytes report a failure.
type StatusError struct {
	Op     string
	Status byte
	Code   byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status=0x%02X error=0x%02X (%s)", e.Op, e.Status, e.Code, ErrorMessage(e.Code))
}

// Engine flashes ESP32-class chips through the ROM loader.
type Engine struct {
	link *engine.Link
	desc board.Descriptor
}

var _ engine.Engine = (*Engine)(nil)

// New returns an engine driving ch for the board desc.
func New(ch transport.Channel, desc board.Descriptor, j *engine.Journal) *Engine {
	return &Engine{link: engine.NewLink(ch, j), desc: desc.WithDefaults()}
}

func (e *Engine) Family() board.Family { return board.FamilyEspTool }

func (e *Engine) VerifyMode() engine.VerifyMode { return engine.VerifyOnce }

// Handshake syncs with the ROM loader and attaches the SPI flash.
func (e *Engine) Handshake(ctx context.Context) error {
	sync := NewRequest(CmdSync, SyncData())
	err := engine.Retry(ctx, e.desc.Retries, e.desc.Timeouts.Retry, e.flush, func(attempt int) error {
		_, err := e.exchange(ctx, "sync", sync, e.desc.Timeouts.Sync)
		return err
	})
	if err != nil {
		return engine.Fail(engine.ErrHandshakeFailed, "sync", err)
	}

	// The ROM answers one SYNC with several replies; drop the extras.
	e.flush()
	glog.V(1).Infof("esptool: synced with %s", e.desc.Name)

	if _, err := e.command(ctx, "spi attach", CmdSpiAttach, SpiAttachData(), e.desc.Timeouts.Command); err != nil {
		return engine.Fail(engine.ErrHandshakeFailed, "spi attach", err)
	}
	return nil
}

// Erase sends FLASH_BEGIN, which erases the sectors covering size bytes.
func (e *Engine) Erase(ctx context.Context, addr uint32, size int) error {
	blocks := CalculateFlashBlocks(size, e.desc.PageSize)
	eraseSize := CalculateEraseSize(size)
	timeout := EraseTimeout(eraseSize, e.desc.Timeouts.Erase)
	payload := FlashBeginData(eraseSize, blocks, uint32(e.desc.PageSize), addr)

	glog.V(1).Infof("esptool: flash begin 0x%08X erase=%d blocks=%d timeout=%v", addr, eraseSize, blocks, timeout)
	err := e.retry(ctx, func() error {
		_, err := e.command(ctx, "flash begin", CmdFlashBegin, payload, timeout)
		return err
	})
	if err != nil {
		return engine.Fail(engine.ErrEraseFailed, "flash begin", err)
	}
	return nil
}

// Program sends one FLASH_DATA block. The chunk index is the block sequence number.
func (e *Engine) Program(ctx context.Context, c engine.Chunk) error {
	if len(c.Data) > e.desc.PageSize {
		return &engine.ProgramError{Chunk: c.Index, Address: c.Address,
			Err: errors.Errorf("%d bytes exceed block size %d", len(c.Data), e.desc.PageSize)}
	}
	payload := FlashDataData(c.Data, uint32(c.Index), e.desc.PageSize)
	return engine.RetryChunk(ctx, e.desc.Retries, e.desc.Timeouts.Retry, e.flush, c, func() error {
		_, err := e.command(ctx, "flash data", CmdFlashData, payload, e.desc.Timeouts.Write)
		return err
	})
}

// Verify compares the MD5 the loader computes over flash with one over data.
func (e *Engine) Verify(ctx context.Context, addr uint32, data []byte) error {
	sum := md5.Sum(data)
	expected := hex.EncodeToString(sum[:])

	resp, err := e.command(ctx, "flash md5", CmdSpiFlashMD5, FlashMD5Data(addr, uint32(len(data))), e.desc.Timeouts.Verify)
	if err != nil {
		return engine.Fail(engine.ErrVerifyFailed, "flash md5", err)
	}
	actual, err := parseMD5(resp.Data)
	if err != nil {
		return engine.Fail(engine.ErrVerifyFailed, "flash md5", err)
	}
	if actual != expected {
		return &engine.VerifyMismatchError{Address: addr, Size: len(data), Expected: expected, Actual: actual}
	}
	glog.V(1).Infof("esptool: md5 %s matches", actual)
	return nil
}

// parseMD5 accepts the ROM's 32 hex characters or a stub's 16 raw bytes.
func parseMD5(data []byte) (string, error) {
	switch {
	case len(data) == md5.Size:
		return hex.EncodeToString(data), nil
	case len(data) >= 2*md5.Size:
		s := strings.ToLower(string(data[:2*md5.Size]))
		if _, err := hex.DecodeString(s); err != nil {
			return "", errors.Wrap(err, "md5 reply")
		}
		return s, nil
	default:
		return "", errors.Errorf("md5 reply has %d bytes", len(data))
	}
}

// Finalize ends the flash session and keeps the chip in the loader.
func (e *Engine) Finalize(ctx context.Context) error {
	if _, err := e.command(ctx, "flash end", CmdFlashEnd, FlashEndData(false), e.desc.Timeouts.Command); err != nil {
		return engine.Fail(engine.ErrFinalizeFailed, "flash end", err)
	}
	return nil
}

// Execute asks the loader to reboot into the new application.
func (e *Engine) Execute(ctx context.Context) error {
	return e.reboot(ctx, "run")
}

// Reset reboots the chip, abandoning any flash session.
func (e *Engine) Reset(ctx context.Context) error {
	return e.reboot(ctx, "reset")
}

func (e *Engine) reboot(ctx context.Context, op string) error {
	_, err := e.command(ctx, op, CmdFlashEnd, FlashEndData(true), rebootWait)
	if errors.Is(err, engine.ErrTransport) {
		return err
	}
	if err != nil {
		// The chip may reboot before it answers.
		glog.V(1).Infof("esptool: %s: %v", op, err)
	}
	return nil
}

// SecurityInfo queries the chip ID. Older ROMs do not implement the command.
func (e *Engine) SecurityInfo(ctx context.Context) (*SecurityInfo, error) {
	resp, err := e.command(ctx, "security info", CmdGetSecurityInfo, nil, e.desc.Timeouts.Command)
	if err != nil {
		return nil, err
	}
	return ParseSecurityInfo(resp.Data)
}

func (e *Engine) flush() {
	if err := e.link.Flush(e.desc.Timeouts.Flush); err != nil {
		glog.Warningf("esptool: flush: %v", err)
	}
}

func (e *Engine) retry(ctx context.Context, op func() error) error {
	return engine.Retry(ctx, e.desc.Retries, e.desc.Timeouts.Retry, e.flush, func(int) error {
		return op()
	})
}

// command sends one request and waits for a successful reply to it.
func (e *Engine) command(ctx context.Context, op string, cmd byte, payload []byte, timeout time.Duration) (*Response, error) {
	return e.exchange(ctx, op, NewRequest(cmd, payload), timeout)
}

func (e *Engine) exchange(ctx context.Context, op string, req *Request, timeout time.Duration) (*Response, error) {
	if err := e.link.Send(req.Frame(), op); err != nil {
		return nil, err
	}
	resp, err := e.readResponse(ctx, op, req.Command, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return resp, &StatusError{Op: op, Status: resp.Status, Code: resp.Error}
	}
	return resp, nil
}

// readResponse collects bytes until a reply to cmd decodes. Replies to other
// commands, such as late SYNC answers, are skipped.
func (e *Engine) readResponse(ctx context.Context, op string, cmd byte, timeout time.Duration) (*Response, error) {
	j := e.link.Journal()
	start := time.Now()
	deadline := start.Add(timeout)
	var buf []byte

	for {
		frame, rest := slip.ReadFrame(buf)
		if frame != nil {
			buf = rest
			data, err := slip.Decode(frame)
			if err != nil {
				j.Rx(frame, time.Since(start), op+": bad frame")
				e.link.Unread(buf)
				return nil, &engine.FramingError{Raw: frame, Reason: err}
			}
			resp, err := DecodeResponse(data, e.desc.StatusBytes)
			if err != nil {
				j.Rx(data, time.Since(start), op+": bad packet")
				e.link.Unread(buf)
				return nil, &engine.FramingError{Raw: data, Reason: err}
			}
			if resp.Command != cmd {
				j.Rx(data, time.Since(start), fmt.Sprintf("%s: skipped reply to 0x%02X", op, resp.Command))
				continue
			}
			e.link.Unread(buf)
			j.Rx(data, time.Since(start), op)
			glog.V(2).Infof("esptool: %s <- % X", op, data)
			return resp, nil
		}

		left := time.Until(deadline)
		if left <= 0 {
			ack := engine.AckResult{Status: engine.TimedOut, Received: buf, Elapsed: time.Since(start)}
			j.Rx(buf, ack.Elapsed, op+": timeout")
			return nil, &engine.AckError{Op: op, Ack: ack}
		}
		b, err := e.link.Read(ctx, 256, left)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
}
