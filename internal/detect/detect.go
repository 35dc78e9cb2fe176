// Package detect finds the serial port a board's bootloader answers on.
package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/bigbag/boardflash/internal/board"
	"github.com/bigbag/boardflash/internal/engine"
	"github.com/bigbag/boardflash/internal/esptool"
	"github.com/bigbag/boardflash/internal/samba"
	"github.com/bigbag/boardflash/internal/serial"
	"github.com/bigbag/boardflash/internal/stk500"
	"github.com/bigbag/boardflash/internal/strategy"
	"github.com/bigbag/boardflash/internal/transport"
)

// TouchWait bounds how long a 1200-baud touch waits for re-enumeration.
const TouchWait = 4 * time.Second

// Result represents a port whose bootloader completed the handshake.
type Result struct {
	Port   string
	Board  string
	Family board.Family
	// Info is the bootloader version, AVR signature or ESP chip name.
	Info   string
	ChipID uint32
}

// Opener opens portName for desc, performing whatever entry ritual the board
// needs to be in its bootloader.
type Opener func(portName string, desc board.Descriptor) (transport.Channel, error)

// Prober runs handshakes on candidate ports.
type Prober struct {
	List   func() ([]string, error)
	Open   Opener
	Select strategy.Selector
}

// New returns a Prober working on the host's serial ports.
func New() *Prober {
	return &Prober{List: serial.ListPorts, Open: Open, Select: strategy.Select}
}

// Open is the serial Opener: 1200-baud touch for boards that need it, then
// the port at the board's baud rate, then a DTR/RTS reset for ESP boards.
func Open(portName string, desc board.Descriptor) (transport.Channel, error) {
	desc = desc.WithDefaults()
	if desc.Touch1200 {
		p, err := serial.Touch1200(portName, TouchWait)
		if err != nil {
			return nil, err
		}
		portName = p
	}

	port, err := serial.Open(portName, desc.BaudRate)
	if err != nil {
		return nil, err
	}
	if desc.Family == board.FamilyEspTool {
		if err := port.ResetToBootloader(); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to reset %s: %w", portName, err)
		}
	}
	return port, nil
}

// Find returns the first port on which desc's bootloader answers.
func (p *Prober) Find(ctx context.Context, desc board.Descriptor) (*Result, error) {
	ports, err := p.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, name := range ports {
		res, err := p.ProbePort(ctx, name, desc)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no %s bootloader found (last error: %w)", desc.Family, lastErr)
}

// Scan probes every port and returns those that answered.
func (p *Prober) Scan(ctx context.Context, desc board.Descriptor) ([]Result, error) {
	ports, err := p.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, name := range ports {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := p.ProbePort(ctx, name, desc)
		if err != nil {
			glog.V(1).Infof("detect: %s: %v", name, err)
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

// ProbePort opens portName and runs desc's handshake on it.
func (p *Prober) ProbePort(ctx context.Context, portName string, desc board.Descriptor) (*Result, error) {
	desc = desc.WithDefaults()
	j := engine.NewJournal(nil)

	// Fail on an unknown family before opening anything.
	if _, err := p.Select(desc, nil, j); err != nil {
		return nil, err
	}

	ch, err := p.Open(portName, desc)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	eng, err := p.Select(desc, ch, j)
	if err != nil {
		return nil, err
	}
	if err := eng.Handshake(ctx); err != nil {
		glog.V(2).Infof("detect: %s exchanges:\n%s", portName, j.Dump())
		return nil, errors.Wrapf(err, "probe %s", portName)
	}

	res := &Result{Port: portName, Board: desc.Name, Family: desc.Family}
	// A 1200-baud touch may have moved the board to a new port.
	if named, ok := ch.(interface{ PortName() string }); ok {
		res.Port = named.PortName()
	}
	describe(ctx, eng, res)
	return res, nil
}

func describe(ctx context.Context, eng engine.Engine, res *Result) {
	switch e := eng.(type) {
	case *samba.Engine:
		res.Info = e.BootloaderVersion()
	case *stk500.Engine:
		sig := e.Signature()
		res.Info = fmt.Sprintf("%s (% X)", sig.Name(), sig[:])
	case *esptool.Engine:
		// Sync worked, so it is an ESP even without a chip ID.
		info, err := e.SecurityInfo(ctx)
		if err != nil {
			res.Info = "ESP32 (unknown variant)"
			return
		}
		res.ChipID = info.ChipID
		res.Info = esptool.ChipName(info.ChipID)
	}
}
