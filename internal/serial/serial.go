package serial

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"

	"github.com/bigbag/boardflash/internal/transport"
)

// flushQuiet is how long the line must stay silent before Flush gives up early.
const flushQuiet = 20 * time.Millisecond

// Port wraps a serial port and implements transport.Channel.
type Port struct {
	port     serial.Port
	portName string
	baudRate int
	timeout  time.Duration
}

var _ transport.Channel = (*Port)(nil)

// Open opens a serial port with the specified baud rate, 8N1.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	p := &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}
	if err := p.setTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return p, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read returns up to max bytes, waiting at most timeout for the first one.
// The driver returns as soon as any byte is available, so short reads are normal.
func (p *Port) Read(max int, timeout time.Duration) ([]byte, error) {
	if max <= 0 {
		return []byte{}, nil
	}
	if err := p.setTimeout(timeout); err != nil {
		return nil, err
	}
	buf := make([]byte, max)
	n, err := p.port.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Flush discards the driver's input buffer, then drains whatever is still
// arriving for at most d.
func (p *Port) Flush(d time.Duration) error {
	if err := p.port.ResetInputBuffer(); err != nil {
		return err
	}
	return transport.Drain(p.Read, d, flushQuiet)
}

func (p *Port) setTimeout(d time.Duration) error {
	if d == p.timeout {
		return nil
	}
	if err := p.port.SetReadTimeout(d); err != nil {
		return err
	}
	p.timeout = d
	return nil
}

// SetDTR sets the DTR signal.
func (p *Port) SetDTR(value bool) error {
	return p.port.SetDTR(value)
}

// SetRTS sets the RTS signal.
func (p *Port) SetRTS(value bool) error {
	return p.port.SetRTS(value)
}

// ResetToBootloader resets an ESP32 into its ROM bootloader using DTR/RTS.
// This uses the common auto-reset circuit found on most ESP32 dev boards.
func (p *Port) ResetToBootloader() error {
	// Signal polarities are inverted by the transistor drivers.

	// Step 1: Assert EN (reset)
	if err := p.SetRTS(true); err != nil {
		return err
	}
	if err := p.SetDTR(false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)

	// Step 2: Assert GPIO0 (boot mode), release EN
	if err := p.SetRTS(false); err != nil {
		return err
	}
	if err := p.SetDTR(true); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)

	// Step 3: Release GPIO0
	if err := p.SetDTR(false); err != nil {
		return err
	}

	// Garbage from the reset banner
	return p.Flush(100 * time.Millisecond)
}

// HardReset pulses EN without entering the bootloader.
func (p *Port) HardReset() error {
	if err := p.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return p.SetRTS(false)
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Touch1200 opens portName at 1200 baud and drops DTR, which tells
// Arduino-style bootloaders to reboot into programming mode. The board usually
// re-enumerates, sometimes under a new name; the returned name is the port to
// upload to.
func Touch1200(portName string, wait time.Duration) (string, error) {
	before, _ := ListPorts()

	port, err := serial.Open(portName, &serial.Mode{BaudRate: 1200})
	if err != nil {
		return "", fmt.Errorf("1200-baud touch on %s: %w", portName, err)
	}
	if err := port.SetDTR(false); err != nil {
		glog.Warningf("touch: clearing DTR on %s: %v", portName, err)
	}
	port.Close()

	deadline := time.Now().Add(wait)
	gone := false
	for time.Now().Before(deadline) {
		time.Sleep(250 * time.Millisecond)
		now, err := ListPorts()
		if err != nil {
			continue
		}
		if p := newPort(before, now); p != "" {
			glog.V(1).Infof("touch: %s re-enumerated as %s", portName, p)
			return p, nil
		}
		present := contains(now, portName)
		if !present {
			gone = true
		}
		if gone && present {
			return portName, nil
		}
	}

	// Boards that do not re-enumerate keep their name.
	return portName, nil
}

func newPort(before, after []string) string {
	for _, p := range after {
		if !contains(before, p) {
			return p
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
