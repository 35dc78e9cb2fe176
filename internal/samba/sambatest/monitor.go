// Package sambatest simulates a SAM-BA monitor behind a transporttest.Script.
package sambatest

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bigbag/boardflash/internal/checksum"
)

const aircr = 0xE000ED0C

// Monitor answers SAM-BA commands the way the Arduino SAMD bootloader does.
// Zero-valued knobs give a well-behaved board.
type Monitor struct {
	mu sync.Mutex

	// Version is returned for V#.
	Version string
	// NoNormalAck suppresses the reply to N#.
	NoNormalAck bool
	// NoVersion suppresses the reply to V#.
	NoVersion bool
	// EraseReply, when set, replaces the erase acknowledgement.
	EraseReply []byte
	// DropCopyAck suppresses the acknowledgement of the flash copy.
	DropCopyAck bool
	// CorruptCRC makes checksum replies disagree with flash.
	CorruptCRC bool

	flash    map[uint32]byte
	sram     []byte
	pending  []byte
	expect   int
	commands []string
	jumpedTo uint32
	resets   int
}

// New returns a monitor with empty (erased) flash.
func New() *Monitor {
	return &Monitor{
		Version: "v1.1 [Arduino:XYZ] Dec 20 2016 15:36:43",
		flash:   make(map[uint32]byte),
	}
}

// Respond is a transporttest.Responder.
func (m *Monitor) Respond(written []byte) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []byte
	for _, b := range written {
		if m.expect > 0 {
			m.sram = append(m.sram, b)
			m.expect--
			continue
		}
		m.pending = append(m.pending, b)
		if b == '#' {
			out = append(out, m.exec(string(m.pending))...)
			m.pending = nil
		}
	}
	return out
}

func args(cmd string) []uint32 {
	var out []uint32
	for _, f := range strings.Split(strings.TrimSuffix(cmd[1:], "#"), ",") {
		v, err := strconv.ParseUint(f, 16, 32)
		if err != nil {
			return nil
		}
		out = append(out, uint32(v))
	}
	return out
}

func (m *Monitor) exec(cmd string) []byte {
	m.commands = append(m.commands, cmd)
	a := args(cmd)
	switch cmd[0] {
	case 'N':
		if m.NoNormalAck {
			return nil
		}
		return []byte("\n\r")
	case 'V':
		if m.NoVersion {
			return nil
		}
		return []byte(m.Version + "\n\r")
	case 'S':
		m.sram = m.sram[:0]
		m.expect = int(a[1])
		return nil
	case 'Y':
		if a[1] == 0 {
			return []byte("Y\n\r")
		}
		for i := 0; i < int(a[1]) && i < len(m.sram); i++ {
			m.flash[a[0]+uint32(i)] = m.sram[i]
		}
		if m.DropCopyAck {
			return nil
		}
		return []byte("Y\n\r")
	case 'X':
		if m.EraseReply != nil {
			return m.EraseReply
		}
		m.flash = make(map[uint32]byte)
		return []byte("X\n\r")
	case 'Z':
		crc := checksum.CRC16(m.read(a[0], int(a[1])))
		if m.CorruptCRC {
			crc ^= 0x0001
		}
		return []byte(fmt.Sprintf("Z%08X#\n\r", crc))
	case 'G':
		m.jumpedTo = a[0]
		return nil
	case 'W':
		if a[0] == aircr {
			m.resets++
		}
		return nil
	}
	return nil
}

func (m *Monitor) read(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		v, ok := m.flash[addr+uint32(i)]
		if !ok {
			v = 0xFF
		}
		out[i] = v
	}
	return out
}

// Flash returns n bytes of simulated flash at addr; unwritten bytes read 0xFF.
func (m *Monitor) Flash(addr uint32, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read(addr, n)
}

// Commands returns every command received, in order.
func (m *Monitor) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Count returns how many received commands start with letter.
func (m *Monitor) Count(letter byte) int {
	n := 0
	for _, c := range m.Commands() {
		if c[0] == letter {
			n++
		}
	}
	return n
}

// JumpedTo is the address of the last G command.
func (m *Monitor) JumpedTo() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jumpedTo
}

// Resets counts AIRCR reset requests.
func (m *Monitor) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}
