package samba

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// LineEnd terminates every SAM-BA answer.
var LineEnd = []byte("\n\r")

// Cortex-M application interrupt and reset control register and the value
// that requests a system reset.
const (
	AIRCR         = 0xE000ED0C
	AIRCRSysReset = 0x05FA0004
)

// NormalMode switches the monitor to binary transfers.
func NormalMode() []byte { return []byte("N#") }

// Version asks for the bootloader version string.
func Version() []byte { return []byte("V#") }

// WriteBuffer announces size raw bytes bound for addr.
func WriteBuffer(addr uint32, size int) []byte {
	return []byte(fmt.Sprintf("S%08X,%08X#", addr, size))
}

// SetSource points the copy engine at the staging buffer.
func SetSource(addr uint32) []byte {
	return []byte(fmt.Sprintf("Y%08X,0#", addr))
}

// CopyToFlash writes size bytes from the staging buffer to flash at addr.
func CopyToFlash(addr uint32, size int) []byte {
	return []byte(fmt.Sprintf("Y%08X,%08X#", addr, size))
}

// EraseFrom erases flash from addr to the end of the application area.
func EraseFrom(addr uint32) []byte {
	return []byte(fmt.Sprintf("X%08X#", addr))
}

// ChecksumRange asks for the CRC16 of size bytes of flash at addr.
func ChecksumRange(addr uint32, size int) []byte {
	return []byte(fmt.Sprintf("Z%08X,%08X#", addr, size))
}

// Go jumps to addr.
func Go(addr uint32) []byte {
	return []byte(fmt.Sprintf("G%08X#", addr))
}

// WriteWord stores a 32-bit value at addr.
func WriteWord(addr, value uint32) []byte {
	return []byte(fmt.Sprintf("W%08X,%08X#", addr, value))
}

// Ack is the answer that acknowledges cmd: its leading byte and a line end.
func Ack(cmd []byte) []byte {
	return append([]byte{cmd[0]}, LineEnd...)
}

// ParseVersion checks that resp is printable ASCII up to the line end.
func ParseVersion(resp []byte) (string, error) {
	if len(resp) < len(LineEnd) {
		return "", errors.Errorf("version reply %q has no line end", resp)
	}
	body := resp[:len(resp)-len(LineEnd)]
	if len(body) == 0 {
		return "", errors.New("empty version reply")
	}
	for _, b := range body {
		if b < 0x20 || b > 0x7E {
			return "", errors.Errorf("version reply %q is not printable", resp)
		}
	}
	return string(body), nil
}

// ParseCRC decodes the "Z%08X#\n\r" answer to a checksum request.
func ParseCRC(resp []byte) (uint16, error) {
	const n = 1 + 8 + 1
	if len(resp) != n+len(LineEnd) || resp[0] != 'Z' || resp[n-1] != '#' {
		return 0, errors.Errorf("malformed checksum reply %q", resp)
	}
	v, err := strconv.ParseUint(string(resp[1:n-1]), 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "checksum reply %q", resp)
	}
	if v > 0xFFFF {
		return 0, errors.Errorf("checksum reply %q exceeds 16 bits", resp)
	}
	return uint16(v), nil
}
