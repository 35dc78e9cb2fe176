// Package board describes upload targets: which bootloader protocol they speak,
// where their flash lives and how patient the host must be with them.
package board

import (
	"fmt"
	"time"
)

// Family tags the bootloader protocol a board speaks.
type Family string

const (
	FamilySamBa   Family = "sam-ba"
	FamilySTK500  Family = "stk500"
	FamilyEspTool Family = "esptool"
)

// AckPolicy says whether a command's acknowledgement must arrive.
type AckPolicy string

const (
	AckRequired   AckPolicy = "required"
	AckBestEffort AckPolicy = "best-effort"
)

// Timeouts are per-stage waits. Slow flash parts override them in the catalog.
type Timeouts struct {
	Command time.Duration `yaml:"command"` // short command/ACK exchange
	Sync    time.Duration `yaml:"sync"`    // one handshake attempt
	Erase   time.Duration `yaml:"erase"`
	Write   time.Duration `yaml:"write"`  // buffer-to-flash copy / page program
	Verify  time.Duration `yaml:"verify"` // device CRC, MD5 or read-back
	Settle  time.Duration `yaml:"settle"` // pause between a command and its raw data
	Flush   time.Duration `yaml:"flush"`  // bound on draining stale input
	Retry   time.Duration `yaml:"retry"`  // pause between retries
}

// Descriptor is everything the engine needs to know about a target board.
type Descriptor struct {
	Name   string `yaml:"name"`
	Family Family `yaml:"family"`

	BaudRate     int    `yaml:"baud_rate"`
	FlashBase    uint32 `yaml:"flash_base"`
	SRAMBuffer   uint32 `yaml:"sram_buffer"` // sam-ba staging buffer
	EntryAddress uint32 `yaml:"entry_address"`
	PageSize     int    `yaml:"page_size"`

	// Touch1200 asks the port layer for a 1200-baud touch before opening.
	Touch1200 bool `yaml:"touch_1200"`
	// ProceedWithoutHandshake lets an upload continue when the bootloader
	// never answers the version query.
	ProceedWithoutHandshake bool `yaml:"proceed_without_handshake"`
	// CopyAck is the policy for the sam-ba buffer-to-flash copy acknowledgement.
	CopyAck AckPolicy `yaml:"copy_ack"`
	// StatusBytes is the length of the status trailer on esptool replies:
	// 4 for the ESP32 family ROMs, 2 for ESP8266 and flasher stubs.
	StatusBytes int `yaml:"status_bytes"`

	Retries  int      `yaml:"retries"`
	Timeouts Timeouts `yaml:"timeouts"`
}

// Defaults applied by WithDefaults.
const (
	DefaultBaudRate    = 115200
	DefaultRetries     = 3
	DefaultStatusBytes = 4
)

// DefaultTimeouts are the waits used when a descriptor leaves a field unset.
var DefaultTimeouts = Timeouts{
	Command: 500 * time.Millisecond,
	Sync:    200 * time.Millisecond,
	Erase:   5 * time.Second,
	Write:   2 * time.Second,
	Verify:  10 * time.Second,
	Settle:  time.Millisecond,
	Flush:   100 * time.Millisecond,
	Retry:   50 * time.Millisecond,
}

// WithDefaults returns a copy of d with zero fields filled in.
func (d Descriptor) WithDefaults() Descriptor {
	if d.BaudRate == 0 {
		d.BaudRate = DefaultBaudRate
	}
	if d.Retries == 0 {
		d.Retries = DefaultRetries
	}
	if d.CopyAck == "" {
		d.CopyAck = AckBestEffort
	}
	if d.Family == FamilyEspTool && d.StatusBytes == 0 {
		d.StatusBytes = DefaultStatusBytes
	}
	if d.PageSize == 0 {
		switch d.Family {
		case FamilySTK500:
			d.PageSize = 128
		case FamilyEspTool:
			d.PageSize = 0x400
		default:
			d.PageSize = 4096
		}
	}

	t := &d.Timeouts
	def := DefaultTimeouts
	fill := func(v *time.Duration, dv time.Duration) {
		if *v == 0 {
			*v = dv
		}
	}
	fill(&t.Command, def.Command)
	fill(&t.Sync, def.Sync)
	fill(&t.Erase, def.Erase)
	fill(&t.Write, def.Write)
	fill(&t.Verify, def.Verify)
	fill(&t.Settle, def.Settle)
	fill(&t.Flush, def.Flush)
	fill(&t.Retry, def.Retry)
	return d
}

// Validate checks the fields every engine relies on. The family is left to
// the strategy selector so unknown protocols fail with their own error.
func (d Descriptor) Validate() error {
	if d.PageSize <= 0 {
		return fmt.Errorf("board %q: page_size must be positive, got %d", d.Name, d.PageSize)
	}
	if d.BaudRate <= 0 {
		return fmt.Errorf("board %q: baud_rate must be positive, got %d", d.Name, d.BaudRate)
	}
	if d.Retries < 0 {
		return fmt.Errorf("board %q: retries must not be negative", d.Name)
	}
	switch d.CopyAck {
	case AckRequired, AckBestEffort:
	default:
		return fmt.Errorf("board %q: copy_ack must be %q or %q, got %q",
			d.Name, AckRequired, AckBestEffort, d.CopyAck)
	}
	if d.Family == FamilySamBa && d.SRAMBuffer == 0 {
		return fmt.Errorf("board %q: sam-ba boards need sram_buffer", d.Name)
	}
	if d.Family == FamilyEspTool && d.StatusBytes != 2 && d.StatusBytes != 4 {
		return fmt.Errorf("board %q: status_bytes must be 2 or 4, got %d", d.Name, d.StatusBytes)
	}
	return nil
}
