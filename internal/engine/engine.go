// Package engine holds what the bootloader protocol engines share: the
// capability interface the upload orchestrator drives, the exchange journal,
// bounded serial I/O helpers and the error taxonomy.
package engine

import (
	"context"
	"fmt"

	"github.com/bigbag/boardflash/internal/board"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/bigbag/boardflash/internal/engine Engine

// VerifyMode says when an engine wants its Verify step called.
type VerifyMode int

const (
	// VerifyOnce verifies the whole image after every chunk is programmed.
	VerifyOnce VerifyMode = iota
	// VerifyPerChunk verifies each chunk right after programming it.
	VerifyPerChunk
)

func (m VerifyMode) String() string {
	switch m {
	case VerifyOnce:
		return "once"
	case VerifyPerChunk:
		return "per-chunk"
	default:
		return fmt.Sprintf("VerifyMode(%d)", int(m))
	}
}

// Chunk is a slice of the firmware image bound for one flash address.
type Chunk struct {
	Index   int
	Address uint32
	Data    []byte
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d @0x%08X (%d bytes)", c.Index, c.Address, len(c.Data))
}

// Engine is one bootloader protocol. Every method performs bounded I/O on the
// channel the engine was built with; none of them block indefinitely.
type Engine interface {
	// Family reports which protocol this engine speaks.
	Family() board.Family
	// VerifyMode reports when Verify should be called.
	VerifyMode() VerifyMode
	// Handshake synchronises with the bootloader.
	Handshake(ctx context.Context) error
	// Erase prepares size bytes of flash starting at addr.
	Erase(ctx context.Context, addr uint32, size int) error
	// Program writes one chunk to flash.
	Program(ctx context.Context, c Chunk) error
	// Verify checks that flash at addr holds data.
	Verify(ctx context.Context, addr uint32, data []byte) error
	// Finalize ends the programming session.
	Finalize(ctx context.Context) error
	// Execute starts the uploaded application. No acknowledgement is required.
	Execute(ctx context.Context) error
	// Reset is a best-effort restart used when an upload is abandoned.
	Reset(ctx context.Context) error
}
