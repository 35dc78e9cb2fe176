package firmware

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

const (
	uf2BlockSize    = 512
	uf2Magic0       = 0x0A324655
	uf2Magic1       = 0x9E5D5157
	uf2MagicEnd     = 0x0AB16F30
	uf2NotMainFlash = 0x00000001
	uf2MaxPayload   = 476
)

type uf2Block struct {
	addr uint32
	data []byte
}

// ReadUF2 reassembles the main-flash payload of a UF2 file into a flat image
// starting at the lowest target address. Holes are filled with 0xFF.
func ReadUF2(r io.Reader) (*Image, error) {
	raw, err := readAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read UF2: %w", err)
	}
	if len(raw) == 0 || len(raw)%uf2BlockSize != 0 {
		return nil, fmt.Errorf("UF2 size %d is not a multiple of %d", len(raw), uf2BlockSize)
	}

	var blocks []uf2Block
	for off := 0; off < len(raw); off += uf2BlockSize {
		b := raw[off : off+uf2BlockSize]
		le := binary.LittleEndian
		if le.Uint32(b[0:]) != uf2Magic0 || le.Uint32(b[4:]) != uf2Magic1 || le.Uint32(b[508:]) != uf2MagicEnd {
			return nil, fmt.Errorf("UF2 block %d: bad magic", off/uf2BlockSize)
		}
		if le.Uint32(b[8:])&uf2NotMainFlash != 0 {
			continue
		}
		size := le.Uint32(b[16:])
		if size > uf2MaxPayload {
			return nil, fmt.Errorf("UF2 block %d: payload size %d too large", off/uf2BlockSize, size)
		}
		blocks = append(blocks, uf2Block{addr: le.Uint32(b[12:]), data: b[32 : 32+size]})
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("UF2 file has no main-flash blocks")
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].addr < blocks[j].addr })
	start := blocks[0].addr
	var end uint32
	for _, b := range blocks {
		if e := b.addr + uint32(len(b.data)); e > end {
			end = e
		}
	}

	data := make([]byte, end-start)
	for i := range data {
		data[i] = 0xFF
	}
	for _, b := range blocks {
		copy(data[b.addr-start:], b.data)
	}

	img := New(data)
	img.origin, img.hasOrigin = start, true
	return img, nil
}
