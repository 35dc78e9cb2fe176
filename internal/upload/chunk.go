package upload

import (
	"github.com/bigbag/boardflash/internal/engine"
	"github.com/bigbag/boardflash/internal/firmware"
)

// Split cuts img into page-sized chunks starting at base, in ascending
// address order. The last chunk holds the remainder, or a full page when the
// size divides evenly.
func Split(img *firmware.Image, base uint32, page int) []engine.Chunk {
	if page <= 0 || img.Len() == 0 {
		return nil
	}
	chunks := make([]engine.Chunk, 0, (img.Len()+page-1)/page)
	for off := 0; off < img.Len(); off += page {
		chunks = append(chunks, engine.Chunk{
			Index:   len(chunks),
			Address: base + uint32(off),
			Data:    img.Slice(off, page),
		})
	}
	return chunks
}
