// Package firmware holds the read-only image an upload pushes to a board.
package firmware

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
)

// Image is an immutable byte sequence. Origin is the load address recorded in
// the source file, when the format carries one.
type Image struct {
	data      []byte
	origin    uint32
	hasOrigin bool
}

// New copies data into a new Image.
func New(data []byte) *Image {
	return &Image{data: append([]byte(nil), data...)}
}

// Len returns the image size in bytes.
func (img *Image) Len() int {
	return len(img.data)
}

// Slice returns img[off:off+n] clamped to the image. The slice is capacity
// limited so appends by the caller cannot reach the rest of the image.
func (img *Image) Slice(off, n int) []byte {
	if off < 0 || off > len(img.data) {
		return nil
	}
	end := off + n
	if end > len(img.data) {
		end = len(img.data)
	}
	return img.data[off:end:end]
}

// Bytes returns a copy of the whole image.
func (img *Image) Bytes() []byte {
	return append([]byte(nil), img.data...)
}

// Origin returns the load address from the source file, if any.
func (img *Image) Origin() (uint32, bool) {
	return img.origin, img.hasOrigin
}

// Load reads an image from path, choosing the decoder by file extension:
// .hex/.ihex for Intel HEX, .uf2 for UF2, anything else as raw binary.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open firmware: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return ReadHex(f)
	case ".uf2":
		return ReadUF2(f)
	default:
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read firmware: %w", err)
		}
		return New(data), nil
	}
}

// ReadHex decodes Intel HEX. Gaps between segments are filled with 0xFF,
// the erased-flash value.
func ReadHex(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("failed to parse Intel HEX: %w", err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, fmt.Errorf("Intel HEX file has no data")
	}

	start := segments[0].Address
	last := segments[len(segments)-1]
	end := last.Address + uint32(len(last.Data))

	var data []byte
	if len(segments) == 1 {
		data = segments[0].Data
	} else {
		data = mem.ToBinary(start, end-start, 0xFF)
	}

	img := New(data)
	img.origin, img.hasOrigin = start, true
	return img, nil
}

// readAll is a small helper for decoders that need the whole input.
func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
