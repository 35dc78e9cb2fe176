package firmware

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_CopiesInput(t *testing.T) {
	src := []byte{1, 2, 3}
	img := New(src)
	src[0] = 9

	if got := img.Bytes(); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Bytes() = %v, want [1 2 3]", got)
	}
}

func TestSlice_Clamped(t *testing.T) {
	img := New([]byte{1, 2, 3, 4, 5})

	if got := img.Slice(3, 10); !bytes.Equal(got, []byte{4, 5}) {
		t.Errorf("Slice(3, 10) = %v, want [4 5]", got)
	}
	if got := img.Slice(6, 1); got != nil {
		t.Errorf("Slice(6, 1) = %v, want nil", got)
	}

	s := img.Slice(0, 2)
	s = append(s, 0xEE)
	if got := img.Bytes(); got[2] != 3 {
		t.Errorf("append to Slice() modified image: %v", got)
	}
}

func TestReadHex_SingleSegment(t *testing.T) {
	img, err := ReadHex(strings.NewReader(":0400000001020304F2\n:00000001FF\n"))
	if err != nil {
		t.Fatalf("ReadHex() error = %v", err)
	}
	if got := img.Bytes(); !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("ReadHex() data = %v, want [1 2 3 4]", got)
	}
	if origin, ok := img.Origin(); !ok || origin != 0 {
		t.Errorf("Origin() = 0x%X, %v; want 0x0, true", origin, ok)
	}
}

func TestReadHex_GapFilledWithErasedValue(t *testing.T) {
	hex := ":02000000AABB99\n:02000400CCDD51\n:00000001FF\n"
	img, err := ReadHex(strings.NewReader(hex))
	if err != nil {
		t.Fatalf("ReadHex() error = %v", err)
	}
	want := []byte{0xAA, 0xBB, 0xFF, 0xFF, 0xCC, 0xDD}
	if got := img.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("ReadHex() data = %X, want %X", got, want)
	}
}

func TestReadHex_Invalid(t *testing.T) {
	if _, err := ReadHex(strings.NewReader("not a hex file\n")); err == nil {
		t.Errorf("ReadHex(garbage) error = nil, want error")
	}
}

func makeUF2Block(addr uint32, flags uint32, payload []byte) []byte {
	b := make([]byte, uf2BlockSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], uf2Magic0)
	le.PutUint32(b[4:], uf2Magic1)
	le.PutUint32(b[8:], flags)
	le.PutUint32(b[12:], addr)
	le.PutUint32(b[16:], uint32(len(payload)))
	copy(b[32:], payload)
	le.PutUint32(b[508:], uf2MagicEnd)
	return b
}

func TestReadUF2_ReassemblesOutOfOrderBlocks(t *testing.T) {
	var raw []byte
	raw = append(raw, makeUF2Block(0x2100, 0, []byte{3, 4})...)
	raw = append(raw, makeUF2Block(0x2000, 0, []byte{1, 2})...)
	raw = append(raw, makeUF2Block(0x9000, uf2NotMainFlash, []byte{9})...)

	img, err := ReadUF2(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadUF2() error = %v", err)
	}
	if img.Len() != 0x102 {
		t.Fatalf("Len() = %d, want %d", img.Len(), 0x102)
	}
	data := img.Bytes()
	if data[0] != 1 || data[1] != 2 || data[0x100] != 3 || data[0x101] != 4 {
		t.Errorf("payload bytes misplaced: %v ... %v", data[:2], data[0x100:])
	}
	if data[2] != 0xFF {
		t.Errorf("hole byte = 0x%02X, want 0xFF", data[2])
	}
	if origin, _ := img.Origin(); origin != 0x2000 {
		t.Errorf("Origin() = 0x%X, want 0x2000", origin)
	}
}

func TestReadUF2_BadMagic(t *testing.T) {
	b := makeUF2Block(0, 0, []byte{1})
	b[0] = 0
	if _, err := ReadUF2(bytes.NewReader(b)); err == nil {
		t.Errorf("ReadUF2(bad magic) error = nil, want error")
	}
}

func TestLoad_DispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()

	bin := filepath.Join(dir, "app.bin")
	if err := os.WriteFile(bin, []byte{0xDE, 0xAD}, 0o644); err != nil {
		t.Fatal(err)
	}
	img, err := Load(bin)
	if err != nil {
		t.Fatalf("Load(bin) error = %v", err)
	}
	if _, ok := img.Origin(); ok {
		t.Errorf("raw binary reported an origin")
	}

	hex := filepath.Join(dir, "app.HEX")
	if err := os.WriteFile(hex, []byte(":0400000001020304F2\n:00000001FF\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	img, err = Load(hex)
	if err != nil {
		t.Fatalf("Load(hex) error = %v", err)
	}
	if img.Len() != 4 {
		t.Errorf("Load(hex) Len() = %d, want 4", img.Len())
	}
}
