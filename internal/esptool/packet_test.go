package esptool

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/bigbag/boardflash/internal/slip"
)

func TestNewRequest_Checksum_EmptyData(t *testing.T) {
	req := NewRequest(CmdSync, nil)
	// Checksum with no data should be 0xEF (initial value)
	if req.Checksum != 0xEF {
		t.Errorf("NewRequest checksum with empty data = 0x%X, want 0xEF", req.Checksum)
	}
}

func TestNewRequest_Checksum_SyncData(t *testing.T) {
	syncData := SyncData()
	req := NewRequest(CmdSync, syncData)

	var expected byte = 0xEF
	for _, b := range syncData {
		expected ^= b
	}
	if req.Checksum != uint32(expected) {
		t.Errorf("NewRequest checksum for SyncData = 0x%X, want 0x%X", req.Checksum, expected)
	}
}

func TestNewRequest_Checksum_FlashDataSkipsHeader(t *testing.T) {
	block := []byte{0x01, 0x02, 0x04}
	payload := FlashDataData(block, 9, 4)
	req := NewRequest(CmdFlashData, payload)

	// 0xEF ^ 0x01 ^ 0x02 ^ 0x04 ^ 0xFF (padding)
	expected := byte(0xEF) ^ 0x01 ^ 0x02 ^ 0x04 ^ 0xFF
	if req.Checksum != uint32(expected) {
		t.Errorf("NewRequest(FLASH_DATA) checksum = 0x%X, want 0x%X", req.Checksum, expected)
	}
}

func TestRequest_Encode_Format(t *testing.T) {
	data := []byte{0xAA, 0xBB}
	req := NewRequest(CmdSync, data)
	encoded := req.Encode()

	if len(encoded) != 8+len(data) {
		t.Fatalf("Encode() length = %d, want %d", len(encoded), 8+len(data))
	}
	if encoded[0] != DirRequest {
		t.Errorf("Encode()[0] direction = 0x%02X, want 0x%02X", encoded[0], DirRequest)
	}
	if encoded[1] != CmdSync {
		t.Errorf("Encode()[1] command = 0x%02X, want 0x%02X", encoded[1], CmdSync)
	}
	if n := binary.LittleEndian.Uint16(encoded[2:4]); n != uint16(len(data)) {
		t.Errorf("Encode() data length = %d, want %d", n, len(data))
	}
	if sum := binary.LittleEndian.Uint32(encoded[4:8]); sum != req.Checksum {
		t.Errorf("Encode() checksum = 0x%X, want 0x%X", sum, req.Checksum)
	}
	if !bytes.Equal(encoded[8:], data) {
		t.Errorf("Encode() data = %v, want %v", encoded[8:], data)
	}
}

func TestRequest_Frame(t *testing.T) {
	// 0xC0 in the payload must be escaped on the wire.
	req := NewRequest(CmdSync, []byte{0xC0})
	frame := req.Frame()

	if frame[0] != slip.End || frame[len(frame)-1] != slip.End {
		t.Fatalf("Frame() = % X, want END delimiters", frame)
	}
	if bytes.Count(frame, []byte{slip.End}) != 2 {
		t.Errorf("Frame() = % X, want payload END escaped", frame)
	}
	decoded, err := slip.Decode(frame)
	if err != nil {
		t.Fatalf("slip.Decode(Frame()) error = %v", err)
	}
	if !bytes.Equal(decoded, req.Encode()) {
		t.Errorf("slip.Decode(Frame()) = % X, want % X", decoded, req.Encode())
	}
}

func TestDecodeRequest_RoundTrip(t *testing.T) {
	req := NewRequest(CmdFlashData, FlashDataData([]byte{1, 2, 3}, 4, 8))
	got, err := DecodeRequest(req.Encode())
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if got.Command != req.Command || got.Checksum != req.Checksum || !bytes.Equal(got.Data, req.Data) {
		t.Errorf("DecodeRequest() = %+v, want %+v", got, req)
	}
}

func TestDecodeRequest_Errors(t *testing.T) {
	good := NewRequest(CmdFlashData, FlashDataData([]byte{1, 2, 3}, 0, 4)).Encode()

	badSum := append([]byte(nil), good...)
	badSum[len(badSum)-1] ^= 0x10

	badDir := append([]byte(nil), good...)
	badDir[0] = DirResponse

	badLen := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(badLen[2:4], 3)

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"short", good[:5], "too short"},
		{"checksum", badSum, "checksum mismatch"},
		{"direction", badDir, "invalid direction"},
		{"length", badLen, "size mismatch"},
	}
	for _, tc := range tests {
		_, err := DecodeRequest(tc.data)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("DecodeRequest(%s) error = %v, want containing %q", tc.name, err, tc.want)
		}
	}
}

func TestDecodeResponse_Valid(t *testing.T) {
	resp := make([]byte, 12)
	resp[0] = DirResponse
	resp[1] = CmdSync
	binary.LittleEndian.PutUint16(resp[2:4], 4)
	binary.LittleEndian.PutUint32(resp[4:8], 0x12345678)

	decoded, err := DecodeResponse(resp, 4)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if decoded.Command != CmdSync {
		t.Errorf("DecodeResponse Command = 0x%02X, want 0x%02X", decoded.Command, CmdSync)
	}
	if decoded.Value != 0x12345678 {
		t.Errorf("DecodeResponse Value = 0x%X, want 0x12345678", decoded.Value)
	}
	if !decoded.IsSuccess() {
		t.Errorf("DecodeResponse IsSuccess = false, want true")
	}
}

func TestDecodeResponse_StatusTrailer(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		statusLen int
		status    byte
		code      byte
		payload   int
	}{
		{
			name:      "rom failure",
			data:      []byte{0x01, 0x03, 0x04, 0x00, 0, 0, 0, 0, 0x01, ErrFlashWriteErr, 0x00, 0x00},
			statusLen: 4,
			status:    1,
			code:      ErrFlashWriteErr,
		},
		{
			name:      "rom success",
			data:      []byte{0x01, 0x02, 0x04, 0x00, 0, 0, 0, 0, 0x00, 0x00, 0x00, 0x00},
			statusLen: 4,
		},
		{
			name:      "stub failure",
			data:      []byte{0x01, 0x03, 0x02, 0x00, 0, 0, 0, 0, 0x01, ErrInvalidCRC},
			statusLen: 2,
			status:    1,
			code:      ErrInvalidCRC,
		},
		{
			name:      "rom md5",
			data:      append(append([]byte{0x01, 0x13, 0x24, 0x00, 0, 0, 0, 0}, bytes.Repeat([]byte{'a'}, 32)...), 0, 0, 0, 0),
			statusLen: 4,
			payload:   32,
		},
	}
	for _, tc := range tests {
		resp, err := DecodeResponse(tc.data, tc.statusLen)
		if err != nil {
			t.Fatalf("%s: DecodeResponse() error = %v", tc.name, err)
		}
		if resp.Status != tc.status || resp.Error != tc.code {
			t.Errorf("%s: status=0x%02X error=0x%02X, want 0x%02X 0x%02X", tc.name, resp.Status, resp.Error, tc.status, tc.code)
		}
		if resp.IsSuccess() != (tc.status == 0 && tc.code == 0) {
			t.Errorf("%s: IsSuccess() = %v", tc.name, resp.IsSuccess())
		}
		if len(resp.Data) != tc.payload {
			t.Errorf("%s: %d data bytes, want %d", tc.name, len(resp.Data), tc.payload)
		}
	}
}

func TestResponse_EncodeDecode(t *testing.T) {
	in := &Response{Command: CmdSpiFlashMD5, Data: []byte("0123456789abcdef"), Value: 7, Status: 1, Error: ErrFlashReadErr}
	for _, n := range []int{2, 4} {
		encoded := in.Encode(n)
		if len(encoded) != headerSize+len(in.Data)+n {
			t.Errorf("Encode(%d) = %d bytes, want %d", n, len(encoded), headerSize+len(in.Data)+n)
		}
		out, err := DecodeResponse(encoded, n)
		if err != nil {
			t.Fatalf("DecodeResponse(Encode(%d)) error = %v", n, err)
		}
		if out.Command != in.Command || out.Value != in.Value || out.Status != in.Status ||
			out.Error != in.Error || !bytes.Equal(out.Data, in.Data) {
			t.Errorf("DecodeResponse(Encode(%d)) = %+v, want %+v", n, out, in)
		}
	}
}

func TestDecodeResponse_TooShort(t *testing.T) {
	for _, resp := range [][]byte{nil, {}, {DirResponse}, make([]byte, 11)} {
		if _, err := DecodeResponse(resp, 4); err == nil {
			t.Errorf("DecodeResponse(%v) expected error, got nil", resp)
		}
	}

	// Enough bytes on the wire, but the declared body cannot hold the status.
	short := make([]byte, 12)
	short[0] = DirResponse
	binary.LittleEndian.PutUint16(short[2:4], 2)
	if _, err := DecodeResponse(short, 4); err == nil {
		t.Errorf("DecodeResponse(2-byte body, 4) expected error, got nil")
	}
}

func TestDecodeResponse_InvalidDirection(t *testing.T) {
	resp := make([]byte, 12)
	resp[0] = DirRequest
	resp[1] = CmdSync
	binary.LittleEndian.PutUint16(resp[2:4], 4)

	_, err := DecodeResponse(resp, 4)
	if err == nil || !strings.Contains(err.Error(), "invalid direction") {
		t.Errorf("DecodeResponse error = %v, want error containing 'invalid direction'", err)
	}
}

func TestDecodeResponse_DataSizeMismatch(t *testing.T) {
	resp := make([]byte, 12)
	resp[0] = DirResponse
	resp[1] = CmdSync
	binary.LittleEndian.PutUint16(resp[2:4], 100)

	_, err := DecodeResponse(resp, 4)
	if err == nil || !strings.Contains(err.Error(), "size mismatch") {
		t.Errorf("DecodeResponse error = %v, want error containing 'size mismatch'", err)
	}
}

func TestResponse_ErrorString(t *testing.T) {
	if s := (&Response{}).ErrorString(); s != "" {
		t.Errorf("ErrorString() for success = %q, want empty", s)
	}

	result := (&Response{Status: 1, Error: ErrInvalidCRC}).ErrorString()
	for _, want := range []string{"0x01", "0x07", "invalid CRC"} {
		if !strings.Contains(result, want) {
			t.Errorf("ErrorString() = %q, should contain %q", result, want)
		}
	}
}
