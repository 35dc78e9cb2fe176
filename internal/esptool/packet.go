package esptool

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bigbag/boardflash/internal/checksum"
	"github.com/bigbag/boardflash/internal/slip"
)

// headerSize is direction, command, length (LE16) and checksum/value (LE32).
const headerSize = 8

// Request represents an ESP ROM loader request packet.
type Request struct {
	Command  byte
	Data     []byte
	Checksum uint32
}

// Response represents an ESP ROM loader response packet.
type Response struct {
	Command byte
	Data    []byte
	Value   uint32
	Status  byte
	Error   byte
}

// NewRequest creates a request with its checksum filled in.
func NewRequest(cmd byte, data []byte) *Request {
	return &Request{
		Command:  cmd,
		Data:     data,
		Checksum: uint32(checksum.XOR8(checksummed(cmd, data))),
	}
}

// checksummed returns the part of the payload the checksum covers. Only the
// data commands are checked by the ROM; for them that is the block after the
// 16-byte data header.
func checksummed(cmd byte, data []byte) []byte {
	if cmd == CmdFlashData && len(data) >= dataHeaderSize {
		return data[dataHeaderSize:]
	}
	return data
}

// Encode serializes the request to bytes (before SLIP encoding).
func (r *Request) Encode() []byte {
	packet := make([]byte, headerSize+len(r.Data))
	packet[0] = DirRequest
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(r.Data)))
	binary.LittleEndian.PutUint32(packet[4:8], r.Checksum)
	copy(packet[headerSize:], r.Data)
	return packet
}

// Frame returns the SLIP-framed request ready for the wire.
func (r *Request) Frame() []byte {
	return slip.Encode(r.Encode())
}

// DecodeRequest parses a request packet and checks its checksum.
func DecodeRequest(data []byte) (*Request, error) {
	if len(data) < headerSize {
		return nil, errors.Errorf("request too short: %d bytes", len(data))
	}
	if data[0] != DirRequest {
		return nil, errors.Errorf("invalid direction byte: 0x%02X", data[0])
	}
	size := int(binary.LittleEndian.Uint16(data[2:4]))
	if size != len(data)-headerSize {
		return nil, errors.Errorf("data size mismatch: header says %d, have %d", size, len(data)-headerSize)
	}
	req := NewRequest(data[1], data[headerSize:])
	if got := binary.LittleEndian.Uint32(data[4:8]); got != req.Checksum {
		return nil, errors.Errorf("checksum mismatch: packet has 0x%02X, payload sums to 0x%02X", got, req.Checksum)
	}
	return req, nil
}

// DecodeResponse parses a response from raw bytes (after SLIP decoding).
// The body ends with a statusLen-byte trailer that starts with the status
// and error bytes; the ESP32 ROMs pad it with two zeros.
func DecodeResponse(data []byte, statusLen int) (*Response, error) {
	if statusLen < 2 {
		return nil, errors.Errorf("status length %d too short", statusLen)
	}
	if len(data) < headerSize+statusLen {
		return nil, errors.Errorf("response too short: %d bytes", len(data))
	}
	if data[0] != DirResponse {
		return nil, errors.Errorf("invalid direction byte: 0x%02X", data[0])
	}

	resp := &Response{
		Command: data[1],
		Value:   binary.LittleEndian.Uint32(data[4:8]),
	}

	dataSize := int(binary.LittleEndian.Uint16(data[2:4]))
	if dataSize > len(data)-headerSize {
		return nil, errors.Errorf("data size mismatch: expected %d, have %d", dataSize, len(data)-headerSize)
	}
	if dataSize < statusLen {
		return nil, errors.Errorf("response body %d bytes, want at least %d status bytes", dataSize, statusLen)
	}

	body := data[headerSize : headerSize+dataSize]
	trailer := body[dataSize-statusLen:]
	resp.Data = body[:dataSize-statusLen]
	resp.Status = trailer[0]
	resp.Error = trailer[1]
	return resp, nil
}

// Encode serializes the response to bytes (before SLIP encoding) with a
// statusLen-byte status trailer.
func (r *Response) Encode(statusLen int) []byte {
	trailer := make([]byte, statusLen)
	trailer[0], trailer[1] = r.Status, r.Error
	body := append(append([]byte(nil), r.Data...), trailer...)
	packet := make([]byte, headerSize+len(body))
	packet[0] = DirResponse
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(body)))
	binary.LittleEndian.PutUint32(packet[4:8], r.Value)
	copy(packet[headerSize:], body)
	return packet
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status == 0 && r.Error == 0
}

// ErrorString returns a human-readable error message.
func (r *Response) ErrorString() string {
	if r.IsSuccess() {
		return ""
	}
	return fmt.Sprintf("status=0x%02X error=0x%02X (%s)", r.Status, r.Error, ErrorMessage(r.Error))
}
