// Package slip implements SLIP (RFC 1055) byte stuffing as used by the ESP ROM loader.
package slip

import "errors"

const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

var (
	// ErrBadEscape is returned for an escape byte followed by anything but EscEnd/EscEsc.
	ErrBadEscape = errors.New("slip: invalid escape sequence")
	// ErrTruncated is returned when a frame ends in the middle of an escape sequence.
	ErrTruncated = errors.New("slip: frame ends inside escape sequence")
)

// Encode wraps data in SLIP framing.
// Adds END byte at start and end, escapes special bytes.
func Encode(data []byte) []byte {
	result := make([]byte, 0, len(data)+len(data)/8+2)
	result = append(result, End)

	for _, b := range data {
		switch b {
		case End:
			result = append(result, Esc, EscEnd)
		case Esc:
			result = append(result, Esc, EscEsc)
		default:
			result = append(result, b)
		}
	}

	return append(result, End)
}

// Decode extracts the payload of one SLIP frame.
// Leading and trailing END bytes are stripped; a frame of only END bytes
// decodes to an empty payload.
func Decode(frame []byte) ([]byte, error) {
	start, end := 0, len(frame)
	for start < end && frame[start] == End {
		start++
	}
	for end > start && frame[end-1] == End {
		end--
	}
	data := frame[start:end]
	result := make([]byte, 0, len(data))

	for i := 0; i < len(data); i++ {
		if data[i] != Esc {
			result = append(result, data[i])
			continue
		}
		if i+1 >= len(data) {
			return nil, ErrTruncated
		}
		i++
		switch data[i] {
		case EscEnd:
			result = append(result, End)
		case EscEsc:
			result = append(result, Esc)
		default:
			return nil, ErrBadEscape
		}
	}

	return result, nil
}

// ReadFrame reads a complete SLIP frame from a byte stream.
// Returns the frame (including END delimiters) and remaining bytes.
// Bytes before the first END are noise and are skipped.
func ReadFrame(data []byte) (frame []byte, remaining []byte) {
	start := -1
	for i, b := range data {
		if b == End {
			start = i
			break
		}
	}

	if start == -1 {
		return nil, data
	}

	inFrame := false
	for i := start; i < len(data); i++ {
		if data[i] == End {
			if inFrame {
				return data[start : i+1], data[i+1:]
			}
			// Back-to-back END bytes: the frame starts at the last one.
			start = i
		} else {
			inFrame = true
		}
	}

	// Frame not complete yet
	return nil, data
}
