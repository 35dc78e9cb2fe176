package esptool

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// ESP ROM bootloader commands
const (
	CmdFlashBegin      = 0x02
	CmdFlashData       = 0x03
	CmdFlashEnd        = 0x04
	CmdSync            = 0x08
	CmdSpiAttach       = 0x0D
	CmdSpiFlashMD5     = 0x13
	CmdGetSecurityInfo = 0x14
)

// Direction byte values
const (
	DirRequest  = 0x00
	DirResponse = 0x01
)

// Flash parameters
const (
	FlashBlockSize  = 0x400  // 1KB blocks
	FlashSectorSize = 0x1000 // 4KB sectors

	// dataHeaderSize precedes the block in a FLASH_DATA payload.
	dataHeaderSize = 16
	// eraseTimePerMB scales the FLASH_BEGIN wait with the erased size.
	eraseTimePerMB = 10 * time.Second
)

// Chip IDs reported by GET_SECURITY_INFO.
const (
	ChipIDESP32C3 = 0x05
	ChipIDESP32S3 = 0x09
	ChipIDESP32C6 = 0x0D
)

// ChipName returns human-readable name for chip ID
func ChipName(id uint32) string {
	switch id {
	case ChipIDESP32C3:
		return "ESP32-C3"
	case ChipIDESP32S3:
		return "ESP32-S3"
	case ChipIDESP32C6:
		return "ESP32-C6"
	default:
		return "ESP32"
	}
}

// Error codes from ROM bootloader
const (
	ErrInvalidMessage  = 0x05
	ErrFailedToAct     = 0x06
	ErrInvalidCRC      = 0x07
	ErrFlashWriteErr   = 0x08
	ErrFlashReadErr    = 0x09
	ErrFlashReadLenErr = 0x0A
	ErrDeflateError    = 0x0B
)

// ErrorMessage returns human-readable error message
func ErrorMessage(code byte) string {
	switch code {
	case ErrInvalidMessage:
		return "invalid message"
	case ErrFailedToAct:
		return "failed to act"
	case ErrInvalidCRC:
		return "invalid CRC"
	case ErrFlashWriteErr:
		return "flash write error"
	case ErrFlashReadErr:
		return "flash read error"
	case ErrFlashReadLenErr:
		return "flash read length error"
	case ErrDeflateError:
		return "deflate error"
	default:
		return "unknown error"
	}
}

// SyncData returns the data payload for a SYNC command.
func SyncData() []byte {
	// SYNC payload: 0x07 0x07 0x12 0x20 followed by 32 bytes of 0x55
	data := make([]byte, 36)
	data[0] = 0x07
	data[1] = 0x07
	data[2] = 0x12
	data[3] = 0x20
	for i := 4; i < 36; i++ {
		data[i] = 0x55
	}
	return data
}

// FlashBeginData creates the data payload for FLASH_BEGIN command.
func FlashBeginData(size, numBlocks, blockSize, offset uint32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], size)
	binary.LittleEndian.PutUint32(data[4:8], numBlocks)
	binary.LittleEndian.PutUint32(data[8:12], blockSize)
	binary.LittleEndian.PutUint32(data[12:16], offset)
	return data
}

// FlashDataData creates the data payload for FLASH_DATA command. Blocks
// shorter than blockSize are padded with erased-flash bytes.
func FlashDataData(block []byte, seq uint32, blockSize int) []byte {
	n := len(block)
	if n < blockSize {
		n = blockSize
	}

	// Header: size (4) + seq (4) + reserved (8)
	payload := make([]byte, dataHeaderSize+n)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(n))
	binary.LittleEndian.PutUint32(payload[4:8], seq)
	copy(payload[dataHeaderSize:], block)
	for i := dataHeaderSize + len(block); i < len(payload); i++ {
		payload[i] = 0xFF
	}
	return payload
}

// FlashEndData creates the data payload for FLASH_END command.
func FlashEndData(reboot bool) []byte {
	data := make([]byte, 4)
	if !reboot {
		binary.LittleEndian.PutUint32(data, 1) // 1 = stay in bootloader
	}
	return data
}

// FlashMD5Data creates the data payload for SPI_FLASH_MD5 command.
func FlashMD5Data(address, size uint32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], address)
	binary.LittleEndian.PutUint32(data[4:8], size)
	return data
}

// SpiAttachData creates the data payload for SPI_ATTACH command.
func SpiAttachData() []byte {
	// All zeros selects the default SPI pin configuration.
	return make([]byte, 8)
}

// CalculateFlashBlocks returns how many blockSize blocks cover n bytes.
func CalculateFlashBlocks(n, blockSize int) uint32 {
	if n <= 0 {
		return 0
	}
	return uint32((n + blockSize - 1) / blockSize)
}

// CalculateEraseSize rounds n up to whole flash sectors.
func CalculateEraseSize(n int) uint32 {
	if n <= 0 {
		return 0
	}
	return uint32((n + FlashSectorSize - 1) / FlashSectorSize * FlashSectorSize)
}

// EraseTimeout is how long FLASH_BEGIN may take to erase size bytes. It never
// drops below base.
func EraseTimeout(size uint32, base time.Duration) time.Duration {
	t := time.Duration(int64(eraseTimePerMB) * int64(size) / (1 << 20))
	if t < base {
		return base
	}
	return t
}

const securityChipIDOffset = 12

// SecurityInfo is the part of the GET_SECURITY_INFO reply we use.
type SecurityInfo struct {
	ChipID uint32
}

// ParseSecurityInfo extracts the chip ID from a GET_SECURITY_INFO reply:
// flags (4), crypt count (1), key purposes (7), chip ID (4), api version (4).
func ParseSecurityInfo(data []byte) (*SecurityInfo, error) {
	if len(data) < securityChipIDOffset+4 {
		return nil, errors.Errorf("security info too short: %d bytes", len(data))
	}
	id := binary.LittleEndian.Uint32(data[securityChipIDOffset:])
	return &SecurityInfo{ChipID: id}, nil
}
