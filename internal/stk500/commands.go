package stk500

// STK500v1 protocol bytes as implemented by Optiboot and ATmegaBOOT.
const (
	RespOK     = 0x10
	RespFailed = 0x11
	RespInSync = 0x14
	RespNoSync = 0x15
	SyncCRCEOP = 0x20

	CmdGetSync       = 0x30
	CmdEnterProgMode = 0x50
	CmdLeaveProgMode = 0x51
	CmdChipErase     = 0x52
	CmdLoadAddress   = 0x55
	CmdProgPage      = 0x64
	CmdReadPage      = 0x74
	CmdReadSign      = 0x75

	// MemFlash selects flash in PROG_PAGE and READ_PAGE.
	MemFlash = 'F'

	// MaxFlashAddress is the first byte address a 16-bit word address cannot reach.
	MaxFlashAddress = 128 << 10
)

// OK is the two-byte success answer.
var OK = []byte{RespInSync, RespOK}

// GetSync builds GET_SYNC.
func GetSync() []byte { return []byte{CmdGetSync, SyncCRCEOP} }

// ReadSignature builds READ_SIGN.
func ReadSignature() []byte { return []byte{CmdReadSign, SyncCRCEOP} }

// EnterProgMode builds ENTER_PROGMODE.
func EnterProgMode() []byte { return []byte{CmdEnterProgMode, SyncCRCEOP} }

// LeaveProgMode builds LEAVE_PROGMODE.
func LeaveProgMode() []byte { return []byte{CmdLeaveProgMode, SyncCRCEOP} }

// ChipErase builds CHIP_ERASE.
func ChipErase() []byte { return []byte{CmdChipErase, SyncCRCEOP} }

// LoadAddress builds LOAD_ADDRESS for a flash byte address. The wire carries
// the word address, low byte first.
func LoadAddress(addr uint32) []byte {
	w := addr >> 1
	return []byte{CmdLoadAddress, byte(w), byte(w >> 8), SyncCRCEOP}
}

// ProgPage builds PROG_PAGE for flash. The length is big-endian.
func ProgPage(data []byte) []byte {
	n := len(data)
	out := make([]byte, 0, n+5)
	out = append(out, CmdProgPage, byte(n>>8), byte(n), MemFlash)
	out = append(out, data...)
	return append(out, SyncCRCEOP)
}

// ReadPage builds READ_PAGE for n bytes of flash.
func ReadPage(n int) []byte {
	return []byte{CmdReadPage, byte(n >> 8), byte(n), MemFlash, SyncCRCEOP}
}

// Signature is the three device signature bytes.
type Signature [3]byte

// Name returns the part name for signatures seen on Arduino boards.
func (s Signature) Name() string {
	switch s {
	case Signature{0x1E, 0x95, 0x0F}:
		return "ATmega328P"
	case Signature{0x1E, 0x95, 0x14}:
		return "ATmega328"
	case Signature{0x1E, 0x94, 0x06}:
		return "ATmega168"
	case Signature{0x1E, 0x98, 0x01}:
		return "ATmega2560"
	case Signature{0x1E, 0x95, 0x87}:
		return "ATmega32U4"
	default:
		return "unknown"
	}
}
