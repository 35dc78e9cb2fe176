// Package checksum holds the checksums shared by the bootloader engines.
package checksum

// CRC16 parameters match the SAM-BA/BOSSA device-side CRC: CCITT polynomial,
// zero initial value, no reflection, no final XOR (CRC-16/XMODEM).
const (
	CRC16Polynomial = 0x1021
	CRC16Initial    = 0x0000
)

// ESPSeed is the initial value of the ESP ROM loader's XOR checksum.
const ESPSeed = 0xEF

var crc16Table = makeCRC16Table(CRC16Polynomial)

func makeCRC16Table(poly uint16) [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC16 computes the CRC over data.
func CRC16(data []byte) uint16 {
	return UpdateCRC16(CRC16Initial, data)
}

// UpdateCRC16 continues a CRC computation with more data.
func UpdateCRC16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// XOR8 returns the ESP ROM loader payload checksum: every byte XORed into ESPSeed.
func XOR8(data []byte) byte {
	sum := byte(ESPSeed)
	for _, b := range data {
		sum ^= b
	}
	return sum
}
