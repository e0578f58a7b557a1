package protocol

// Checksum computes CRC16/MODBUS: polynomial 0xA001 (reflected 0x8005),
// init 0xFFFF, LSB-first, no final XOR.
func Checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			lsb := crc & 0x0001
			crc >>= 1
			if lsb != 0 {
				crc ^= 0xA001
			}
		}
	}
	return crc
}

// cryptBytes XORs data with the repeating two-byte keystream derived from
// key. The operation is symmetric: applying it twice yields the input.
func cryptBytes(data []byte, key uint16) []byte {
	keystream := [2]byte{byte(key), byte(key >> 8)}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ keystream[i%2]
	}
	return out
}
