package tap

// Bit streams on the JTAG wire are packed LSB-first: bit i lives in byte i/8
// at position i%8.

// Bit reports bit i of an LSB-first packed stream.
func Bit(buf []byte, i int) bool {
	return buf[i/8]&(1<<(uint(i)%8)) != 0
}

// SetBit sets or clears bit i of an LSB-first packed stream.
func SetBit(buf []byte, i int, v bool) {
	if v {
		buf[i/8] |= 1 << (uint(i) % 8)
	} else {
		buf[i/8] &^= 1 << (uint(i) % 8)
	}
}

// ByteLen returns the number of bytes needed to hold bits.
func ByteLen(bits int) int {
	return (bits + 7) / 8
}

// PackBits converts a bool slice into an LSB-first packed stream.
func PackBits(bits []bool) []byte {
	if len(bits) == 0 {
		return nil
	}
	buf := make([]byte, ByteLen(len(bits)))
	for i, bit := range bits {
		if bit {
			buf[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return buf
}

// UnpackBits expands the first n bits of an LSB-first packed stream.
func UnpackBits(buf []byte, n int) []bool {
	if n == 0 {
		return nil
	}
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = Bit(buf, i)
	}
	return out
}
