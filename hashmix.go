package flowsentry

import "math/bits"

// Three-register avalanche mixing used for structural hashing of rule
// options. Deterministic across runs and allocation addresses, cheap enough
// to call on every rule-tree build.

const mixSeed uint32 = 0x9e3779b9

func mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= bits.RotateLeft32(c, 4)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 6)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 8)
	b += a
	a -= c
	a ^= bits.RotateLeft32(c, 16)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 19)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 4)
	b += a
	return a, b, c
}

func finalMix(a, b, c uint32) uint32 {
	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return c
}

// mixString folds s into the three registers four bytes at a time, mixing
// after every block so ordering matters.
func mixString(a, b, c uint32, s string) (uint32, uint32, uint32) {
	i := 0
	for ; i+4 <= len(s); i += 4 {
		a += uint32(s[i]) | uint32(s[i+1])<<8 | uint32(s[i+2])<<16 | uint32(s[i+3])<<24
		a, b, c = mix(a, b, c)
	}
	var tail uint32
	for j := i; j < len(s); j++ {
		tail |= uint32(s[j]) << (8 * uint(j-i))
	}
	b += tail
	c += uint32(len(s))
	return mix(a, b, c)
}
