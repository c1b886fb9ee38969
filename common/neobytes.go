package common

import "math/big"

// BigIntToNeoBytes returns the minimal little-endian two's complement form
// of x. Zero encodes as an empty slice.
func BigIntToNeoBytes(x *big.Int) []byte {
	switch x.Sign() {
	case 0:
		return []byte{}
	case 1:
		b := reverse(x.Bytes())
		if b[len(b)-1]&0x80 != 0 {
			b = append(b, 0x00)
		}
		return b
	}
	// -x-1 has the complemented magnitude bits of x
	y := new(big.Int).Not(x)
	b := reverse(y.Bytes())
	for i := range b {
		b[i] = ^b[i]
	}
	if len(b) == 0 || b[len(b)-1]&0x80 == 0 {
		b = append(b, 0xFF)
	}
	return b
}

// BigIntFromNeoBytes decodes little-endian two's complement bytes.
func BigIntFromNeoBytes(b []byte) *big.Int {
	if len(b) == 0 {
		return new(big.Int)
	}
	x := new(big.Int).SetBytes(reverse(b))
	if b[len(b)-1]&0x80 != 0 {
		x.Sub(x, new(big.Int).Lsh(big.NewInt(1), uint(len(b))*8))
	}
	return x
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}
