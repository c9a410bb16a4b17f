package solana

import "errors"

// ErrShortvecOverflow is returned when a shortvec prefix does not
// terminate within three bytes.
var ErrShortvecOverflow = errors.New("solana: shortvec length overflow")

// AppendShortvec appends the compact-u16 encoding of v: 7 bits per byte,
// little-endian, high bit set on continuation bytes. The uint16 parameter
// bounds the encoder to the protocol's 0xffff maximum; callers validate
// lengths before converting.
func AppendShortvec(dst []byte, v uint16) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// DecodeShortvec decodes a compact-u16 prefix and returns the value and
// the number of bytes consumed.
func DecodeShortvec(src []byte) (int, int, error) {
	var value, shift uint
	for i := 0; i < 3 && i < len(src); i++ {
		b := src[i]
		value |= uint(b&0x7f) << shift
		if b&0x80 == 0 {
			if value > 0xffff {
				return 0, 0, ErrShortvecOverflow
			}
			return int(value), i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrShortvecOverflow
}
