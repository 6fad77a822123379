package tag

import "github.com/pkg/errors"

// sixBitAlphabet is the 64-symbol six-bit ASCII table used by BR tags.
var sixBitAlphabet = []rune(
	"@ABCDEFGHIJKLMNO" +
		"PQRSTUVWXYZ[\\]^-" +
		" !\"#$%&'()*+,-./" +
		"0123456789:;<=>?",
)

var sixBitIndex = func() map[rune]byte {
	m := make(map[rune]byte, len(sixBitAlphabet))
	for i, r := range sixBitAlphabet {
		m[r] = byte(i)
	}
	return m
}()

// sixBitEncodeChar maps a single character to its six-bit symbol value.
func sixBitEncodeChar(c rune) (byte, error) {
	v, ok := sixBitIndex[c]
	if !ok {
		return 0, errors.Errorf("character %q not in six-bit ASCII alphabet", c)
	}
	return v, nil
}

// sixBitDecodeChar maps a six-bit symbol value back to its character.
func sixBitDecodeChar(b byte) (rune, error) {
	idx := int(b)
	if idx >= len(sixBitAlphabet) {
		return 0, errors.Errorf("symbol value 0x%02X not in six-bit ASCII alphabet", b)
	}
	return sixBitAlphabet[idx], nil
}

// sixBitEncode packs a string into six-bit-ASCII bytes, four symbols at a
// time into three bytes; a short trailing group is zero-padded at the
// symbol level.
func sixBitEncode(s string) ([]byte, error) {
	runes := []rune(s)
	n := len(runes)
	// ceil(3n/4): four six-bit symbols pack into three bytes.
	encodedLen := (3*n + 3) / 4
	out := make([]byte, encodedLen)

	for i := 0; i < n; i += 4 {
		var syms [4]byte
		for j := 0; j < 4; j++ {
			if i+j < n {
				v, err := sixBitEncodeChar(runes[i+j])
				if err != nil {
					return nil, err
				}
				syms[j] = v
			}
		}
		target := (i / 4) * 3
		out[target] = (syms[0] & 0x3F) << 2
		out[target] |= (syms[1] & 0x3F) >> 4
		if target+1 < len(out) {
			out[target+1] = (syms[1] & 0x3F) << 4
			out[target+1] |= (syms[2] & 0x3F) >> 2
		}
		if target+2 < len(out) {
			out[target+2] = (syms[2] & 0x3F) << 6
			out[target+2] |= syms[3] & 0x3F
		}
	}
	return out, nil
}

// sixBitDecode unpacks six-bit-ASCII bytes back into a string. Symbol value
// 0 is treated as padding and skipped, matching the source behavior.
func sixBitDecode(b []byte) (string, error) {
	bits := make([]byte, 0, len(b)*8)
	for _, by := range b {
		for i := 7; i >= 0; i-- {
			bits = append(bits, (by>>i)&1)
		}
	}

	var sb []rune
	for i := 0; i+6 <= len(bits); i += 6 {
		var v byte
		for j := 0; j < 6; j++ {
			v = (v << 1) | bits[i+j]
		}
		if v == 0 {
			continue
		}
		c, err := sixBitDecodeChar(v)
		if err != nil {
			return "", err
		}
		sb = append(sb, c)
	}
	return string(sb), nil
}
