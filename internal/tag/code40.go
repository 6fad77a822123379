package tag

import "github.com/pkg/errors"

// code40Alphabet is the 40-symbol URN Code40 alphabet, indices 0..39.
const code40Alphabet = " ABCDEFGHIJKLMNOPQRSTUVWXYZ-.:0123456789"

var code40Index = func() map[rune]int {
	m := make(map[rune]int, len(code40Alphabet))
	for i, r := range code40Alphabet {
		m[r] = i
	}
	return m
}()

// code40EncodeWord packs three Code40 symbols into one 16-bit word:
// v = 1 + a*1600 + b*40 + c.
func code40EncodeWord(a, b, c int) uint16 {
	return uint16(1 + a*1600 + b*40 + c)
}

// code40DecodeWord unpacks a 16-bit word into three Code40 indices: it
// removes the encoder's +1 offset, then divides successively by 1600 and 40.
// A zero-padded symbol decodes back to index 0 (the space symbol).
func code40DecodeWord(v uint16) (a, b, c int, err error) {
	n := int(v) - 1
	a = n / 1600
	n %= 1600
	b = n / 40
	c = n % 40
	if a < 0 || a > 39 || b < 0 || b > 39 || c < 0 || c > 39 {
		return 0, 0, 0, errors.Errorf("code40: decoded word 0x%04X out of range", v)
	}
	return a, b, c, nil
}

// code40Encode encodes a string into a sequence of big-endian 16-bit words,
// three symbols per word. A final incomplete triple is padded with index 0.
func code40Encode(s string) ([]byte, error) {
	runes := []rune(s)
	n := len(runes)
	words := (n + 2) / 3
	if words == 0 {
		return nil, nil
	}
	out := make([]byte, words*2)
	for w := 0; w < words; w++ {
		var idx [3]int
		for j := 0; j < 3; j++ {
			pos := w*3 + j
			if pos < n {
				v, ok := code40Index[runes[pos]]
				if !ok {
					return nil, errors.Errorf("character %q not in Code40 alphabet", runes[pos])
				}
				idx[j] = v
			}
		}
		word := code40EncodeWord(idx[0], idx[1], idx[2])
		out[w*2] = byte(word >> 8)
		out[w*2+1] = byte(word)
	}
	return out, nil
}

// code40Decode decodes a sequence of big-endian 16-bit words into a string,
// always emitting three characters per word (a short final triple decodes
// back to trailing spaces, which format-specific callers trim as needed).
func code40Decode(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", errors.New("code40: byte slice must have even length")
	}
	var sb []rune
	for i := 0; i+2 <= len(b); i += 2 {
		word := uint16(b[i])<<8 | uint16(b[i+1])
		a, bb, c, err := code40DecodeWord(word)
		if err != nil {
			return "", err
		}
		sb = append(sb, rune(code40Alphabet[a]), rune(code40Alphabet[bb]), rune(code40Alphabet[c]))
	}
	return string(sb), nil
}
