// Package tag implements the EPC Gen-2 tag codec family: per-format
// encode/decode of EPC payloads, security bits, and password derivation.
package tag

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidEPCHex is returned when a caller-supplied EPC hex string is
// malformed (odd length, non-hex characters).
var ErrInvalidEPCHex = errors.New("invalid-epc-hex")

// ErrInvalidMediaID is returned by validateMediaIdFormat-style checks and by
// the setters that call them.
var ErrInvalidMediaID = errors.New("invalid-media-id")

// bytesToUint64 decodes a big-endian byte slice into a uint64. The slice may
// be shorter than 8 bytes; missing high bytes are treated as zero.
func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = (v << 8) | uint64(c)
	}
	return v
}

// uint64ToBytes encodes v as n big-endian bytes, truncating any bits beyond
// the requested width the same way the source's fixed-width arraycopy does.
func uint64ToBytes(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// decodeEPCHex normalizes and validates a hex string into raw EPC bytes.
func decodeEPCHex(s string) ([]byte, error) {
	clean := strings.ToUpper(strings.TrimSpace(s))
	clean = strings.ReplaceAll(clean, " ", "")
	clean = strings.ReplaceAll(clean, ":", "")
	if len(clean)%2 != 0 {
		return nil, errors.Wrapf(ErrInvalidEPCHex, "odd length hex string %q", s)
	}
	for _, c := range clean {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			return nil, errors.Wrapf(ErrInvalidEPCHex, "non-hex character in %q", s)
		}
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidEPCHex, "decode %q", s)
	}
	return raw, nil
}

// ToHexString renders bytes as a contiguous uppercase hex string (no
// separators) -- the wire representation used throughout the HTTP surface.
func ToHexString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// epcLengthWords extracts the PC length field: bits 15-11 of the 16-bit PC
// word, i.e. (pc[0] >> 3) & 0x1F.
func epcLengthWords(pc []byte) int {
	return int(pc[0]>>3) & 0x1F
}

// setEPCLengthWords rewrites the PC length field in place, preserving
// pc[0]&0x07 and leaving pc[1] untouched.
func setEPCLengthWords(pc []byte, words int) {
	pc[0] = (pc[0] & 0x07) | byte(words<<3)
}

// newPCForEPC builds a fresh 2-byte PC word whose length field matches
// len(epc)/2 words, with all other bits zero.
func newPCForEPC(epc []byte) []byte {
	pc := []byte{0x00, 0x00}
	setEPCLengthWords(pc, len(epc)/2)
	return pc
}
