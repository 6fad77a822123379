package tag

import (
	"crypto/sha1"
	"crypto/sha512"
	"strings"
)

// sha512Password derives a 4-byte password as the first 4 bytes of
// SHA-512(epcPrefix ‖ secret), matching every hash-derived Gen-2 variant
// (DE290, CD290, DE290F, DE386, DE6).
func sha512Password(epcPrefix []byte, secret string) [4]byte {
	h := sha512.New()
	h.Write(epcPrefix)
	h.Write([]byte(secret))
	sum := h.Sum(nil)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// brPassword derives BR's 4-byte password as bytes [0,2,3,6] of
// SHA-1(uppercase-hex-ASCII(epc) ‖ secret).
func brPassword(epc []byte, secret string) [4]byte {
	h := sha1.New()
	h.Write([]byte(strings.ToUpper(ToHexString(epc))))
	h.Write([]byte(secret))
	sum := h.Sum(nil)
	return [4]byte{sum[0], sum[2], sum[3], sum[6]}
}
