package tag

import "github.com/pkg/errors"

// DE386Header discriminates the DE386 format.
var DE386Header = []byte{0x19, 0xEA, 0xF3, 0x21}

const de386MaxMediaIDLen = 10

// DE386Tag implements the DE386 format: right-aligned ASCII media id ending
// at byte 14, a preserved version byte at byte 14, security bit at the LSB
// of byte 15.
type DE386Tag struct {
	base
	access string
	kill   string
}

func NewDE386Tag(pc, epc []byte, accessSecret, killSecret string) *DE386Tag {
	return &DE386Tag{base: newBase(pc, epc), access: accessSecret, kill: killSecret}
}

func (t *DE386Tag) TagType() string { return "DE386" }

func (t *DE386Tag) GetMediaID() string {
	start := 4
	for start < 14 && (t.epc[start] == 0x00 || t.epc[start] == 0x20) {
		start++
	}
	return string(t.epc[start:14])
}

func (t *DE386Tag) ValidateMediaIDFormat(mediaID string) error {
	if len(mediaID) < 1 || len(mediaID) > de386MaxMediaIDLen {
		return errors.Wrapf(ErrInvalidMediaID, "DE386 media id must be 1..%d ASCII characters (got %q)", de386MaxMediaIDLen, mediaID)
	}
	for _, c := range []byte(mediaID) {
		if c > 0x7F {
			return errors.Wrapf(ErrInvalidMediaID, "DE386 media id must be ASCII (got %q)", mediaID)
		}
	}
	return nil
}

func (t *DE386Tag) SetMediaID(mediaID string) error {
	if err := t.ValidateMediaIDFormat(mediaID); err != nil {
		return err
	}
	newEPC := make([]byte, 16)
	copy(newEPC[0:4], DE386Header)
	for i := 4; i < 14; i++ {
		newEPC[i] = 0x00
	}
	start := 14 - len(mediaID)
	copy(newEPC[start:14], mediaID)
	if len(t.epc) == 16 {
		newEPC[14] = t.epc[14]
		newEPC[15] = t.epc[15]
	}
	t.epc = newEPC
	setEPCLengthWords(t.pc, len(t.epc)/2)
	return nil
}

func (t *DE386Tag) Version() byte { return t.epc[14] }

func (t *DE386Tag) SetVersion(v byte) { t.epc[14] = v }

func (t *DE386Tag) IsSecured() bool {
	return t.epc[15]&0x01 == 1
}

func (t *DE386Tag) SetSecured(secured bool) {
	if secured {
		t.epc[15] |= 0x01
	} else {
		t.epc[15] &^= 0x01
	}
}

func (t *DE386Tag) AccessPassword() [4]byte { return sha512Password(t.epc[0:12], t.access) }
func (t *DE386Tag) KillPassword() [4]byte   { return sha512Password(t.epc[0:12], t.kill) }

func (t *DE386Tag) DynamicBlocks() []byte {
	out := make([]byte, 2)
	copy(out, t.epc[14:16])
	return out
}

func (t *DE386Tag) DynamicBlocksStartWord() int { return 9 }
