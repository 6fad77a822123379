package tag

import (
	"strconv"

	"github.com/pkg/errors"
)

// DE6Header discriminates the DE6 format, used for external institutions.
var DE6Header = []byte{0x19, 0xED, 0x00, 0x01}

// DE6FixedPC is the PC value DE6 is forced to on every media-id write.
var DE6FixedPC = []byte{0x44, 0x00}

// DE6Tag implements the DE6 format: a big-endian u64 media id in bytes
// 4..12 like DE290, but its PC is always forced to 0x4400.
type DE6Tag struct {
	base
	access string
	kill   string
}

func NewDE6Tag(pc, epc []byte, accessSecret, killSecret string) *DE6Tag {
	return &DE6Tag{base: newBase(pc, epc), access: accessSecret, kill: killSecret}
}

func (t *DE6Tag) TagType() string { return "DE6" }

func (t *DE6Tag) GetMediaID() string {
	v := bytesToUint64(t.epc[4:12])
	return strconv.FormatUint(v, 10)
}

func (t *DE6Tag) ValidateMediaIDFormat(mediaID string) error {
	if mediaID == "" {
		return errors.Wrap(ErrInvalidMediaID, "DE6 media id cannot be empty")
	}
	_, err := strconv.ParseUint(mediaID, 10, 64)
	if err != nil {
		return errors.Wrapf(ErrInvalidMediaID, "DE6 requires numeric media id (got %q)", mediaID)
	}
	return nil
}

func (t *DE6Tag) SetMediaID(mediaID string) error {
	if err := t.ValidateMediaIDFormat(mediaID); err != nil {
		return err
	}
	v, _ := strconv.ParseUint(mediaID, 10, 64)
	newEPC := make([]byte, 16)
	copy(newEPC[0:4], DE6Header)
	copy(newEPC[4:12], uint64ToBytes(v, 8))
	if len(t.epc) == 16 {
		newEPC[15] = t.epc[15]
	}
	t.epc = newEPC
	t.pc[0] = DE6FixedPC[0]
	t.pc[1] = DE6FixedPC[1]
	return nil
}

func (t *DE6Tag) IsSecured() bool {
	return t.epc[15]&0x01 == 1
}

func (t *DE6Tag) SetSecured(secured bool) {
	if secured {
		t.epc[15] |= 0x01
	} else {
		t.epc[15] &^= 0x01
	}
}

func (t *DE6Tag) AccessPassword() [4]byte { return sha512Password(t.epc[0:12], t.access) }
func (t *DE6Tag) KillPassword() [4]byte   { return sha512Password(t.epc[0:12], t.kill) }

func (t *DE6Tag) DynamicBlocks() []byte {
	out := make([]byte, 2)
	copy(out, t.epc[14:16])
	return out
}

func (t *DE6Tag) DynamicBlocksStartWord() int { return 9 }
