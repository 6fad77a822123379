package tag

import "github.com/pkg/errors"

// brSecuredByte and brUnsecuredByte are the two legal values of pc[1] for
// BR tags, doubling as the AFI-style circulation flag.
const (
	brSecuredByte   byte = 0x07
	brUnsecuredByte byte = 0xC2
)

var mediaIDCharPattern = func() func(byte) bool {
	return func(c byte) bool {
		return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == ' '
	}
}()

// BRTag implements the variable-length BR format used by non-Gen-2-native
// library barcode stock: a 1-byte header, a 1-byte payload length, and a
// 6-bit-ASCII-packed payload, with security carried in the PC word itself
// rather than in the EPC.
type BRTag struct {
	base
	secret string
}

func NewBRTag(pc, epc []byte, secret string) *BRTag {
	return &BRTag{base: newBase(pc, epc), secret: secret}
}

func (t *BRTag) TagType() string { return "BR" }

// IsBRTag applies the structural check the factory uses to confirm a
// candidate EPC is really BR-shaped: header byte 0x41 and
// len == 2 + payloadLen + (payloadLen % 2).
func IsBRTag(epc []byte) bool {
	if len(epc) < 2 || epc[0] != 0x41 {
		return false
	}
	payloadLen := int(epc[1])
	return len(epc) == 2+payloadLen+(payloadLen%2)
}

func (t *BRTag) GetMediaID() string {
	payloadLen := int(t.epc[1])
	decoded, err := sixBitDecode(t.epc[2 : 2+payloadLen])
	if err != nil {
		return ""
	}
	return decoded
}

func (t *BRTag) ValidateMediaIDFormat(mediaID string) error {
	if mediaID == "" {
		return errors.Wrap(ErrInvalidMediaID, "BR media id cannot be empty")
	}
	for i := 0; i < len(mediaID); i++ {
		if !mediaIDCharPattern(mediaID[i]) {
			return errors.Wrapf(ErrInvalidMediaID, "BR media id must match [A-Z0-9 ]+ (got %q)", mediaID)
		}
	}
	return nil
}

func (t *BRTag) SetMediaID(mediaID string) error {
	if err := t.ValidateMediaIDFormat(mediaID); err != nil {
		return err
	}
	packed, err := sixBitEncode(mediaID)
	if err != nil {
		return errors.Wrap(err, "BR six-bit encode")
	}
	payloadLen := len(packed)
	totalLen := 2 + payloadLen + (payloadLen % 2)
	newEPC := make([]byte, totalLen)
	newEPC[0] = 0x41
	newEPC[1] = byte(payloadLen)
	copy(newEPC[2:2+payloadLen], packed)
	t.epc = newEPC
	setEPCLengthWords(t.pc, len(t.epc)/2)
	return nil
}

func (t *BRTag) IsSecured() bool {
	switch t.pc[1] {
	case brSecuredByte:
		return true
	case brUnsecuredByte:
		return false
	default:
		return false
	}
}

func (t *BRTag) SetSecured(secured bool) {
	if secured {
		t.pc[1] = brSecuredByte
	} else {
		t.pc[1] = brUnsecuredByte
	}
	t.pc[0] |= 0x01 // non-GS1 marker, set whenever security is (re)written
}

// AccessPassword is SHA-1(uppercase-hex-ASCII(epc) ‖ secret), taking bytes
// 0, 2, 3, 6 of the digest. KillPassword is always zero -- BR tags have no
// kill-password concept in this service.
func (t *BRTag) AccessPassword() [4]byte { return brPassword(t.epc, t.secret) }
func (t *BRTag) KillPassword() [4]byte   { return [4]byte{} }

// DynamicBlocks returns the whole PC word: BR's security flag lives in the
// PC itself, not the EPC.
func (t *BRTag) DynamicBlocks() []byte {
	out := make([]byte, 2)
	copy(out, t.pc)
	return out
}

func (t *BRTag) DynamicBlocksStartWord() int { return 1 }
