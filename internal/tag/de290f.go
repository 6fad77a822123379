package tag

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DE290FHeader discriminates the DE290F format.
var DE290FHeader = []byte{0x19, 0xE9, 0xF8, 0x77}

const (
	de290fTypeNumeric  = 0x01
	de290fTypeAt       = 0x02
	de290fTypeHBZU     = 0x03
	de290fTypeCode40   = 0x04
	hbzuPrefix         = "49HBZUBD"
	code40ExactLen     = 8
)

var code40CharPattern = regexp.MustCompile(`^[A-Z0-9 \-.:]{8}$`)

// DE290FTag implements the DE290F tagged-union media-id format. It shares
// DE290's header-region layout, security bit, and password derivation
// (composed by calling the shared sha512Password helper, not subclassing a
// Java-style base class).
type DE290FTag struct {
	base
	access string
	kill   string
}

func NewDE290FTag(pc, epc []byte, accessSecret, killSecret string) *DE290FTag {
	return &DE290FTag{base: newBase(pc, epc), access: accessSecret, kill: killSecret}
}

func (t *DE290FTag) TagType() string { return "DE290F" }

func (t *DE290FTag) GetMediaID() string {
	idType := t.epc[4]
	payload := t.epc[5:12]
	switch idType {
	case de290fTypeNumeric:
		return decodeNumericID(payload)
	case de290fTypeAt:
		return "@" + decodeNumericID(payload)
	case de290fTypeHBZU:
		v := bytesToUint64(payload)
		return fmt.Sprintf("%s%07d", hbzuPrefix, v)
	case de290fTypeCode40:
		// Byte 5 (first byte of payload) is an unused marker and is
		// skipped; decode bytes 6..12 (6 bytes = 3 Code40 words).
		decoded, err := code40Decode(t.epc[6:12])
		if err != nil {
			return ""
		}
		return strings.TrimRight(decoded, " ")
	default:
		return ""
	}
}

func decodeNumericID(payload []byte) string {
	full := make([]byte, 8)
	copy(full[1:], payload)
	return strconv.FormatUint(bytesToUint64(full), 10)
}

func (t *DE290FTag) ValidateMediaIDFormat(mediaID string) error {
	_, _, err := classifyDE290FMediaID(mediaID)
	return err
}

// classifyDE290FMediaID infers the id-type from the shape of the input
// exactly as the setter does, so validation and encoding never disagree.
func classifyDE290FMediaID(mediaID string) (idType byte, payload []byte, err error) {
	switch {
	case len(mediaID) == code40ExactLen && code40CharPattern.MatchString(mediaID):
		enc, encErr := code40Encode(mediaID)
		if encErr != nil {
			return 0, nil, errors.Wrapf(ErrInvalidMediaID, "DE290F Code40 encode: %v", encErr)
		}
		body := make([]byte, 7)
		copy(body[1:], enc)
		return de290fTypeCode40, body, nil

	case strings.HasPrefix(mediaID, hbzuPrefix) && len(mediaID) == len(hbzuPrefix)+7:
		digits := mediaID[len(hbzuPrefix):]
		v, convErr := strconv.ParseUint(digits, 10, 64)
		if convErr != nil || v > 9_999_999 {
			return 0, nil, errors.Wrapf(ErrInvalidMediaID, "DE290F HBZU media id out of range: %q", mediaID)
		}
		return de290fTypeHBZU, uint64ToBytes(v, 7), nil

	case strings.HasPrefix(mediaID, "@"):
		v, convErr := strconv.ParseUint(mediaID[1:], 10, 64)
		if convErr != nil {
			return 0, nil, errors.Wrapf(ErrInvalidMediaID, "DE290F @-numeric media id invalid: %q", mediaID)
		}
		enc := uint64ToBytes(v, 8)
		if enc[0] != 0x00 {
			return 0, nil, errors.Wrapf(ErrInvalidMediaID, "DE290F @-numeric media id overflow: %q", mediaID)
		}
		return de290fTypeAt, enc[1:], nil

	default:
		v, convErr := strconv.ParseUint(mediaID, 10, 64)
		if convErr != nil {
			return 0, nil, errors.Wrapf(ErrInvalidMediaID, "DE290F numeric media id invalid: %q", mediaID)
		}
		enc := uint64ToBytes(v, 8)
		if enc[0] != 0x00 {
			return 0, nil, errors.Wrapf(ErrInvalidMediaID, "DE290F numeric media id overflow: %q", mediaID)
		}
		return de290fTypeNumeric, enc[1:], nil
	}
}

func (t *DE290FTag) SetMediaID(mediaID string) error {
	idType, payload, err := classifyDE290FMediaID(mediaID)
	if err != nil {
		return err
	}
	newEPC := make([]byte, 16)
	copy(newEPC[0:4], DE290FHeader)
	newEPC[4] = idType
	copy(newEPC[5:12], payload)
	if len(t.epc) == 16 {
		newEPC[15] = t.epc[15]
	}
	t.epc = newEPC
	setEPCLengthWords(t.pc, len(t.epc)/2)
	return nil
}

func (t *DE290FTag) IsSecured() bool {
	return t.epc[15]&0x01 == 1
}

func (t *DE290FTag) SetSecured(secured bool) {
	if secured {
		t.epc[15] |= 0x01
	} else {
		t.epc[15] &^= 0x01
	}
}

// AccessPassword and KillPassword reuse DE290's derivation and DE290's
// configuration keys (spec §9, "shared passwords across variants") -- the
// password registry resolves "DE290FTag.access" to "DE290Tag.access".
func (t *DE290FTag) AccessPassword() [4]byte { return sha512Password(t.epc[0:12], t.access) }
func (t *DE290FTag) KillPassword() [4]byte   { return sha512Password(t.epc[0:12], t.kill) }

func (t *DE290FTag) DynamicBlocks() []byte {
	out := make([]byte, 2)
	copy(out, t.epc[14:16])
	return out
}

func (t *DE290FTag) DynamicBlocksStartWord() int { return 9 }
