package tag

import "github.com/pkg/errors"

// RawTag represents any EPC that does not match a known header, or the
// wholly-unformatted EPC of a blank tag. Its media id is the EPC itself:
// GetMediaID returns the EPC as uppercase hex and SetMediaID replaces the
// EPC with the decoded hex string. ValidateMediaIDFormat always fails, and
// security and passwords are no-ops (a raw tag is formatted via /initialize).
type RawTag struct {
	base
}

func NewRawTag(pc, epc []byte) *RawTag {
	if pc == nil {
		pc = []byte{0x00, 0x00}
	}
	return &RawTag{base: newBase(pc, epc)}
}

func (t *RawTag) TagType() string { return "Raw" }

func (t *RawTag) GetMediaID() string {
	if len(t.epc) == 0 {
		return ""
	}
	return t.EPCHexString()
}

func (t *RawTag) ValidateMediaIDFormat(string) error {
	return errors.Wrap(errUnsupportedOperation, "RawTag does not support media id operations; use /initialize first")
}

func (t *RawTag) SetMediaID(mediaID string) error {
	raw, err := decodeEPCHex(mediaID)
	if err != nil {
		return err
	}
	t.epc = raw
	setEPCLengthWords(t.pc, len(t.epc)/2)
	return nil
}

func (t *RawTag) IsSecured() bool { return false }

func (t *RawTag) SetSecured(bool) {}

func (t *RawTag) AccessPassword() [4]byte { return [4]byte{} }
func (t *RawTag) KillPassword() [4]byte   { return [4]byte{} }

func (t *RawTag) DynamicBlocks() []byte       { return []byte{} }
func (t *RawTag) DynamicBlocksStartWord() int { return 0 }
