package tag

import (
	"bytes"

	"github.com/pkg/errors"
)

// ErrUnknownFormat is returned by FromFormatName for a format name outside
// the closed set DE290/CD290/DE290F/DE386/DE6/BR.
var ErrUnknownFormat = errors.New("unknown tag format")

func errUnknownFormat(name string) error {
	return errors.Wrapf(ErrUnknownFormat, "%q", name)
}

// Factory discriminates and constructs Tag values from raw (pc, epc) bytes
// or from a format name plus media id, pulling passwords from a
// PasswordRegistry.
type Factory struct {
	passwords *PasswordRegistry
}

func NewFactory(passwords *PasswordRegistry) *Factory {
	return &Factory{passwords: passwords}
}

func hasHeader(epc, header []byte) bool {
	return len(epc) >= len(header) && bytes.Equal(epc[:len(header)], header)
}

// FromBytes discriminates a format from raw EPC bytes (observed from a
// reader inventory) in the order mandated by the spec: DE386, DE290F, DE6,
// DE290/CD290, BR (with its structural check), else Raw.
func (f *Factory) FromBytes(pc, epc []byte) Tag {
	switch {
	case hasHeader(epc, DE386Header):
		return NewDE386Tag(pc, epc, f.passwords.Lookup("DE386Tag", RoleAccess), f.passwords.Lookup("DE386Tag", RoleKill))
	case hasHeader(epc, DE290FHeader):
		return NewDE290FTag(pc, epc, f.passwords.Lookup("DE290FTag", RoleAccess), f.passwords.Lookup("DE290FTag", RoleKill))
	case hasHeader(epc, DE6Header):
		return NewDE6Tag(pc, epc, f.passwords.Lookup("DE6Tag", RoleAccess), f.passwords.Lookup("DE6Tag", RoleKill))
	case hasHeader(epc, DE290Header):
		return NewDE290Tag(VariantDE290, pc, epc, f.passwords.Lookup("DE290Tag", RoleAccess), f.passwords.Lookup("DE290Tag", RoleKill))
	case hasHeader(epc, CD290Header):
		return NewDE290Tag(VariantCD290, pc, epc, f.passwords.Lookup("DE290Tag", RoleAccess), f.passwords.Lookup("DE290Tag", RoleKill))
	case len(epc) > 0 && epc[0] == 0x41 && IsBRTag(epc):
		return NewBRTag(pc, epc, f.passwords.Lookup("BRTag", RoleSecret))
	default:
		return NewRawTag(pc, epc)
	}
}

// FromHexString normalizes, validates, and decodes a hex EPC string, then
// discriminates its format the same way FromBytes does. Hex-decoding
// failures are surfaced distinctly (ErrInvalidEPCHex) from format
// validation errors.
func (f *Factory) FromHexString(epcHex string) (Tag, error) {
	raw, err := decodeEPCHex(epcHex)
	if err != nil {
		return nil, err
	}
	pc := newPCForEPC(raw)
	return f.FromBytes(pc, raw), nil
}

// FromFormatName constructs a blank tag of the named format (for
// /initialize, where no EPC has been observed yet) and applies mediaID to
// it immediately.
func (f *Factory) FromFormatName(formatName, mediaID string) (Tag, error) {
	var t Tag
	switch formatName {
	case "DE290":
		t = NewDE290Tag(VariantDE290, nil, DE290Header, f.passwords.Lookup("DE290Tag", RoleAccess), f.passwords.Lookup("DE290Tag", RoleKill))
	case "CD290":
		t = NewDE290Tag(VariantCD290, nil, CD290Header, f.passwords.Lookup("DE290Tag", RoleAccess), f.passwords.Lookup("DE290Tag", RoleKill))
	case "DE290F":
		t = NewDE290FTag(nil, DE290FHeader, f.passwords.Lookup("DE290FTag", RoleAccess), f.passwords.Lookup("DE290FTag", RoleKill))
	case "DE386":
		base := append(append([]byte{}, DE386Header...), make([]byte, 12)...)
		t = NewDE386Tag(nil, base, f.passwords.Lookup("DE386Tag", RoleAccess), f.passwords.Lookup("DE386Tag", RoleKill))
	case "DE6":
		t = NewDE6Tag(DE6FixedPC, DE6Header, f.passwords.Lookup("DE6Tag", RoleAccess), f.passwords.Lookup("DE6Tag", RoleKill))
	case "BR":
		t = NewBRTag([]byte{0x00, 0x00}, []byte{0x41, 0x00}, f.passwords.Lookup("BRTag", RoleSecret))
	default:
		return nil, errUnknownFormat(formatName)
	}
	if err := t.SetMediaID(mediaID); err != nil {
		return nil, err
	}
	return t, nil
}
