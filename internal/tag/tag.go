package tag

import "github.com/pkg/errors"

// AntennaRSSI decorates an inventoried tag with the antenna and signal
// strength it was observed on.
type AntennaRSSI struct {
	Antenna int
	RSSI    int
}

// Tag is the common contract implemented by every format variant. Accessors
// return defensive copies so observable state is never aliased with a
// variant's internal buffers (spec §9, "mutable byte buffers").
type Tag interface {
	// TagType returns the format's name, e.g. "DE290", "CD290", "BR", "Raw".
	TagType() string

	// PC returns a copy of the 2-byte Protocol Control word.
	PC() []byte
	// EPC returns a copy of the EPC bank bytes.
	EPC() []byte
	// EPCHexString renders EPC() as uppercase hex.
	EPCHexString() string

	GetMediaID() string
	SetMediaID(mediaID string) error
	ValidateMediaIDFormat(mediaID string) error

	IsSecured() bool
	SetSecured(secured bool)

	AccessPassword() [4]byte
	KillPassword() [4]byte

	// DynamicBlocks returns the smallest contiguous EPC/PC slice whose value
	// changes when only the security bit flips.
	DynamicBlocks() []byte
	// DynamicBlocksStartWord is the 16-bit word address within the relevant
	// bank where DynamicBlocks starts.
	DynamicBlocksStartWord() int

	RSSIValues() []AntennaRSSI
	AddRSSI(a AntennaRSSI)
}

// base holds the fields and helpers shared by every non-raw variant.
type base struct {
	pc   []byte
	epc  []byte
	rssi []AntennaRSSI
}

func newBase(pc, epc []byte) base {
	if pc == nil {
		pc = newPCForEPC(epc)
	}
	pcCopy := make([]byte, len(pc))
	copy(pcCopy, pc)
	epcCopy := make([]byte, len(epc))
	copy(epcCopy, epc)
	return base{pc: pcCopy, epc: epcCopy}
}

func (b *base) PC() []byte {
	out := make([]byte, len(b.pc))
	copy(out, b.pc)
	return out
}

func (b *base) EPC() []byte {
	out := make([]byte, len(b.epc))
	copy(out, b.epc)
	return out
}

func (b *base) EPCHexString() string {
	return ToHexString(b.epc)
}

func (b *base) RSSIValues() []AntennaRSSI {
	out := make([]AntennaRSSI, len(b.rssi))
	copy(out, b.rssi)
	return out
}

func (b *base) AddRSSI(a AntennaRSSI) {
	b.rssi = append(b.rssi, a)
}

// EPCLengthWords re-derives the claimed EPC length, in 16-bit words, from a
// raw PC word read off a tag -- used by the mutation protocol engine's
// analyze routine, independent of any particular variant.
func EPCLengthWords(pc []byte) int {
	return epcLengthWords(pc)
}

var errUnsupportedOperation = errors.New("tag format does not support this operation")
