package tag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDE290FNumericRoundTrip(t *testing.T) {
	tg := NewDE290FTag(nil, DE290FHeader, "a", "k")
	assert.NoError(t, tg.SetMediaID("123456"))
	assert.Equal(t, "123456", tg.GetMediaID())
	assert.Equal(t, byte(de290fTypeNumeric), tg.EPC()[4])
}

func TestDE290FAtPrefixedRoundTrip(t *testing.T) {
	tg := NewDE290FTag(nil, DE290FHeader, "a", "k")
	assert.NoError(t, tg.SetMediaID("@123456"))
	assert.Equal(t, "@123456", tg.GetMediaID())
	assert.Equal(t, byte(de290fTypeAt), tg.EPC()[4])
}

func TestDE290FHBZURoundTrip(t *testing.T) {
	tg := NewDE290FTag(nil, DE290FHeader, "a", "k")
	assert.NoError(t, tg.SetMediaID("49HBZUBD0001234"))
	assert.Equal(t, "49HBZUBD0001234", tg.GetMediaID())
	assert.Equal(t, byte(de290fTypeHBZU), tg.EPC()[4])
}

func TestDE290FHBZUOutOfRangeRejected(t *testing.T) {
	tg := NewDE290FTag(nil, DE290FHeader, "a", "k")
	assert.Error(t, tg.SetMediaID("49HBZUBD10000000"))
}

func TestDE290FCode40RoundTrip(t *testing.T) {
	tg := NewDE290FTag(nil, DE290FHeader, "a", "k")
	assert.NoError(t, tg.SetMediaID("ABCDEF12"))
	assert.Equal(t, "ABCDEF12", tg.GetMediaID())
	assert.Equal(t, byte(de290fTypeCode40), tg.EPC()[4])
	assert.Equal(t, byte(0x00), tg.EPC()[5], "byte 5 is an unused marker")
}

func TestDE290FValidateAndSetNeverDisagree(t *testing.T) {
	mediaIDs := []string{"123456", "@123456", "49HBZUBD0001234", "ABCDEF12"}
	for _, id := range mediaIDs {
		tg := NewDE290FTag(nil, DE290FHeader, "a", "k")
		validateErr := tg.ValidateMediaIDFormat(id)
		setErr := tg.SetMediaID(id)
		assert.Equal(t, validateErr == nil, setErr == nil, "media id %q: validate and set must agree", id)
	}
}

func TestDE290FNumericOverflowRejected(t *testing.T) {
	tg := NewDE290FTag(nil, DE290FHeader, "a", "k")
	assert.Error(t, tg.SetMediaID("99999999999999999999"))
}
