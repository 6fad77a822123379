package protocol

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/bookwaves/libreader/internal/driver"
	"github.com/bookwaves/libreader/internal/session"
	"github.com/bookwaves/libreader/internal/tag"
)

func TestLockStatusMarshalsAsName(t *testing.T) {
	b, err := json.Marshal(LockStatusLocked)
	assert.NoError(t, err)
	assert.JSONEq(t, `"LOCKED"`, string(b))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFactory() *tag.Factory {
	return tag.NewFactory(tag.NewPasswordRegistry(map[string]string{
		"DE290Tag.access": "acc-secret",
		"DE290Tag.kill":   "kill-secret",
		"DE386Tag.access": "acc-secret",
		"DE386Tag.kill":   "kill-secret",
	}))
}

func newTestSession(md *driver.MockDriver) *session.ManagedSession {
	cfg := session.ReaderConfig{Name: "r1", Address: "10.0.0.5", Port: 4001, Mode: "host", Antennas: []int{1}}
	return session.New(cfg, func() driver.Driver { return md }, testLogger(), 10)
}

func blankBank() *driver.MockBank {
	// pc[0]=0x10 encodes a 2-word (4-byte) EPC length, matching the raw
	// 4-byte epc below (spec §3, PC length field).
	return driver.NewBlankMockBank([]byte{0x10, 0x00}, []byte{0xAA, 0xBB, 0xCC, 0xDD}, [12]byte{0x01, 0x02, 0x03, 0x04})
}

func TestInventoryDecodesEachObservedTag(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	md.Items = []*driver.MockBank{blankBank()}
	s := newTestSession(md)

	items, err := eng.Inventory(context.Background(), s)
	assert.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "Raw", items[0].Tag.TagType())
}

func TestInitializeWritesPasswordsEPCAndLocks(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	md.Items = []*driver.MockBank{blankBank()}
	s := newTestSession(md)

	result, err := eng.Initialize(context.Background(), s, "DE290", "42", true)
	assert.NoError(t, err)
	assert.Equal(t, "DE290", result.Format)
	assert.Equal(t, "42", result.MediaID)
	assert.True(t, result.Secured)

	bank := md.Items[0]
	assert.NotEqual(t, [4]byte{}, bank.AccessPassword)
	assert.True(t, bank.LockedReserved)
	assert.True(t, bank.LockedAccess)
	assert.True(t, bank.LockedEPC)
	assert.Equal(t, result.NewEPC, bank.IDHex())
}

func TestInitializeFailsWithNoTagInField(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	s := newTestSession(md)

	_, err := eng.Initialize(context.Background(), s, "DE290", "42", true)
	assert.ErrorIs(t, err, ErrNoTagInField)
}

func TestInitializeFailsWithMultipleTagsInField(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	md.Items = []*driver.MockBank{blankBank(), blankBank()}
	s := newTestSession(md)

	_, err := eng.Initialize(context.Background(), s, "DE290", "42", true)
	assert.ErrorIs(t, err, ErrMultiTagInField)
}

func TestInitializeRetriesTransientWriteFailureThenSucceeds(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	md.Items = []*driver.MockBank{blankBank()}
	md.FailNextWrites(2, "no transponder")
	s := newTestSession(md)

	result, err := eng.Initialize(context.Background(), s, "DE290", "42", true)
	assert.NoError(t, err)
	assert.NotNil(t, result)
}

func initializedDE290(t *testing.T, eng *Engine, s *session.ManagedSession) string {
	t.Helper()
	result, err := eng.Initialize(context.Background(), s, "DE290", "100", true)
	assert.NoError(t, err)
	return result.NewEPC
}

func TestEditRewritesMediaIDSameLength(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	md.Items = []*driver.MockBank{blankBank()}
	s := newTestSession(md)

	oldEPC := initializedDE290(t, eng, s)

	result, err := eng.Edit(context.Background(), s, oldEPC, "101")
	assert.NoError(t, err)
	assert.Equal(t, oldEPC, result.OldEPC)
	assert.NotEqual(t, result.OldEPC, result.NewEPC)

	bank := md.Items[0]
	assert.Equal(t, result.NewEPC, bank.IDHex())
	assert.True(t, bank.LockedEPC, "edit must relock after rewriting the epc")
}

func TestEditFailsWhenCurrentEPCNotInField(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	md.Items = []*driver.MockBank{blankBank()}
	s := newTestSession(md)

	_, err := eng.Edit(context.Background(), s, "DEADBEEF", "101")
	assert.ErrorIs(t, err, ErrNoTagInField)
}

func TestEditRejectsRawFormat(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	bank := blankBank()
	md.Items = []*driver.MockBank{bank}
	s := newTestSession(md)

	_, err := eng.Edit(context.Background(), s, bank.IDHex(), "anything")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestClearZeroesReservedAndSetsEPCToTID(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	md.Items = []*driver.MockBank{blankBank()}
	s := newTestSession(md)

	epc := initializedDE290(t, eng, s)

	result, err := eng.Clear(context.Background(), s, epc)
	assert.NoError(t, err)
	assert.Equal(t, "010203040000000000000000", result.TID)
	assert.Equal(t, result.TID, result.NewEPC)

	bank := md.Items[0]
	assert.Equal(t, [8]byte{}, bank.Reserved)
	assert.Equal(t, [4]byte{}, bank.AccessPassword)
}

func TestSetSecuredTogglesSecurityBit(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	md.Items = []*driver.MockBank{blankBank()}
	s := newTestSession(md)

	epc := initializedDE290(t, eng, s)

	result, err := eng.SetSecured(context.Background(), s, epc, false)
	assert.NoError(t, err)
	assert.Equal(t, "DE290", result.TagType)
	assert.False(t, result.Secured)

	analyzed, err := eng.Analyze(context.Background(), s, md.Items[0].IDHex())
	assert.NoError(t, err)
	assert.Equal(t, "DE290", analyzed.Format)
}

func TestAnalyzeReportsLockedWhenReservedBankLocked(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	md.Items = []*driver.MockBank{blankBank()}
	s := newTestSession(md)

	epc := initializedDE290(t, eng, s)

	result, err := eng.Analyze(context.Background(), s, epc)
	assert.NoError(t, err)
	assert.Equal(t, LockStatusLocked, result.LockStatus)
	assert.True(t, result.MatchesTheoretical)
	assert.Equal(t, "010203040000000000000000", result.TID)
}

func TestAnalyzeFlagsUnlockedNoPasswordOnFreshBlankTag(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	bank := blankBank()
	md.Items = []*driver.MockBank{bank}
	s := newTestSession(md)

	result, err := eng.Analyze(context.Background(), s, bank.IDHex())
	assert.NoError(t, err)
	assert.Equal(t, LockStatusUnlockedNoPassword, result.LockStatus)
	assert.False(t, result.ProperlySecured)
}

func TestAnalyzeIsIdempotentAcrossRepeatedCalls(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	md.Items = []*driver.MockBank{blankBank()}
	s := newTestSession(md)

	epc := initializedDE290(t, eng, s)

	first, err := eng.Analyze(context.Background(), s, epc)
	assert.NoError(t, err)
	second, err := eng.Analyze(context.Background(), s, epc)
	assert.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated Analyze calls diverged:\n%s", diff)
	}
}

func TestAnalyzeFailsWhenTagNotInField(t *testing.T) {
	eng := NewEngine(testFactory())
	md := driver.NewMockDriver()
	s := newTestSession(md)

	_, err := eng.Analyze(context.Background(), s, "DEADBEEF")
	assert.ErrorIs(t, err, ErrNoTagInField)
}
