// Package protocol implements the multi-step tag-mutation state machines
// (component I): initialize, edit, clear, secure/unsecure, analyze, and
// plain inventory. Every routine runs inside a session's Execute closure
// and composes tag-codec calls with driver primitives, retrying transient
// RF-link failures per the ladders in §4.5.6.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bookwaves/libreader/internal/driver"
	"github.com/bookwaves/libreader/internal/session"
	"github.com/bookwaves/libreader/internal/tag"
)

var (
	ErrNoTagInField          = errors.New("no tag in field")
	ErrMultiTagInField       = errors.New("multiple tags in field")
	ErrInvalidMediaID        = errors.New("invalid media id")
	ErrTagVerificationFailed = errors.New("tag verification failed")
	ErrTagWriteFailed        = errors.New("tag write failed")
	ErrTIDReadInvalid        = errors.New("tid read invalid")
	ErrUnsupportedFormat     = errors.New("operation not supported for this tag format")
)

const (
	maxRetries        = 10
	blockWriteDelayMS = 100
	lockBaseDelayMS   = 100
	lockStepDelayMS   = 50
	postWriteStableMS = 50
)

// WriteFailure wraps ErrTagWriteFailed with the driver's diagnostic
// context, matching spec §4.5.6's "last error text + last ISO error code".
type WriteFailure struct {
	Cause       error
	LastISOErr  int
}

func (w *WriteFailure) Error() string {
	return fmt.Sprintf("tag write failed: %v (iso error %d)", w.Cause, w.LastISOErr)
}

func (w *WriteFailure) Unwrap() error { return ErrTagWriteFailed }

// Engine composes the tag factory, password registry, and a session to
// carry out the mutation protocols.
type Engine struct {
	factory *tag.Factory
}

func NewEngine(factory *tag.Factory) *Engine {
	return &Engine{factory: factory}
}

// InventoryItem pairs a decoded Tag with its driver-reported identity.
type InventoryItem struct {
	Tag  tag.Tag
	Item driver.TagItem
}

// isNoTransponder reports whether an inventory error is the driver's
// normal "no transponder" condition rather than a real fault.
func isNoTransponder(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no transponder")
}

// Inventory runs a single-antenna-masked inventory and decodes every
// observed tag via the factory (spec §4.5.1).
func (e *Engine) Inventory(ctx context.Context, s *session.ManagedSession) ([]InventoryItem, error) {
	var items []InventoryItem
	err := s.Execute(ctx, func(drv driver.Driver) error {
		if err := drv.Inventory(s.Config().AntennaMask()); err != nil {
			if isNoTransponder(err) {
				items = nil
				return nil
			}
			return err
		}
		n := drv.ItemCount()
		items = make([]InventoryItem, 0, n)
		for i := 0; i < n; i++ {
			ti := drv.TagItem(i)
			t, terr := e.factory.FromHexString(ti.IDHex)
			if terr != nil {
				continue
			}
			for _, r := range ti.RSSI {
				t.AddRSSI(tag.AntennaRSSI{Antenna: r.Antenna, RSSI: r.RSSI})
			}
			items = append(items, InventoryItem{Tag: t, Item: ti})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// selectSingle enforces the common "exactly one tag in field" precondition
// shared by the mutating routines.
func selectSingle(items []InventoryItem) (InventoryItem, error) {
	switch len(items) {
	case 0:
		return InventoryItem{}, ErrNoTagInField
	case 1:
		return items[0], nil
	default:
		return InventoryItem{}, ErrMultiTagInField
	}
}

// blockWriteRetry runs fn up to maxRetries times with the block-write
// ladder's fixed 100ms inter-attempt delay.
func blockWriteRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == maxRetries {
			break
		}
		if err := sleepOrInterrupt(ctx, blockWriteDelayMS*time.Millisecond); err != nil {
			return err
		}
	}
	return lastErr
}

// lockRetry runs fn up to maxRetries times with the lock ladder's
// escalating inter-attempt delay (100, 150, 200, ... ms).
func lockRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == maxRetries {
			break
		}
		delay := time.Duration(lockBaseDelayMS+(attempt-1)*lockStepDelayMS) * time.Millisecond
		if err := sleepOrInterrupt(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepOrInterrupt(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return session.ErrOperationInterrupted
	}
}

func lastISOErr(h driver.TagHandle) int {
	if h == nil {
		return 0
	}
	return h.LastISOError()
}

func wrapWriteFailure(h driver.TagHandle, cause error) error {
	return &WriteFailure{Cause: cause, LastISOErr: lastISOErr(h)}
}

// reinventoryAndSelect re-issues an inventory inside the current Execute
// call and locates the item whose identifier equals wantEPCHex, returning
// a fresh tag handle for it (spec §4.5.2 step 3 / §4.5.3 step 4).
func reinventoryAndSelect(ctx context.Context, drv driver.Driver, mask byte, wantEPCHex string) (driver.TagHandle, error) {
	if err := sleepOrInterrupt(ctx, postWriteStableMS*time.Millisecond); err != nil {
		return nil, err
	}
	if err := drv.Inventory(mask); err != nil && !isNoTransponder(err) {
		return nil, err
	}
	n := drv.ItemCount()
	for i := 0; i < n; i++ {
		item := drv.TagItem(i)
		if strings.EqualFold(item.IDHex, wantEPCHex) {
			return drv.CreateTagHandle(i)
		}
	}
	return nil, ErrTagVerificationFailed
}

// InitializeResult describes the outcome of Initialize.
type InitializeResult struct {
	Format   string
	MediaID  string
	NewEPC   string
	NewPC    string
	Secured  bool
}

// Initialize formats a blank tag into the requested format with the given
// media id, applying the requested circulation-security bit before the
// tag is written (spec §4.5.2).
func (e *Engine) Initialize(ctx context.Context, s *session.ManagedSession, format, mediaID string, secured bool) (*InitializeResult, error) {
	var result *InitializeResult
	err := s.Execute(ctx, func(drv driver.Driver) error {
		if err := drv.Inventory(s.Config().AntennaMask()); err != nil && !isNoTransponder(err) {
			return err
		}
		n := drv.ItemCount()
		if n == 0 {
			return ErrNoTagInField
		}
		if n > 1 {
			return ErrMultiTagInField
		}

		newTag, err := e.factory.FromFormatName(format, mediaID)
		if err != nil {
			return errors.Wrap(ErrInvalidMediaID, err.Error())
		}
		newTag.SetSecured(secured)

		access := newTag.AccessPassword()
		kill := newTag.KillPassword()
		epc := newTag.EPC()
		pc := newTag.PC()

		handle, err := drv.CreateTagHandle(0)
		if err != nil {
			return err
		}

		if err := blockWriteRetry(ctx, func() error {
			payload := append(append([]byte{}, kill[:]...), access[:]...)
			return handle.WriteMultipleBlocks(driver.BankReserved, 0, payload, [4]byte{}, false)
		}); err != nil {
			return wrapWriteFailure(handle, err)
		}

		if err := blockWriteRetry(ctx, func() error {
			payload := append(append([]byte{}, pc...), epc...)
			return handle.WriteMultipleBlocks(driver.BankEPC, 1, payload, [4]byte{}, false)
		}); err != nil {
			return wrapWriteFailure(handle, err)
		}

		fresh, err := reinventoryAndSelect(ctx, drv, s.Config().AntennaMask(), newTag.EPCHexString())
		if err != nil {
			return err
		}

		if err := lockRetry(ctx, func() error {
			return fresh.Lock(driver.Lock, driver.Lock, driver.Lock, driver.Unchanged, driver.Unchanged, access)
		}); err != nil {
			return wrapWriteFailure(fresh, err)
		}

		result = &InitializeResult{
			Format:  newTag.TagType(),
			MediaID: mediaID,
			NewEPC:  newTag.EPCHexString(),
			NewPC:   tag.ToHexString(pc),
			Secured: secured,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EditResult describes the outcome of Edit.
type EditResult struct {
	OldEPC  string
	NewEPC  string
	MediaID string
	TagType string
}

// Edit rewrites an existing tag's media id, preserving format (spec
// §4.5.3).
func (e *Engine) Edit(ctx context.Context, s *session.ManagedSession, currentEPCHex, newMediaID string) (*EditResult, error) {
	var result *EditResult
	err := s.Execute(ctx, func(drv driver.Driver) error {
		if err := drv.Inventory(s.Config().AntennaMask()); err != nil && !isNoTransponder(err) {
			return err
		}
		n := drv.ItemCount()
		idx := -1
		for i := 0; i < n; i++ {
			if strings.EqualFold(drv.TagItem(i).IDHex, currentEPCHex) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNoTagInField
		}

		oldTag, err := e.factory.FromHexString(currentEPCHex)
		if err != nil {
			return err
		}
		if oldTag.TagType() == "Raw" {
			return ErrUnsupportedFormat
		}

		newTag, err := e.factory.FromFormatName(oldTag.TagType(), newMediaID)
		if err != nil {
			return errors.Wrap(ErrInvalidMediaID, err.Error())
		}
		if err := newTag.ValidateMediaIDFormat(newMediaID); err != nil {
			return errors.Wrap(ErrInvalidMediaID, err.Error())
		}
		if err := newTag.SetMediaID(newMediaID); err != nil {
			return errors.Wrap(ErrInvalidMediaID, err.Error())
		}

		oldAccess := oldTag.AccessPassword()
		newAccess := newTag.AccessPassword()
		newKill := newTag.KillPassword()
		sameLength := len(newTag.EPC()) == len(oldTag.EPC())

		handle, err := drv.CreateTagHandle(idx)
		if err != nil {
			return err
		}

		if err := handle.Lock(driver.Unlock, driver.Unlock, driver.Unlock, driver.Unchanged, driver.Unchanged, oldAccess); err != nil {
			s.LogWarn("unlock before edit failed, continuing", "error", err)
		}

		if err := blockWriteRetry(ctx, func() error {
			payload := append(append([]byte{}, newKill[:]...), newAccess[:]...)
			return handle.WriteMultipleBlocks(driver.BankReserved, 0, payload, [4]byte{}, false)
		}); err != nil {
			return wrapWriteFailure(handle, err)
		}

		newEPC := newTag.EPC()
		if err := blockWriteRetry(ctx, func() error {
			if sameLength {
				return handle.WriteMultipleBlocks(driver.BankEPC, 2, newEPC, [4]byte{}, false)
			}
			payload := append(append([]byte{}, newTag.PC()...), newEPC...)
			return handle.WriteMultipleBlocks(driver.BankEPC, 1, payload, [4]byte{}, false)
		}); err != nil {
			return wrapWriteFailure(handle, err)
		}

		fresh, err := reinventoryAndSelect(ctx, drv, s.Config().AntennaMask(), newTag.EPCHexString())
		if err != nil {
			return err
		}

		if err := lockRetry(ctx, func() error {
			return fresh.Lock(driver.Lock, driver.Lock, driver.Lock, driver.Unchanged, driver.Unchanged, newAccess)
		}); err != nil {
			return wrapWriteFailure(fresh, err)
		}

		result = &EditResult{
			OldEPC:  oldTag.EPCHexString(),
			NewEPC:  newTag.EPCHexString(),
			MediaID: newMediaID,
			TagType: newTag.TagType(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClearResult describes the outcome of Clear.
type ClearResult struct {
	NewEPC string
	NewPC  string
	TID    string
}

// Clear restores a tag to a neutral EPC equal to its TID (spec §4.5.4).
func (e *Engine) Clear(ctx context.Context, s *session.ManagedSession, currentEPCHex string) (*ClearResult, error) {
	var result *ClearResult
	err := s.Execute(ctx, func(drv driver.Driver) error {
		if err := drv.Inventory(s.Config().AntennaMask()); err != nil && !isNoTransponder(err) {
			return err
		}
		n := drv.ItemCount()
		idx := -1
		for i := 0; i < n; i++ {
			if strings.EqualFold(drv.TagItem(i).IDHex, currentEPCHex) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNoTagInField
		}

		oldTag, err := e.factory.FromHexString(currentEPCHex)
		if err != nil {
			return err
		}

		handle, err := drv.CreateTagHandle(idx)
		if err != nil {
			return err
		}

		var tidBytes []byte
		if err := blockWriteRetry(ctx, func() error {
			b, rerr := handle.ReadMultipleBlocks(driver.BankTID, 0, 6, [4]byte{}, false)
			if rerr != nil {
				return rerr
			}
			tidBytes = b
			return nil
		}); err != nil {
			return wrapWriteFailure(handle, err)
		}
		if len(tidBytes) != 12 {
			return ErrTIDReadInvalid
		}

		oldAccess := oldTag.AccessPassword()
		if oldAccess != [4]byte{} {
			if err := handle.Lock(driver.Unlock, driver.Unlock, driver.Unlock, driver.Unchanged, driver.Unchanged, oldAccess); err != nil {
				s.LogWarn("unlock before clear failed, continuing", "error", err)
			}
		}

		if err := blockWriteRetry(ctx, func() error {
			return handle.WriteMultipleBlocks(driver.BankReserved, 0, make([]byte, 8), [4]byte{}, false)
		}); err != nil {
			return wrapWriteFailure(handle, err)
		}

		newPC := []byte{0x30, 0x00}
		if err := blockWriteRetry(ctx, func() error {
			payload := append(append([]byte{}, newPC...), tidBytes...)
			return handle.WriteMultipleBlocks(driver.BankEPC, 1, payload, [4]byte{}, false)
		}); err != nil {
			return wrapWriteFailure(handle, err)
		}

		result = &ClearResult{
			NewEPC: tag.ToHexString(tidBytes),
			NewPC:  tag.ToHexString(newPC),
			TID:    tag.ToHexString(tidBytes),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetSecuredResult describes the outcome of SetSecured.
type SetSecuredResult struct {
	TagType string
	Secured bool
}

// SetSecured flips the circulation-security bit on the tag currently
// matching currentEPCHex (spec §4.5.5).
func (e *Engine) SetSecured(ctx context.Context, s *session.ManagedSession, currentEPCHex string, secured bool) (*SetSecuredResult, error) {
	var result *SetSecuredResult
	err := s.Execute(ctx, func(drv driver.Driver) error {
		if err := drv.Inventory(s.Config().AntennaMask()); err != nil && !isNoTransponder(err) {
			return err
		}
		n := drv.ItemCount()
		idx := -1
		for i := 0; i < n; i++ {
			if strings.EqualFold(drv.TagItem(i).IDHex, currentEPCHex) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNoTagInField
		}

		t, err := e.factory.FromHexString(currentEPCHex)
		if err != nil {
			return err
		}
		if t.TagType() == "Raw" {
			return ErrUnsupportedFormat
		}
		t.SetSecured(secured)

		handle, err := drv.CreateTagHandle(idx)
		if err != nil {
			return err
		}

		access := t.AccessPassword()
		authenticated := access != [4]byte{}

		blocks := t.DynamicBlocks()
		startWord := t.DynamicBlocksStartWord()
		if err := blockWriteRetry(ctx, func() error {
			return handle.WriteMultipleBlocks(driver.BankEPC, startWord, blocks, access, authenticated)
		}); err != nil {
			return wrapWriteFailure(handle, err)
		}

		result = &SetSecuredResult{TagType: t.TagType(), Secured: secured}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LockStatus is the analyze routine's derived assessment of a Reserved
// bank's accessibility (spec §4.5.7 step 5).
type LockStatus int

const (
	LockStatusUnknown LockStatus = iota
	LockStatusLocked
	LockStatusUnlockedNoPassword
	LockStatusUnlocked
)

func (l LockStatus) String() string {
	switch l {
	case LockStatusLocked:
		return "LOCKED"
	case LockStatusUnlockedNoPassword:
		return "UNLOCKED_NO_PASSWORD"
	case LockStatusUnlocked:
		return "UNLOCKED"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the status by name rather than its underlying int,
// for the HTTP surface's JSON envelope.
func (l LockStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// AnalyzeResult is the read-only inspection report of §4.5.7.
type AnalyzeResult struct {
	Format             string
	MediaID            string
	TheoreticalPC      string
	TheoreticalEPC     string
	ActualPCEPC        string
	MatchesTheoretical bool
	TID                string
	LockStatus         LockStatus
	ProperlySecured    bool
	Issues             []string
}

// Analyze is a read-only diagnostic pass; it performs no writes (spec
// §4.5.7).
func (e *Engine) Analyze(ctx context.Context, s *session.ManagedSession, epcHex string) (*AnalyzeResult, error) {
	var result *AnalyzeResult
	err := s.Execute(ctx, func(drv driver.Driver) error {
		if err := drv.Inventory(s.Config().AntennaMask()); err != nil && !isNoTransponder(err) {
			return err
		}
		n := drv.ItemCount()
		idx := -1
		for i := 0; i < n; i++ {
			if strings.EqualFold(drv.TagItem(i).IDHex, epcHex) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNoTagInField
		}

		theoretical, err := e.factory.FromHexString(epcHex)
		if err != nil {
			return err
		}

		handle, err := drv.CreateTagHandle(idx)
		if err != nil {
			return err
		}

		pcWord, err := handle.ReadMultipleBlocks(driver.BankEPC, 1, 1, [4]byte{}, false)
		if err != nil {
			return err
		}
		lengthWords := tag.EPCLengthWords(pcWord)

		actual, err := handle.ReadMultipleBlocks(driver.BankEPC, 1, 1+lengthWords, [4]byte{}, false)
		if err != nil {
			return err
		}

		tidBytes, err := handle.ReadMultipleBlocks(driver.BankTID, 0, 6, [4]byte{}, false)
		if err != nil {
			tidBytes = nil
		}

		theoreticalFull := append(append([]byte{}, theoretical.PC()...), theoretical.EPC()...)
		matches := string(actual) == string(theoreticalFull)

		var issues []string

		_, errNoAuth := handle.ReadMultipleBlocks(driver.BankReserved, 0, 4, [4]byte{}, false)
		readableWithoutAuth := errNoAuth == nil

		theoreticalAccess := theoretical.AccessPassword()
		withAuth, errWithAuth := handle.ReadMultipleBlocks(driver.BankReserved, 0, 4, theoreticalAccess, true)
		readableWithAuth := errWithAuth == nil

		var passwordsMatch bool
		var allZero bool
		if readableWithoutAuth {
			noAuthAccess, _ := handle.ReadMultipleBlocks(driver.BankReserved, 2, 2, [4]byte{}, false)
			allZero = true
			for _, b := range noAuthAccess {
				if b != 0 {
					allZero = false
					break
				}
			}
			issues = append(issues, "reserved bank readable without authentication")
		}
		if readableWithAuth && len(withAuth) >= 4 {
			passwordsMatch = string(withAuth[len(withAuth)-4:]) == string(theoreticalAccess[:])
			if !passwordsMatch {
				issues = append(issues, "access password mismatch")
			}
		}
		if theoretical.TagType() != "Raw" && theoreticalAccess == [4]byte{} {
			issues = append(issues, "non-raw format with zero passwords: initialization incomplete")
		}

		var status LockStatus
		switch {
		case !readableWithoutAuth && readableWithAuth:
			status = LockStatusLocked
		case readableWithoutAuth && allZero:
			status = LockStatusUnlockedNoPassword
		case readableWithoutAuth && !allZero:
			status = LockStatusUnlocked
		default:
			status = LockStatusUnknown
		}

		properlySecured := !readableWithoutAuth && readableWithAuth && passwordsMatch

		result = &AnalyzeResult{
			Format:             theoretical.TagType(),
			MediaID:            theoretical.GetMediaID(),
			TheoreticalPC:      tag.ToHexString(theoretical.PC()),
			TheoreticalEPC:     theoretical.EPCHexString(),
			ActualPCEPC:        tag.ToHexString(actual),
			MatchesTheoretical: matches,
			TID:                tag.ToHexString(tidBytes),
			LockStatus:         status,
			ProperlySecured:    properlySecured,
			Issues:             issues,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
