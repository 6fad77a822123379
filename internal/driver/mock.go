package driver

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockBank is a single simulated tag's Gen-2 memory banks, addressable the
// same way the real chip is: word-granular, bank-separated.
type MockBank struct {
	Reserved [8]byte // word 0-3: kill password (0-1), access password (2-3)
	EPC      []byte  // word 1.. : PC (word 1) followed by EPC content
	TID      [12]byte
	User     []byte

	AccessPassword [4]byte
	Locked         map[LockParam]bool // tracked per-bank via LockedReserved etc below instead
	LockedReserved bool
	LockedAccess   bool
	LockedEPC      bool
}

// IDHex is the simulated tag's identifier as reported by inventory: the
// EPC content (word 2 onward), not including the PC word.
func (b *MockBank) IDHex() string {
	if len(b.EPC) < 2 {
		return ""
	}
	return fmt.Sprintf("%X", b.EPC[2:])
}

// NewBlankMockBank builds a bank for a freshly-blanked tag: zero passwords,
// an empty/raw EPC, unlocked everywhere.
func NewBlankMockBank(pc, epc []byte, tid [12]byte) *MockBank {
	full := make([]byte, 2+len(epc))
	copy(full[0:2], pc)
	copy(full[2:], epc)
	return &MockBank{EPC: full, TID: tid}
}

// injectedError is a scripted failure the mock driver will return the next
// time the matching operation is invoked, used to drive retry-ladder and
// connection-error-classification tests without hardware.
type injectedError struct {
	text      string
	remaining int // number of times to return this error before clearing
}

// MockDriver is a deterministic, in-memory stand-in for the vendor reader
// driver (spec §6.3, §9 "driver as trait"). It lets protocol-engine and
// session tests exercise the full inventory/write/lock/notification
// surface, including injected transient and connection faults, without a
// live socket -- the in-memory analog of the teacher pack's
// internal/reader.Client TCP session.
type MockDriver struct {
	mu sync.Mutex

	connected bool
	lastErr   string

	Items []*MockBank

	writeFaults     []injectedError
	lockFaults      []injectedError
	inventoryFaults []injectedError

	notifyCb NotificationCallback
	listenOn int
	listenOK bool
}

func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

// FailNextWrites schedules n consecutive WriteMultipleBlocks calls to fail
// with the given error text before writes start succeeding again.
func (d *MockDriver) FailNextWrites(n int, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeFaults = append(d.writeFaults, injectedError{text: text, remaining: n})
}

// FailNextLocks schedules n consecutive Lock calls to fail.
func (d *MockDriver) FailNextLocks(n int, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lockFaults = append(d.lockFaults, injectedError{text: text, remaining: n})
}

// FailNextInventory schedules n consecutive Inventory calls to fail.
func (d *MockDriver) FailNextInventory(n int, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inventoryFaults = append(d.inventoryFaults, injectedError{text: text, remaining: n})
}

func popFault(faults []injectedError) ([]injectedError, string, bool) {
	for i := range faults {
		if faults[i].remaining > 0 {
			text := faults[i].text
			faults[i].remaining--
			return faults, text, true
		}
	}
	return faults, "", false
}

func (d *MockDriver) Connect(addr string, port int, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *MockDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *MockDriver) Close() error { return nil }

func (d *MockDriver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *MockDriver) LastErrorText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *MockDriver) Inventory(antennaMask byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var faulted bool
	var text string
	d.inventoryFaults, text, faulted = popFault(d.inventoryFaults)
	if faulted {
		d.lastErr = text
		return fmt.Errorf("%s", text)
	}
	return nil
}

func (d *MockDriver) ItemCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Items)
}

func (d *MockDriver) TagItem(i int) TagItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	item := d.Items[i]
	return TagItem{IDHex: item.IDHex()}
}

func (d *MockDriver) CreateTagHandle(i int) (TagHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &mockTagHandle{driver: d, bank: d.Items[i]}, nil
}

func (d *MockDriver) StartNotification(cb NotificationCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifyCb = cb
	return nil
}

func (d *MockDriver) StopNotification() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifyCb = nil
	return nil
}

func (d *MockDriver) StartListener(port int, bindAddr string, keepAlive bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listenOn = port
	d.listenOK = true
	return nil
}

func (d *MockDriver) StopListener() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listenOK = false
	return nil
}

// EmitTagEvent synthesizes an asynchronous tag-event notification, as if
// delivered by an SDK-owned listener thread.
func (d *MockDriver) EmitTagEvent(idHex string) {
	d.mu.Lock()
	cb := d.notifyCb
	d.mu.Unlock()
	if cb != nil {
		cb(EventTag, &TagEvent{IDHex: idHex}, nil)
	}
}

// mockTagHandle implements TagHandle against a single MockBank.
type mockTagHandle struct {
	driver *MockDriver
	bank   *MockBank
}

// epcWordOffset converts an EPC-bank word address to a byte offset into
// MockBank.EPC. Word1 is the PC word and sits at offset 0; word2 is the
// first word of EPC content at offset 2, matching real Gen-2 EPC-bank
// numbering with the CRC-16 word (word0) unmodeled.
func epcWordOffset(startWord int) int {
	return (startWord - 1) * 2
}

func (h *mockTagHandle) authOK(password [4]byte, authenticated bool) bool {
	if !authenticated {
		return true
	}
	return password == h.bank.AccessPassword
}

func (h *mockTagHandle) ReadMultipleBlocks(bank Bank, startWord, numWords int, password [4]byte, authenticated bool) ([]byte, error) {
	h.driver.mu.Lock()
	defer h.driver.mu.Unlock()

	if bank == BankReserved && h.bank.LockedReserved && !authenticated {
		return nil, fmt.Errorf("access denied: reserved bank locked")
	}
	if bank == BankReserved && authenticated && !h.authOK(password, true) {
		return nil, fmt.Errorf("access denied: wrong password")
	}

	switch bank {
	case BankReserved:
		lo := startWord * 2
		hi := lo + numWords*2
		if hi > len(h.bank.Reserved) {
			return nil, fmt.Errorf("reserved bank out of range")
		}
		out := make([]byte, numWords*2)
		copy(out, h.bank.Reserved[lo:hi])
		return out, nil
	case BankEPC:
		lo := epcWordOffset(startWord)
		hi := lo + numWords*2
		if lo < 0 || hi > len(h.bank.EPC) {
			return nil, fmt.Errorf("epc bank out of range")
		}
		out := make([]byte, numWords*2)
		copy(out, h.bank.EPC[lo:hi])
		return out, nil
	case BankTID:
		lo := startWord * 2
		hi := lo + numWords*2
		if hi > len(h.bank.TID) {
			return nil, fmt.Errorf("tid bank out of range")
		}
		out := make([]byte, numWords*2)
		copy(out, h.bank.TID[lo:hi])
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported bank")
	}
}

func (h *mockTagHandle) WriteMultipleBlocks(bank Bank, startWord int, data []byte, password [4]byte, authenticated bool) error {
	h.driver.mu.Lock()
	var faulted bool
	var text string
	h.driver.writeFaults, text, faulted = popFault(h.driver.writeFaults)
	if faulted {
		h.driver.lastErr = text
		h.driver.mu.Unlock()
		return fmt.Errorf("%s", text)
	}
	h.driver.mu.Unlock()

	h.driver.mu.Lock()
	defer h.driver.mu.Unlock()

	switch bank {
	case BankReserved:
		lo := startWord * 2
		hi := lo + len(data)
		if hi > len(h.bank.Reserved) {
			return fmt.Errorf("reserved bank out of range")
		}
		copy(h.bank.Reserved[lo:hi], data)
		if hi >= 8 {
			copy(h.bank.AccessPassword[:], h.bank.Reserved[4:8])
		}
	case BankEPC:
		lo := epcWordOffset(startWord)
		if lo < 0 {
			return fmt.Errorf("epc bank out of range")
		}
		need := lo + len(data)
		if need > len(h.bank.EPC) {
			grown := make([]byte, need)
			copy(grown, h.bank.EPC)
			h.bank.EPC = grown
		}
		copy(h.bank.EPC[lo:lo+len(data)], data)
		if need < len(h.bank.EPC) {
			h.bank.EPC = h.bank.EPC[:need]
		}
	default:
		return fmt.Errorf("unsupported bank for write")
	}
	return nil
}

func (h *mockTagHandle) Lock(kill, access, epc, tidParam, user LockParam, password [4]byte) error {
	h.driver.mu.Lock()
	var faulted bool
	var text string
	h.driver.lockFaults, text, faulted = popFault(h.driver.lockFaults)
	if faulted {
		h.driver.lastErr = text
		h.driver.mu.Unlock()
		return fmt.Errorf("%s", text)
	}
	h.driver.mu.Unlock()

	h.driver.mu.Lock()
	defer h.driver.mu.Unlock()

	applyLock := func(current *bool, param LockParam) {
		switch param {
		case Lock, PermanentLock:
			*current = true
		case Unlock, PermanentUnlock:
			*current = false
		}
	}
	applyLock(&h.bank.LockedReserved, kill)
	applyLock(&h.bank.LockedAccess, access)
	applyLock(&h.bank.LockedEPC, epc)
	return nil
}

func (h *mockTagHandle) LastISOError() int { return 0 }

// IsConnectionErrorText reports whether msg matches the connection-error
// classification predicate shared by the mock and the real session logic.
// It is exported here purely as a convenience for tests that assert on the
// mock's injected error strings; the session package owns the canonical
// predicate used in production control flow.
func IsConnectionErrorText(msg string) bool {
	lower := strings.ToLower(msg)
	for _, needle := range []string{
		"disconnected", "connection lost", "connection timeout",
		"transmit failed", "peer", "-5012", "-5011", "-5010", "-1520",
	} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
