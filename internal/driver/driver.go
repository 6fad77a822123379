// Package driver defines the reader driver abstraction consumed by the
// session and protocol-engine layers (component G). It is a pure interface
// boundary: no implementation in this repository talks to real hardware,
// matching the vendor library's exclusion from scope (spec §1, §6.3).
package driver

import "time"

// Bank identifies a Gen-2 memory bank.
type Bank int

const (
	BankReserved Bank = iota
	BankEPC
	BankTID
	BankUser
)

// LockParam is a Gen-2 lock-command parameter value. Only Unchanged, Lock,
// and Unlock are used by this service; PermanentLock/PermanentUnlock exist
// to mirror the full driver surface described in spec §6.3.
type LockParam int

const (
	Unchanged LockParam = iota
	Lock
	Unlock
	PermanentLock
	PermanentUnlock
)

// EventType enumerates the asynchronous notification events a driver may
// deliver in notification mode.
type EventType int

const (
	EventInvalid EventType = iota
	EventTag
	EventIdentification
	EventInput
	EventDiag
)

func (e EventType) String() string {
	switch e {
	case EventTag:
		return "tag"
	case EventIdentification:
		return "identification"
	case EventInput:
		return "input"
	case EventDiag:
		return "diag"
	default:
		return "invalid"
	}
}

// TagItem is one entry of an inventory result.
type TagItem struct {
	IDHex string
	RSSI  []RSSIItem
}

// RSSIItem is a single antenna/RSSI observation.
type RSSIItem struct {
	Antenna int
	RSSI    int
}

// TagEvent is the payload of an EventTag notification.
type TagEvent struct {
	IDHex          string
	RSSI           []RSSIItem
	ReaderDateTime time.Time
	HasReaderTime  bool
}

// IdentificationEvent is the payload of an EventIdentification notification.
type IdentificationEvent struct {
	ReaderType      string
	FirmwareVersion string
}

// TagHandle represents a tag selected by a prior Inventory call. All
// operations on it are blocking (spec §5, "all driver calls are blocking").
type TagHandle interface {
	ReadMultipleBlocks(bank Bank, startWord, numWords int, password [4]byte, authenticated bool) ([]byte, error)
	WriteMultipleBlocks(bank Bank, startWord int, data []byte, password [4]byte, authenticated bool) error
	Lock(kill, access, epc, tidParam, user LockParam, password [4]byte) error
	LastISOError() int
}

// NotificationCallback receives events pushed by a driver running in
// notification mode, from an SDK-managed goroutine.
type NotificationCallback func(EventType, *TagEvent, *IdentificationEvent)

// Driver is the opaque reader-driver contract of spec §6.3. One instance is
// owned by exactly one ManagedSession.
type Driver interface {
	Connect(addr string, port int, timeout time.Duration) error
	Disconnect() error
	Close() error
	IsConnected() bool
	LastErrorText() string

	Inventory(antennaMask byte) error
	ItemCount() int
	TagItem(i int) TagItem
	CreateTagHandle(i int) (TagHandle, error)

	StartNotification(cb NotificationCallback) error
	StopNotification() error
	StartListener(port int, bindAddr string, keepAlive bool) error
	StopListener() error
}

// Factory constructs a fresh, unconnected Driver instance. ManagedSession
// calls it every time it needs to replace a broken driver handle (spec
// §4.4, "construct a fresh driver" on Broken -> reconnect).
type Factory func() Driver
