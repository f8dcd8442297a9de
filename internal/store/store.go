package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// IR transfer sessions, at most one per endpoint.
	GetSession(endpoint string) (*Session, error)
	PutSession(s *Session) error
	ClearSession(endpoint string) error

	// NextSeq allocates the next transfer sequence for an endpoint. The
	// first value is 0 and the counter wraps at 0x10000.
	NextSeq(endpoint string) (uint16, error)

	// Learned IR codes, oldest first.
	SaveCode(code *LearnedCode) error
	ListCodes() ([]*LearnedCode, error)

	// GetState returns the last known state of a device.
	GetState(device string) (*DeviceState, error)
	// UpdateState atomically reads, modifies, and saves a device state,
	// creating it when missing.
	UpdateState(device string, fn func(st *DeviceState) error) error

	// Close the store
	Close() error
}
