package bridge

import "errors"

var (
	// ErrRead is logged (wrapped) for a failed master read. The relay keeps going.
	ErrRead = errors.New("pty read failed")

	// ErrWrite is returned (wrapped) by Write when the master rejects the bytes.
	ErrWrite = errors.New("pty write failed")

	// ErrListener wraps failures and panics raised by the listener callback.
	// It is logged and counted, never propagated into the relay.
	ErrListener = errors.New("listener callback failed")

	// ErrNotRunning is returned by Write before Start and after Stop.
	ErrNotRunning = errors.New("bridge is not running")

	// ErrStopped is returned by Start once the bridge has been stopped.
	ErrStopped = errors.New("bridge has been stopped")
)
