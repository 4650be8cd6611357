package main

import (
	"errors"
	"fmt"

	"github.com/srg/vspty/bridge"
	"github.com/srg/vspty/internal/events"
	"github.com/srg/vspty/internal/ptyio"
	"github.com/srg/vspty/internal/serialport"
)

// Command-level errors
var (
	// ErrMissingSpeedCode is returned by `baud` when neither a code nor --list is given.
	ErrMissingSpeedCode = errors.New("speed code required")

	// ErrInvalidSpeedCode is returned by `baud` for codes that do not parse as integers.
	ErrInvalidSpeedCode = errors.New("invalid speed code")
)

// FormatUserError turns an error into a message for the terminal, adding a
// hint for the failures users can fix themselves.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, ptyio.ErrPublish):
		return fmt.Sprintf("%v\nhint: make sure the symlink directory exists and is writable, or pass --symlink", err)
	case errors.Is(err, ptyio.ErrAllocation):
		return fmt.Sprintf("%v\nhint: is /dev/ptmx available to this user?", err)
	case errors.Is(err, events.ErrNoReader):
		return fmt.Sprintf("%v\nhint: start `vspty events` (or the host app) before sending events", err)
	case errors.Is(err, serialport.ErrUnsupportedBaud):
		return fmt.Sprintf("%v\nhint: the downstream device rejected the relayed speed", err)
	case errors.Is(err, bridge.ErrStopped):
		return "bridge already stopped"
	}
	return err.Error()
}
