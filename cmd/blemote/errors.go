package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blemote/pkg/remote"
	"github.com/srg/blemote/pkg/transport"
)

// Command-level errors
var (
	// ErrNoAccessoryFound indicates no compatible accessory appeared
	// within the scan window.
	ErrNoAccessoryFound = errors.New("no accessory found")
)

// FormatUserError rewrites internal errors into actionable messages. The
// original error text is kept for anything without a friendlier form.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.Is(err, transport.ErrStopped):
		return "transport stopped before the operation completed"
	case errors.Is(err, remote.ErrNotConnected):
		return "not connected to a receiver - pair with 'blemote relay send' first"
	case errors.Is(err, ErrNoAccessoryFound):
		return "no accessory found - make sure it is powered on and in range"
	}

	msg := err.Error()
	if strings.Contains(msg, "operation not permitted") {
		return fmt.Sprintf("%s (BLE access usually needs root or CAP_NET_ADMIN)", msg)
	}
	return msg
}
