package relay

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLegClosed     = errors.New("relay: leg closed")
	ErrSessionExists = errors.New("relay: session already registered")
	ErrNotConnected  = errors.New("relay: session is not connected")
)

// UpstreamConnectError reports that the provider leg could not be opened.
// Stage is "signed_url" or "dial". A missing credential surfaces here too,
// wrapping the acquirer's configuration error.
type UpstreamConnectError struct {
	Stage string
	Err   error
}

func (e *UpstreamConnectError) Error() string {
	return fmt.Sprintf("connecting to provider (%s): %v", e.Stage, e.Err)
}

func (e *UpstreamConnectError) Unwrap() error { return e.Err }

// MissingToolParametersError reports a tool call that matched by name but
// lacked required parameters.
type MissingToolParametersError struct {
	ToolName string
	Missing  []string
}

func (e *MissingToolParametersError) Error() string {
	return fmt.Sprintf("tool %q is missing required parameters: %s", e.ToolName, strings.Join(e.Missing, ", "))
}

// CapabilityError wraps a failure raised by a capability bound to a tool.
type CapabilityError struct {
	ToolName string
	Err      error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.ToolName, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// PeerClosedError signals that one leg stopped delivering messages, either
// by a close frame or a transport failure.
type PeerClosedError struct {
	Leg  string
	Code int
	Err  error
}

func (e *PeerClosedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s leg closed (code %d)", e.Leg, e.Code)
	}
	return fmt.Sprintf("%s leg closed: %v", e.Leg, e.Err)
}

func (e *PeerClosedError) Unwrap() error { return e.Err }

// UnexpectedError is any other failure inside a relay loop.
type UnexpectedError struct {
	Where string
	Err   error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error in %s: %v", e.Where, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// closeRequest is the cancellation cause used by Session.Close.
type closeRequest struct {
	reason string
}

func (e *closeRequest) Error() string { return "close requested: " + e.reason }
