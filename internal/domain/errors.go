package domain

import (
	"errors"
	"fmt"
)

// GenerationErrorKind classifies generation backend failures.
type GenerationErrorKind string

const (
	GenerationNetworkFailure GenerationErrorKind = "network"
	GenerationAuthFailure    GenerationErrorKind = "auth"
	GenerationMalformed      GenerationErrorKind = "malformed"
	GenerationRateLimited    GenerationErrorKind = "rate_limited"
	GenerationTimeout        GenerationErrorKind = "timeout"
)

// GenerationError is surfaced to the caller and never retried by the core.
type GenerationError struct {
	Kind     GenerationErrorKind
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("generation error [%s]: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("generation error [%s] %s: %v", e.Kind, e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// ConnectErrorKind classifies connection failures.
type ConnectErrorKind string

const (
	ConnectUnreachable   ConnectErrorKind = "unreachable"
	ConnectAuthRejected  ConnectErrorKind = "auth_rejected"
	ConnectProtocolError ConnectErrorKind = "protocol"
	ConnectTimeout       ConnectErrorKind = "timeout"
)

// ConnectError is returned by Connect; the session is left disconnected.
type ConnectError struct {
	Kind ConnectErrorKind
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect error [%s] %s: %v", e.Kind, e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ExecErrorKind classifies single-command failures.
type ExecErrorKind string

const (
	ExecNotConnected     ExecErrorKind = "not_connected"
	ExecChannelClosed    ExecErrorKind = "channel_closed"
	ExecTimeout          ExecErrorKind = "timeout"
	ExecShellUnavailable ExecErrorKind = "shell_unavailable"
)

// ExecError is confined to the failed command; session state is unchanged.
type ExecError struct {
	Kind      ExecErrorKind
	SessionID string
	Err       error
}

func (e *ExecError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exec error [%s] session %s", e.Kind, e.SessionID)
	}
	return fmt.Sprintf("exec error [%s] session %s: %v", e.Kind, e.SessionID, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsGenerationKind reports whether err is a GenerationError of the given kind.
func IsGenerationKind(err error, kind GenerationErrorKind) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr) && genErr.Kind == kind
}

// IsConnectKind reports whether err is a ConnectError of the given kind.
func IsConnectKind(err error, kind ConnectErrorKind) bool {
	var connErr *ConnectError
	return errors.As(err, &connErr) && connErr.Kind == kind
}

// IsExecKind reports whether err is an ExecError of the given kind.
func IsExecKind(err error, kind ExecErrorKind) bool {
	var execErr *ExecError
	return errors.As(err, &execErr) && execErr.Kind == kind
}
