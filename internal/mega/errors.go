// Package mega provides a client for the MEGA action-packet API: session
// establishment, node listing, upload and download negotiation, folder
// creation and sharing. Every call retries until the server answers.
package mega

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, mega.ErrCorruptResponse) to check.
var (
	ErrTransport       = errors.New("mega: transport failure")
	ErrProtocol        = errors.New("mega: protocol error")
	ErrCorruptResponse = errors.New("mega: corrupt response")
	ErrCrypto          = errors.New("mega: crypto failure")
	ErrNotLoggedIn     = errors.New("mega: not logged in")
	ErrInvalidLink     = errors.New("mega: invalid link")
)

// Server error codes.
const (
	CodeInternal      = -1
	CodeArgs          = -2
	CodeAgain         = -3
	CodeRateLimit     = -4
	CodeFailed        = -5
	CodeTooMany       = -6
	CodeRange         = -7
	CodeExpired       = -8
	CodeNotFound      = -9
	CodeCircular      = -10
	CodeAccess        = -11
	CodeExist         = -12
	CodeIncomplete    = -13
	CodeKey           = -14
	CodeSession       = -15
	CodeBlocked       = -16
	CodeOverQuota     = -17
	CodeTempUnavail   = -18
	CodeTooManyConns  = -19
	CodeWrite         = -20
	CodeRead          = -21
	CodeInvalidAppKey = -22
)

var codeText = map[int]string{
	CodeInternal:      "internal error",
	CodeArgs:          "invalid arguments",
	CodeAgain:         "try again",
	CodeRateLimit:     "rate limited",
	CodeFailed:        "upload failed",
	CodeTooMany:       "too many concurrent connections or transfers",
	CodeRange:         "out of range",
	CodeExpired:       "expired",
	CodeNotFound:      "not found",
	CodeCircular:      "circular linkage",
	CodeAccess:        "access denied",
	CodeExist:         "already exists",
	CodeIncomplete:    "incomplete",
	CodeKey:           "invalid key or decryption error",
	CodeSession:       "bad session id",
	CodeBlocked:       "blocked",
	CodeOverQuota:     "over quota",
	CodeTempUnavail:   "temporarily unavailable",
	CodeTooManyConns:  "too many connections",
	CodeWrite:         "write failed",
	CodeRead:          "read failed",
	CodeInvalidAppKey: "invalid application key",
}

// ProtocolError is a negative error code returned by the server.
type ProtocolError struct {
	Code   int
	Action string
}

func (e *ProtocolError) Error() string {
	text, ok := codeText[e.Code]
	if !ok {
		text = "unknown error"
	}

	if e.Action != "" {
		return fmt.Sprintf("mega: action %q: code %d (%s)", e.Action, e.Code, text)
	}

	return fmt.Sprintf("mega: code %d (%s)", e.Code, text)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// IsCode reports whether err carries the given server error code.
func IsCode(err error, code int) bool {
	var pe *ProtocolError

	return errors.As(err, &pe) && pe.Code == code
}
