package tradeoffer

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadySent   = errors.New("offer has already been sent")
	ErrEmptyOffer    = errors.New("offer contains no items")
	ErrNotSent       = errors.New("offer has not been sent")
	ErrNotActive     = errors.New("offer is not active")
	ErrOwnOffer      = errors.New("offer was sent by us")
	ErrNotOurOffer   = errors.New("offer was not sent by us")
	ErrNotAccepted   = errors.New("offer is not accepted")
	ErrNoTradeID     = errors.New("offer has no trade id")
	ErrReservedKey   = errors.New("reserved offer data key")
	ErrInvalidSteam  = errors.New("invalid partner steam id")
	ErrInvalidURL    = errors.New("invalid trade url")
	ErrUnknownAccept = errors.New("unknown state after accept")
	ErrNoManager     = errors.New("offer is not attached to a manager")

	// ErrDataUnavailable is returned when Steam answers with a malformed or
	// empty offer page. It is transient and never means "no offers".
	ErrDataUnavailable = errors.New("data temporarily unavailable")

	ErrUnknownSessionStatus = errors.New("unknown trade session status")
	ErrSessionEnded         = errors.New("trade session has ended")
)

// PreconditionError is returned synchronously, without any remote call,
// when an offer operation is not allowed in the offer's current state.
type PreconditionError struct {
	Op      string
	OfferID uint64
	State   OfferState
	Err     error
}

func (e *PreconditionError) Error() string {
	if e.OfferID == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s offer #%d (%s): %v", e.Op, e.OfferID, e.State, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// DesyncError reports a mismatch between the local session mirror and the
// snapshot returned by Steam. It always ends the session.
type DesyncError struct {
	Who    string
	Field  string
	Local  string
	Remote string
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("trade got out of sync: local %s for %s is %s but we got %s", e.Field, e.Who, e.Local, e.Remote)
}

// SessionError is a fatal, non-desync failure of a trade session.
type SessionError struct {
	Msg string
	Err error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
