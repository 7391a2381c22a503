// Package security provides the signed action payload validation used to
// authorize anonymous transfer operations, together with the error kinds
// shared by the delivery protocol.
package security

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors surfaced by the delivery protocol
var (
	ErrCodeAlreadyExists       = errors.New("code already exists")
	ErrPublicKeyAlreadyExists  = errors.New("public key already exists")
	ErrCodeNotFound            = errors.New("code not found")
	ErrInvalidSignature        = errors.New("invalid signature")
	ErrInvalidSignaturePayload = errors.New("invalid signature payload")
	ErrInvalidAction           = errors.New("invalid action")
	ErrInvalidPublicKey        = errors.New("invalid public key")
	ErrInvalidTimestamp        = errors.New("invalid timestamp")
)

// InvalidTimestampError carries the accepted window and the received value
type InvalidTimestampError struct {
	AcceptedFrom time.Time
	AcceptedTo   time.Time
	Actual       time.Time
}

func (e *InvalidTimestampError) Error() string {
	return fmt.Sprintf("invalid timestamp: accepted from %s to %s, actual %s",
		e.AcceptedFrom.UTC().Format(time.RFC3339Nano),
		e.AcceptedTo.UTC().Format(time.RFC3339Nano),
		e.Actual.UTC().Format(time.RFC3339Nano),
	)
}

// Is reports whether target is ErrInvalidTimestamp
func (e *InvalidTimestampError) Is(target error) bool {
	return target == ErrInvalidTimestamp
}

// Kind returns a short stable name of a domain error for logging
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCodeAlreadyExists):
		return "code_already_exists"
	case errors.Is(err, ErrPublicKeyAlreadyExists):
		return "public_key_already_exists"
	case errors.Is(err, ErrCodeNotFound):
		return "code_not_found"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrInvalidSignaturePayload):
		return "invalid_signature_payload"
	case errors.Is(err, ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, ErrInvalidPublicKey):
		return "invalid_public_key"
	case errors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	default:
		return "internal"
	}
}
