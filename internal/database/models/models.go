// Package models defines the data structures for database entities of the
// delivery service: transfers, their encrypted certificates, push
// registrations and the scheduler lease rows.
package models

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Transfer represents one in-flight certificate handoff
type Transfer struct {
	ID            int64        `db:"pk_transfer_id" json:"id"`
	Code          string       `db:"code" json:"code"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	PublicKey     string       `db:"public_key" json:"public_key"`
	PublicKeyHash string       `db:"public_key_sha_256" json:"public_key_sha_256"`
	Algorithm     string       `db:"algorithm" json:"algorithm"`
	ExpiresAt     sql.NullTime `db:"expires_at" json:"expires_at"`
	FailsAt       sql.NullTime `db:"fails_at" json:"fails_at"`
}

// CovidCert is the encrypted payload attached to a transfer
type CovidCert struct {
	ID             int64     `db:"pk_covidcert_id" json:"id"`
	TransferID     int64     `db:"fk_transfer_id" json:"transfer_id"`
	EncryptedHcert string    `db:"encrypted_hcert" json:"encrypted_hcert"`
	EncryptedPdf   string    `db:"encrypted_pdf" json:"encrypted_pdf"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PushType identifies the push platform and environment of a registration
type PushType string

const (
	// PushTypeIOS is APNs production
	PushTypeIOS PushType = "IOS"
	// PushTypeIOD is the APNs sandbox used by development builds
	PushTypeIOD PushType = "IOD"
	// PushTypeAndroid is stored but has no heartbeat client
	PushTypeAndroid PushType = "ANDROID"
)

// PushTypes lists every known push type in dispatch order
var PushTypes = []PushType{PushTypeIOS, PushTypeIOD, PushTypeAndroid}

// ParsePushType maps a case-insensitive name onto a PushType
func ParsePushType(s string) (PushType, error) {
	t := PushType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case PushTypeIOS, PushTypeIOD, PushTypeAndroid:
		return t, nil
	default:
		return "", fmt.Errorf("unknown push type: %q", s)
	}
}

// PushRegistration is a device's opt-in for heartbeat wake-ups
type PushRegistration struct {
	ID         int64        `db:"pk_push_registration_id" json:"id"`
	PushToken  string       `db:"push_token" json:"push_token"`
	PushType   PushType     `db:"push_type" json:"push_type"`
	RegisterID string       `db:"register_id" json:"register_id"`
	LastPush   sql.NullTime `db:"last_push" json:"last_push"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// JobLock is a cluster-wide lease for a scheduled job
type JobLock struct {
	Name      string    `db:"name"`
	LockUntil time.Time `db:"lock_until"`
	LockedAt  time.Time `db:"locked_at"`
	LockedBy  string    `db:"locked_by"`
}
