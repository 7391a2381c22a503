package security

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DefaultTimestampWindow is the default half-width of the accepted timestamp window
const DefaultTimestampWindow = 60 * time.Minute

// Validator checks the structure and freshness of an "action:code:timestamp"
// payload. It does not check authenticity; the payload signature is verified
// separately by the crypto engines.
type Validator struct {
	window time.Duration
	now    func() time.Time
}

// NewValidator creates a validator accepting timestamps within now +/- window
func NewValidator(window time.Duration) *Validator {
	if window <= 0 {
		window = DefaultTimestampWindow
	}
	return &Validator{
		window: window,
		now:    time.Now,
	}
}

// WithClock replaces the time source, mainly for tests
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Window returns the configured half-width of the timestamp window
func (v *Validator) Window() time.Duration {
	return v.window
}

// Validate checks payload against the expected action and transfer code
func (v *Validator) Validate(payload string, expected Action, code string) error {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return fmt.Errorf("%w: expected 3 fields, got %d", ErrInvalidSignaturePayload, len(parts))
	}

	action, err := ParseAction(parts[0])
	if err != nil {
		return err
	}
	if action != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidAction, expected, action)
	}

	if SanitizeCode(parts[1]) != SanitizeCode(code) {
		return fmt.Errorf("%w: code mismatch", ErrInvalidSignaturePayload)
	}

	timestamp, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrInvalidSignaturePayload)
	}

	now := v.now().UnixMilli()
	from := now - v.window.Milliseconds()
	to := now + v.window.Milliseconds()
	if timestamp < from || timestamp > to {
		return &InvalidTimestampError{
			AcceptedFrom: time.UnixMilli(from),
			AcceptedTo:   time.UnixMilli(to),
			Actual:       time.UnixMilli(timestamp),
		}
	}

	return nil
}

// SanitizeCode strips all whitespace from a transfer code and uppercases it
func SanitizeCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
