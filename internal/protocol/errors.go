package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSession marks a credential that has expired or been revoked.
	ErrInvalidSession = errors.New("session credential expired or revoked")

	// ErrAPIIDInvalid marks broken static API configuration.
	ErrAPIIDInvalid = errors.New("api id or hash invalid")

	// ErrPasswordNeeded is returned by SignIn when the account requires a
	// secondary password.
	ErrPasswordNeeded = errors.New("secondary password required")

	// ErrPasswordInvalid is returned by CheckPassword on a wrong password.
	ErrPasswordInvalid = errors.New("secondary password invalid")

	// ErrPhoneInvalid marks an unusable or banned phone number.
	ErrPhoneInvalid = errors.New("phone number invalid or banned")
)

// FloodWaitError is a provider rate limit with a mandatory wait.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait of %d seconds", e.Seconds)
}

// AsFloodWait extracts the wait time when err is a flood-wait error.
func AsFloodWait(err error) (int, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Seconds, true
	}
	return 0, false
}
