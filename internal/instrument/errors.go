package instrument

import "errors"

// Domain errors for the instrument package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, instrument.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when an instrument does not exist.
	ErrNotFound = errors.New("instrument: not found")

	// ErrExists is returned when creating an instrument whose serial is already registered.
	ErrExists = errors.New("instrument: already exists")

	// ErrInvalid is returned when instrument validation fails.
	ErrInvalid = errors.New("instrument: invalid")

	// ErrInvalidSerial is returned when a serial is empty or contains reserved characters.
	ErrInvalidSerial = errors.New("instrument: invalid serial")

	// ErrInvalidName is returned when a name is empty or too long.
	ErrInvalidName = errors.New("instrument: invalid name")

	// ErrInvalidHost is returned when host validation fails.
	ErrInvalidHost = errors.New("instrument: invalid host")

	// ErrInvalidPort is returned when a port is outside 1..65535.
	ErrInvalidPort = errors.New("instrument: invalid port")

	// ErrRequestFailed is returned when a read from the instrument's embedded
	// HTTP server fails at the transport level.
	ErrRequestFailed = errors.New("instrument: request failed")

	// ErrBadResponse is returned when the instrument answers with an
	// unexpected status code or an unparsable body.
	ErrBadResponse = errors.New("instrument: bad response")
)
