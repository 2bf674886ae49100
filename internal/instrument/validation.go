package instrument

import (
	"fmt"
	"strings"
)

// Validation limits.
const (
	maxSerialLength = 64
	maxNameLength   = 128
	maxHostLength   = 253
	minPort         = 1
	maxPort         = 65535
)

// serialReservedChars are characters with meaning in MQTT topic filters;
// a serial containing them could never be addressed on the broker.
const serialReservedChars = "/+#"

// Validate checks an instrument for correctness before persistence.
// It returns the first validation error found, wrapped so callers can
// use errors.Is against the sentinel errors.
func Validate(inst *Instrument) error {
	if inst == nil {
		return fmt.Errorf("%w: nil instrument", ErrInvalid)
	}

	if err := ValidateSerial(inst.Serial); err != nil {
		return err
	}

	name := strings.TrimSpace(inst.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}

	host := strings.TrimSpace(inst.Host)
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidHost)
	}
	if len(host) > maxHostLength {
		return fmt.Errorf("%w: host exceeds %d characters", ErrInvalidHost, maxHostLength)
	}
	if strings.ContainsAny(host, " \t\n") {
		return fmt.Errorf("%w: host contains whitespace", ErrInvalidHost)
	}

	if inst.Port < minPort || inst.Port > maxPort {
		return fmt.Errorf("%w: port %d outside %d..%d", ErrInvalidPort, inst.Port, minPort, maxPort)
	}

	return nil
}

// ValidateSerial checks a serial on its own. Subscribe paths validate the
// serial before touching the catalogue, so this is exported separately.
func ValidateSerial(serial string) error {
	if serial == "" {
		return fmt.Errorf("%w: serial is required", ErrInvalidSerial)
	}
	if len(serial) > maxSerialLength {
		return fmt.Errorf("%w: serial exceeds %d characters", ErrInvalidSerial, maxSerialLength)
	}
	if strings.ContainsAny(serial, serialReservedChars) {
		return fmt.Errorf("%w: serial contains reserved characters", ErrInvalidSerial)
	}
	if strings.TrimSpace(serial) != serial {
		return fmt.Errorf("%w: serial has leading or trailing whitespace", ErrInvalidSerial)
	}
	return nil
}
