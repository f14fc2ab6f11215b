// Package reference encodes and decodes the external_reference string the
// gateway round-trips between payment creation and the webhook. The format
// is {machine_id}{separator}{duration}, where duration is either minutes or
// the dry-cycle token.
package reference

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DryToken marks a dry cycle instead of a timed wash.
const DryToken = "secar"

var ErrMalformed = errors.New("malformed reference")

// Decoded is the payload a reference carries across the payment gateway.
type Decoded struct {
	MachineID string
	// Minutes is set when the duration part is numeric.
	Minutes int
	// Dry is set when the duration part is the dry token.
	Dry bool
}

// Encode builds a reference for a numeric duration, e.g. "lavadora01-45".
func Encode(machineID string, minutes int) string {
	return fmt.Sprintf("%s-%d", machineID, minutes)
}

// EncodeToken builds a reference carrying a mode token, e.g. "lavadora01-secar".
func EncodeToken(machineID, token string) string {
	return fmt.Sprintf("%s-%s", machineID, token)
}

// Decode splits a reference on the first "|" or "-" occurrence. Legacy
// references use "|"; current ones use "-". A reference without a
// separator is machine-only: the charged amount determines the cycle.
func Decode(ref string) (Decoded, error) {
	if ref == "" {
		return Decoded{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	sep := strings.IndexAny(ref, "|-")
	if sep == -1 {
		return Decoded{MachineID: ref}, nil
	}
	if sep == 0 || sep == len(ref)-1 {
		return Decoded{}, fmt.Errorf("%w: %q", ErrMalformed, ref)
	}

	machineID := ref[:sep]
	rest := ref[sep+1:]

	if rest == DryToken {
		return Decoded{MachineID: machineID, Dry: true}, nil
	}

	minutes, err := strconv.Atoi(rest)
	if err != nil || minutes <= 0 {
		return Decoded{}, fmt.Errorf("%w: duration %q", ErrMalformed, rest)
	}
	return Decoded{MachineID: machineID, Minutes: minutes}, nil
}
