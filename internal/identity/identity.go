// Package identity maps chat platform user ids onto the UUID-shaped user
// ids the Nitro backend expects.
package identity

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// hexWidth is the number of hex digits in a UUID.
const hexWidth = 32

var (
	// ErrNotNumeric is returned by FromNumeric for ids that are not decimal integers.
	ErrNotNumeric = errors.New("identity: id is not a non-negative decimal integer")
	// ErrOutOfRange is returned by FromNumeric for ids that need more than 128 bits.
	ErrOutOfRange = errors.New("identity: id exceeds 128 bits")
)

// namespace scopes name-based ids for platforms with non-numeric user ids.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("nitrobot:platform-user"))

// FromNumeric renders a decimal id (e.g. a Discord snowflake) as 32
// zero-padded hex digits grouped 8-4-4-4-12.
func FromNumeric(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "-") || strings.HasPrefix(id, "+") {
		return "", ErrNotNumeric
	}
	n, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return "", ErrNotNumeric
	}
	if n.BitLen() > hexWidth*4 {
		return "", ErrOutOfRange
	}
	hex := fmt.Sprintf("%0*x", hexWidth, n)
	return hex[0:8] + "-" + hex[8:12] + "-" + hex[12:16] + "-" + hex[16:20] + "-" + hex[20:32], nil
}

// Map returns the backend user id for a platform user id. Numeric ids go
// through FromNumeric; anything else gets a name-based SHA-1 UUID. Both
// paths are deterministic.
func Map(id string) string {
	if mapped, err := FromNumeric(id); err == nil {
		return mapped
	}
	return uuid.NewSHA1(namespace, []byte(id)).String()
}

// Anonymous returns a random single-use user id.
func Anonymous() string {
	return uuid.NewString()
}
