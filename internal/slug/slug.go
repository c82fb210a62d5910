// Package slug generates and validates deployment identifiers. An identifier doubles as a
// DNS label and as a storage path segment.
package slug

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/docker/docker/pkg/namesgenerator"
)

// MaxLength is the longest identifier accepted; DNS labels stop at 63 octets.
const MaxLength = 63

const (
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLength   = 5
)

var (
	labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

	// ErrInvalid is returned for identifiers that are not safe routing keys.
	ErrInvalid = errors.New("slug must be a lower-case DNS label of letters, digits and hyphens")
)

// Generate returns a random human-readable identifier such as "admiring-turing-k3x9q".
// The random suffix keeps identifiers pairwise distinct with overwhelming probability.
func Generate() (string, error) {
	name := strings.ReplaceAll(namesgenerator.GetRandomName(0), "_", "-")
	suffix := make([]byte, suffixLength)
	for i := range suffix {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(suffixAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate slug: %w", err)
		}
		suffix[i] = suffixAlphabet[idx.Int64()]
	}
	return name + "-" + string(suffix), nil
}

// Validate reports whether value satisfies the routing key invariant.
func Validate(value string) error {
	if value == "" || len(value) > MaxLength || !labelPattern.MatchString(value) {
		return ErrInvalid
	}
	return nil
}
