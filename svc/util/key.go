package util

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

const (
	secretKeyAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	secretKeyLength   = 32
)

// GenSecretKey returns a 32-character alphanumeric key suitable for
// addressing a private paste. Unpredictability comes from crypto/rand;
// uniqueness is enforced by the metadata store's unique constraint.
func GenSecretKey() (string, error) {
	max := big.NewInt(int64(len(secretKeyAlphabet)))
	buf := make([]byte, secretKeyLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		buf[i] = secretKeyAlphabet[n.Int64()]
	}
	return string(buf), nil
}
