// Package credentials generates the random secrets handed to phones and
// federation partners.
package credentials

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	digits       = "0123456789"
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// PeerSecretLength is the length of federation secrets.
	PeerSecretLength = 32
)

// Random returns n characters drawn uniformly from alphabet.
func Random(alphabet string, n int) string {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms.
			panic(err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}

// Digits returns n random decimal digits.
func Digits(n int) string { return Random(digits, n) }

// ExtensionPassword returns a SIP password of n digits. Digits only, so
// it can be typed on a phone keypad.
func ExtensionPassword(n int) string { return Digits(n) }

// ExtensionToken returns prefix followed by n random digits.
func ExtensionToken(prefix string, n int) string { return prefix + Digits(n) }

// PeerSecret returns a federation secret.
func PeerSecret() string { return Random(alphanumeric, PeerSecretLength) }

// TemporaryExtension returns a DECT placeholder number: "9" followed by
// twice the regular extension length of digits, which never collides with a
// regular extension.
func TemporaryExtension(extensionDigits int) string {
	return "9" + Digits(2*extensionDigits)
}
