package utils

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const idLength = 16

// GenerateID returns prefix followed by 16 random hex characters, e.g.
// "tan-3f9c0a1b2d4e5f60".
func GenerateID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + raw[:idLength]
}

func CheckPIN(pin, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}

// ValidateTransactionID reports whether id looks like one GenerateID("tan") made.
func ValidateTransactionID(id string) bool {
	rest, ok := strings.CutPrefix(id, "tan-")
	return ok && rest != ""
}
