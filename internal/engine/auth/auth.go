package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// RoleError indicates the caller's role does not allow the operation.
type RoleError struct {
	Role string
	Need string
}

func (e RoleError) Error() string {
	return fmt.Sprintf("role %s required (have %s)", e.Need, e.Role)
}

const (
	RoleManager = "manager"
	RoleCleaner = "cleaner"
)

// ValidRole reports whether the role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleManager || role == RoleCleaner
}

// HashPassword returns a salted SHA-256 digest in "salt$digest" form.
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return encode(salt, password), nil
}

// VerifyPassword checks a password against a stored "salt$digest" hash.
func VerifyPassword(stored, password string) bool {
	parts := strings.SplitN(stored, "$", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(encode(salt, password))) == 1
}

func encode(salt []byte, password string) string {
	sum := sha256.Sum256(append(salt, []byte(password)...))
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(sum[:])
}

// NewToken returns a random 32-byte hex token for refresh credentials.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
