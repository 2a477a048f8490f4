package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	passwordAlgorithm = "pbkdf2-sha256"

	// DefaultPasswordIterations is the PBKDF2 work factor for new hashes.
	DefaultPasswordIterations = 210_000

	passwordSaltBytes = 16
	passwordKeyBytes  = 32
)

// HashPassword derives a salted hash of password in the
// "pbkdf2-sha256:<iterations>:<salt>:<hash>" format.
func HashPassword(password string) (string, error) {
	return hashPasswordWithIterations(password, DefaultPasswordIterations)
}

func hashPasswordWithIterations(password string, iterations int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}

	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := derivePasswordKey(password, salt, iterations)

	return strings.Join([]string{
		passwordAlgorithm,
		strconv.Itoa(iterations),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	}, ":"), nil
}

// derivePasswordKey normalizes the password to NFKC first so visually
// identical input from different keyboards hashes the same.
func derivePasswordKey(password string, salt []byte, iterations int) []byte {
	normalized := norm.NFKC.String(password)
	return pbkdf2.Key([]byte(normalized), salt, iterations, passwordKeyBytes, sha256.New)
}

// VerifyPassword reports whether password matches the encoded hash.
// Malformed hashes never verify.
func VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, ":")
	if len(parts) != 4 || parts[0] != passwordAlgorithm {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return false
	}

	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(norm.NFKC.String(password)), salt, iterations, len(want), sha256.New)

	return subtle.ConstantTimeCompare(got, want) == 1
}
