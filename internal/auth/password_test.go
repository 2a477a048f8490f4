package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_Format(t *testing.T) {
	h := testHash(t, "apassword")

	parts := strings.Split(h, ":")
	require.Len(t, parts, 4)
	assert.Equal(t, "pbkdf2-sha256", parts[0])
	assert.Equal(t, "1000", parts[1])
}

func TestHashPassword_DefaultIterations(t *testing.T) {
	h, err := HashPassword("apassword")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h, "pbkdf2-sha256:210000:"))
	assert.True(t, VerifyPassword("apassword", h))
}

func TestHashPassword_Salted(t *testing.T) {
	assert.NotEqual(t, testHash(t, "same"), testHash(t, "same"))
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestVerifyPassword(t *testing.T) {
	h := testHash(t, "apassword")

	assert.True(t, VerifyPassword("apassword", h))
	assert.False(t, VerifyPassword("Apassword", h))
	assert.False(t, VerifyPassword("", h))
}

func TestVerifyPassword_NormalizesUnicode(t *testing.T) {
	// U+FB01 (ﬁ ligature) normalizes to "fi" under NFKC.
	h := testHash(t, "ﬁre")
	assert.True(t, VerifyPassword("fire", h))
}

func TestVerifyPassword_MalformedHashes(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"bcrypt:10:c2FsdA==:aGFzaA==",
		"pbkdf2-sha256:abc:c2FsdA==:aGFzaA==",
		"pbkdf2-sha256:0:c2FsdA==:aGFzaA==",
		"pbkdf2-sha256:1000:not-base64!:aGFzaA==",
		"pbkdf2-sha256:1000:c2FsdA==:",
		"pbkdf2-sha256:1000:c2FsdA==:aGFzaA==:extra",
	} {
		t.Run(encoded, func(t *testing.T) {
			assert.False(t, VerifyPassword("password", encoded))
		})
	}
}
