package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/keys"
	"github.com/alexjbarnes/authz-server/internal/models"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// KeyProvider resolves the key pair for a purpose.
type KeyProvider interface {
	GetCryptoKey(purpose keys.Purpose) (*models.CryptoKeyPair, error)
}

// accessTokenClaims is the signed payload of an access token.
type accessTokenClaims struct {
	ClientID string            `json:"client_id"`
	Scope    string            `json:"scope"`
	Extra    map[string]string `json:"extra,omitempty"`
	jwt.RegisteredClaims
}

// signAccessToken produces the RS256 JWT for token.
func signAccessToken(token *models.IssuedAccessToken, issuer string, signingKey *rsa.PrivateKey) (string, error) {
	claims := accessTokenClaims{
		ClientID: token.ClientID,
		Scope:    strings.Join(token.Scope, " "),
		Extra:    token.ExtraData,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   token.User,
			IssuedAt:  jwt.NewNumericDate(token.UTCIssued),
			NotBefore: jwt.NewNumericDate(token.UTCIssued),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt()),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}

	return signed, nil
}

// encryptCompact wraps payload in a compact JWE for recipient.
func encryptCompact(payload []byte, recipient *rsa.PublicKey) (string, error) {
	encrypter, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.RSA_OAEP_256, Key: recipient},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating encrypter: %w", err)
	}

	obj, err := encrypter.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("encrypting token: %w", err)
	}

	return obj.CompactSerialize()
}

// decryptCompact opens a compact JWE produced by encryptCompact. Any
// other key or content algorithm is refused.
func decryptCompact(compact string, key *rsa.PrivateKey) ([]byte, error) {
	obj, err := jose.ParseEncryptedCompact(compact,
		[]jose.KeyAlgorithm{jose.RSA_OAEP_256},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	plaintext, err := obj.Decrypt(key)
	if err != nil {
		return nil, fmt.Errorf("decrypting token: %w", err)
	}

	return plaintext, nil
}

// TokenValidator checks access tokens presented to protected resources.
type TokenValidator struct {
	keys   KeyProvider
	issuer string
	now    func() time.Time
}

// NewTokenValidator creates a validator. issuer must match the issuer
// the tokens were minted with; empty skips the check.
func NewTokenValidator(keyProvider KeyProvider, issuer string) *TokenValidator {
	return &TokenValidator{keys: keyProvider, issuer: issuer, now: time.Now}
}

// Validate decrypts and verifies an access token. Every token failure
// wraps ErrUnauthorized; key resolution failures are returned as is.
func (v *TokenValidator) Validate(token string) (*models.IssuedAccessToken, error) {
	apiPair, err := v.keys.GetCryptoKey(keys.PurposeAPIService)
	if err != nil {
		return nil, err
	}

	authzPair, err := v.keys.GetCryptoKey(keys.PurposeAuthZServer)
	if err != nil {
		return nil, err
	}

	signed, err := decryptCompact(token, apiPair.PrivateEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &accessTokenClaims{}

	_, err = jwt.ParseWithClaims(string(signed), claims, func(*jwt.Token) (any, error) {
		return authzPair.PublicSigningKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
	}

	if claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: token has no iat claim", apperrors.ErrUnauthorized)
	}

	issued := claims.IssuedAt.Time.UTC()

	return &models.IssuedAccessToken{
		User:      claims.Subject,
		ClientID:  claims.ClientID,
		Scope:     strings.Fields(claims.Scope),
		UTCIssued: issued,
		Lifetime:  claims.ExpiresAt.Time.Sub(issued),
		ExtraData: claims.Extra,
	}, nil
}
