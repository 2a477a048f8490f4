package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/models"
	"github.com/google/uuid"
)

const (
	// RefreshTokenBucket holds the symmetric keys sealing refresh tokens.
	RefreshTokenBucket = "oauth_refresh_token"

	// refreshKeyRotation is how long a newly minted key keeps being
	// chosen for sealing before a fresh one is created.
	refreshKeyRotation = 24 * time.Hour

	refreshKeyBytes   = 32
	refreshNonceBytes = 16
)

// errInvalidRefreshToken covers every way a presented refresh token can
// be unusable.
var errInvalidRefreshToken = fmt.Errorf("invalid refresh token: %w", apperrors.ErrGrantRejected)

// KeyStore is the subset of keys.Store the refresh codec uses.
type KeyStore interface {
	GetKey(bucket, handle string) (*models.CryptoKey, error)
	GetKeys(bucket string) ([]models.CryptoKey, error)
	StoreKey(bucket, handle string, key *models.CryptoKey) error
	ExpireKeys(bucket string, now time.Time) (int, error)
}

type refreshPayload struct {
	Authorization models.AuthorizationDescription `json:"auth"`
	Nonce         []byte                          `json:"nonce"`
	ExpiresAt     time.Time                       `json:"exp"`
}

// RefreshCodec seals authorization descriptions into opaque refresh
// tokens using rotating keys from a KeyStore.
type RefreshCodec struct {
	store    KeyStore
	lifetime time.Duration
	now      func() time.Time

	// mu serializes key selection so concurrent seals mint at most one key.
	mu sync.Mutex
}

// NewRefreshCodec creates a codec issuing tokens valid for lifetime.
func NewRefreshCodec(store KeyStore, lifetime time.Duration) *RefreshCodec {
	return &RefreshCodec{store: store, lifetime: lifetime, now: time.Now}
}

// Lifetime returns how long sealed tokens stay redeemable.
func (c *RefreshCodec) Lifetime() time.Duration {
	return c.lifetime
}

// sealingKey returns the newest key that outlives a token sealed now,
// minting one when none does.
func (c *RefreshCodec) sealingKey(now time.Time) (*models.CryptoKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.store.GetKeys(RefreshTokenBucket)
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 && existing[0].ExpiresUTC.After(now.Add(c.lifetime)) {
		return &existing[0], nil
	}

	material := make([]byte, refreshKeyBytes)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("generating refresh key: %w", err)
	}

	key := &models.CryptoKey{
		Bucket:     RefreshTokenBucket,
		Handle:     uuid.NewString(),
		Key:        material,
		ExpiresUTC: now.Add(c.lifetime + refreshKeyRotation).UTC(),
	}

	if err := c.store.StoreKey(RefreshTokenBucket, key.Handle, key); err != nil {
		return nil, err
	}

	if _, err := c.store.ExpireKeys(RefreshTokenBucket, now); err != nil {
		return nil, err
	}

	return key, nil
}

// Seal encodes auth as a refresh token.
func (c *RefreshCodec) Seal(auth models.AuthorizationDescription) (string, error) {
	now := c.now()

	key, err := c.sealingKey(now)
	if err != nil {
		return "", fmt.Errorf("selecting refresh key: %w", err)
	}

	nonce := make([]byte, refreshNonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	plaintext, err := json.Marshal(refreshPayload{
		Authorization: auth,
		Nonce:         nonce,
		ExpiresAt:     now.Add(c.lifetime).UTC(),
	})
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(key.Key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	handle := []byte(key.Handle)
	sealed := gcm.Seal(iv, iv, plaintext, handle)

	return base64.RawURLEncoding.EncodeToString(handle) + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decodes a refresh token. Unusable tokens yield an error wrapping
// ErrGrantRejected; storage faults are returned as is.
func (c *RefreshCodec) Open(token string) (*models.AuthorizationDescription, error) {
	encHandle, encBody, ok := strings.Cut(token, ".")
	if !ok {
		return nil, errInvalidRefreshToken
	}

	handle, err := base64.RawURLEncoding.DecodeString(encHandle)
	if err != nil || len(handle) == 0 {
		return nil, errInvalidRefreshToken
	}

	body, err := base64.RawURLEncoding.DecodeString(encBody)
	if err != nil {
		return nil, errInvalidRefreshToken
	}

	key, err := c.store.GetKey(RefreshTokenBucket, string(handle))
	if err != nil {
		return nil, fmt.Errorf("reading refresh key: %w", err)
	}

	now := c.now()

	if key == nil || !key.ExpiresUTC.After(now) {
		return nil, errInvalidRefreshToken
	}

	gcm, err := newGCM(key.Key)
	if err != nil {
		return nil, err
	}

	if len(body) < gcm.NonceSize() {
		return nil, errInvalidRefreshToken
	}

	plaintext, err := gcm.Open(nil, body[:gcm.NonceSize()], body[gcm.NonceSize():], handle)
	if err != nil {
		return nil, errInvalidRefreshToken
	}

	var payload refreshPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, errInvalidRefreshToken
	}

	if !payload.ExpiresAt.After(now) {
		return nil, fmt.Errorf("refresh token expired: %w", apperrors.ErrGrantRejected)
	}

	return &payload.Authorization, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}

	return gcm, nil
}
