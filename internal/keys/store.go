package keys

import (
	"fmt"
	"sort"
	"time"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/models"
)

// Backend persists crypto keys. ReplaceCryptoKey must remove and insert
// in one atomic step. *state.State satisfies this interface.
type Backend interface {
	CryptoKey(bucket, handle string) (*models.CryptoKey, error)
	CryptoKeys(bucket string) ([]models.CryptoKey, error)
	ReplaceCryptoKey(key models.CryptoKey) error
	DeleteCryptoKey(bucket, handle string) error
	DeleteExpiredCryptoKeys(bucket string, now time.Time) (int, error)
}

// Store is a bucketed store of symmetric secrets. Buckets group related
// keys and handles name a key version within a bucket.
type Store struct {
	backend Backend
}

// NewStore creates a key store on top of the given backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func validateBucketHandle(bucket, handle string) error {
	if bucket == "" {
		return fmt.Errorf("bucket is required: %w", apperrors.ErrArgument)
	}

	if handle == "" {
		return fmt.Errorf("handle is required: %w", apperrors.ErrArgument)
	}

	return nil
}

// GetKey returns the key under bucket/handle, or nil if there is none.
func (s *Store) GetKey(bucket, handle string) (*models.CryptoKey, error) {
	if err := validateBucketHandle(bucket, handle); err != nil {
		return nil, err
	}

	key, err := s.backend.CryptoKey(bucket, handle)
	if err != nil {
		return nil, fmt.Errorf("reading crypto key %s/%s: %w", bucket, handle, err)
	}

	return key, nil
}

// GetKeys returns all keys in a bucket, newest expiry first. Keys with
// equal expiry are ordered by handle so the result is deterministic.
func (s *Store) GetKeys(bucket string) ([]models.CryptoKey, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required: %w", apperrors.ErrArgument)
	}

	keys, err := s.backend.CryptoKeys(bucket)
	if err != nil {
		return nil, fmt.Errorf("listing crypto keys in %s: %w", bucket, err)
	}

	if keys == nil {
		keys = []models.CryptoKey{}
	}

	sort.SliceStable(keys, func(i, j int) bool {
		if !keys[i].ExpiresUTC.Equal(keys[j].ExpiresUTC) {
			return keys[i].ExpiresUTC.After(keys[j].ExpiresUTC)
		}

		return keys[i].Handle < keys[j].Handle
	})

	return keys, nil
}

// RemoveKey deletes the key under bucket/handle. Removing a missing key
// is a no-op.
func (s *Store) RemoveKey(bucket, handle string) error {
	if err := validateBucketHandle(bucket, handle); err != nil {
		return err
	}

	if err := s.backend.DeleteCryptoKey(bucket, handle); err != nil {
		return fmt.Errorf("removing crypto key %s/%s: %w", bucket, handle, err)
	}

	return nil
}

// StoreKey replaces whatever is stored under bucket/handle with key.
// The key's own Bucket and Handle fields are overwritten.
func (s *Store) StoreKey(bucket, handle string, key *models.CryptoKey) error {
	if err := validateBucketHandle(bucket, handle); err != nil {
		return err
	}

	if key == nil {
		return fmt.Errorf("key is required: %w", apperrors.ErrArgument)
	}

	entry := *key
	entry.Bucket = bucket
	entry.Handle = handle
	entry.ExpiresUTC = entry.ExpiresUTC.UTC()

	if err := s.backend.ReplaceCryptoKey(entry); err != nil {
		return fmt.Errorf("storing crypto key %s/%s: %w", bucket, handle, err)
	}

	return nil
}

// ExpireKeys purges keys in a bucket that are no longer valid at now.
func (s *Store) ExpireKeys(bucket string, now time.Time) (int, error) {
	if bucket == "" {
		return 0, fmt.Errorf("bucket is required: %w", apperrors.ErrArgument)
	}

	n, err := s.backend.DeleteExpiredCryptoKeys(bucket, now)
	if err != nil {
		return 0, fmt.Errorf("expiring crypto keys in %s: %w", bucket, err)
	}

	return n, nil
}
