package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	cryptoKeysBucket     = []byte("crypto_keys")
	clientsBucket        = []byte("clients")
	usersBucket          = []byte("users")
	authorizationsBucket = []byte("authorizations")
)

// authorizationKey joins user and client with a NUL so neither part can
// forge the boundary.
func authorizationKey(user, clientID string) []byte {
	return []byte(user + "\x00" + clientID)
}

type authorizationRecord struct {
	AuthorizedSince time.Time `json:"authorized_since"`
}

// State wraps a bbolt database for all persistent server state: the
// symmetric crypto key buckets, the client and user registries, and the
// authorization log.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.authz-server/state.db.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{cryptoKeysBucket, clientsBucket, usersBucket, authorizationsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// CryptoKey returns the key stored under bucket/handle, or nil if absent.
func (s *State) CryptoKey(bucket, handle string) (*models.CryptoKey, error) {
	var key *models.CryptoKey

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cryptoKeysBucket).Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(handle))
		if v == nil {
			return nil
		}

		key = &models.CryptoKey{}

		return json.Unmarshal(v, key)
	})

	return key, err
}

// CryptoKeys returns every key in a bucket in handle order.
func (s *State) CryptoKeys(bucket string) ([]models.CryptoKey, error) {
	var keys []models.CryptoKey

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cryptoKeysBucket).Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var key models.CryptoKey
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}

			keys = append(keys, key)

			return nil
		})
	})

	return keys, err
}

// ReplaceCryptoKey removes any key under the same bucket/handle and
// writes the new one in a single write transaction, so readers observe
// either the old key or the new one and never both or neither.
func (s *State) ReplaceCryptoKey(key models.CryptoKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(cryptoKeysBucket).CreateBucketIfNotExists([]byte(key.Bucket))
		if err != nil {
			return err
		}

		if err := b.Delete([]byte(key.Handle)); err != nil {
			return err
		}

		data, err := json.Marshal(key)
		if err != nil {
			return err
		}

		return b.Put([]byte(key.Handle), data)
	})
}

// DeleteCryptoKey removes a key. Missing buckets or handles are not an error.
func (s *State) DeleteCryptoKey(bucket, handle string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cryptoKeysBucket).Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(handle))
	})
}

// DeleteExpiredCryptoKeys removes keys in a bucket that expired at or
// before now and returns how many were removed.
func (s *State) DeleteExpiredCryptoKeys(bucket string, now time.Time) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cryptoKeysBucket).Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		var expired [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var key models.CryptoKey
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}

			if !key.ExpiresUTC.After(now) {
				expired = append(expired, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		// Deleting inside ForEach is not allowed by bbolt.
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		removed = len(expired)

		return nil
	})

	return removed, err
}

// SaveClient persists a client application, replacing any existing
// record with the same client ID.
func (s *State) SaveClient(c models.ClientApplication) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}

		return tx.Bucket(clientsBucket).Put([]byte(c.ClientID), data)
	})
}

// GetClient returns a client by ID. A missing client yields an error
// wrapping ErrNotFound.
func (s *State) GetClient(clientID string) (*models.ClientApplication, error) {
	var c *models.ClientApplication

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(clientsBucket).Get([]byte(clientID))
		if v == nil {
			return nil
		}

		c = &models.ClientApplication{}

		return json.Unmarshal(v, c)
	})
	if err != nil {
		return nil, err
	}

	if c == nil {
		return nil, fmt.Errorf("client %q: %w", clientID, apperrors.ErrNotFound)
	}

	return c, nil
}

// ClientCount returns the number of registered clients.
func (s *State) ClientCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(clientsBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting clients: %w", err)
	}

	return count, nil
}

// SaveUser persists a user credential, replacing any existing record
// with the same username.
func (s *State) SaveUser(u models.UserCredential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}

		return tx.Bucket(usersBucket).Put([]byte(u.Username), data)
	})
}

// GetUser returns a user credential by username. A missing user yields
// an error wrapping ErrNotFound.
func (s *State) GetUser(username string) (*models.UserCredential, error) {
	var u *models.UserCredential

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(usersBucket).Get([]byte(username))
		if v == nil {
			return nil
		}

		u = &models.UserCredential{}

		return json.Unmarshal(v, u)
	})
	if err != nil {
		return nil, err
	}

	if u == nil {
		return nil, fmt.Errorf("user %q: %w", username, apperrors.ErrNotFound)
	}

	return u, nil
}

// AuthorizedSince returns the instant from which authorizations for the
// user/client pair are honored. ok is false when no mark was recorded.
func (s *State) AuthorizedSince(user, clientID string) (since time.Time, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(authorizationsBucket).Get(authorizationKey(user, clientID))
		if v == nil {
			return nil
		}

		var rec authorizationRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}

		since = rec.AuthorizedSince
		ok = true

		return nil
	})

	return since, ok, err
}

// SetAuthorizedSince records the instant from which authorizations for
// the user/client pair are honored. Earlier authorizations become invalid.
func (s *State) SetAuthorizedSince(user, clientID string, since time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(authorizationRecord{AuthorizedSince: since.UTC()})
		if err != nil {
			return err
		}

		return tx.Bucket(authorizationsBucket).Put(authorizationKey(user, clientID), data)
	})
}

// DefaultPath returns ~/.authz-server/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".authz-server", "state.db"), nil
}
