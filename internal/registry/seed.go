// Package registry seeds the client and user registries from built-in
// accounts and an optional YAML seed file.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alexjbarnes/authz-server/internal/auth"
	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/models"
	"gopkg.in/yaml.v3"
)

// Store persists seeded clients and users.
type Store interface {
	SaveClient(c models.ClientApplication) error
	SaveUser(u models.UserCredential) error
}

// Client is a seeded client application.
type Client struct {
	ClientID                   string  `yaml:"client_id"`
	ClientSecret               string  `yaml:"client_secret"`
	Name                       string  `yaml:"name"`
	AccessTokenLifetimeMinutes float64 `yaml:"access_token_lifetime_minutes"`
}

// User is a seeded resource owner. Exactly one of Password and
// PasswordHash is set.
type User struct {
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	PasswordHash string   `yaml:"password_hash"`
	Roles        []string `yaml:"roles"`
}

// Seed is the content of a seed file.
type Seed struct {
	Clients []Client `yaml:"clients"`
	Users   []User   `yaml:"users"`
}

// BuiltIn returns the accounts every deployment starts with. Test
// accounts are only included when enableTestAccounts is set.
func BuiltIn(enableTestAccounts bool) Seed {
	seed := Seed{
		Clients: []Client{
			{ClientID: "someuniqueidentifier2", ClientSecret: "somesecret", Name: "ATrustedApplication"},
		},
		Users: []User{
			{Username: "an.appuser", Password: "somepassword", Roles: []string{"clientapplication"}},
		},
	}

	if enableTestAccounts {
		seed.Clients = append(seed.Clients,
			Client{ClientID: "someuniqueidentifier1", ClientSecret: "somesecret1", Name: "ATestApplication"})
		seed.Users = append(seed.Users,
			User{Username: "test.user", Password: "somepassword", Roles: []string{auth.RoleGod}})
	}

	return seed
}

// LoadFile reads and validates a YAML seed file.
func LoadFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("reading seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	if err := seed.validate(); err != nil {
		return Seed{}, fmt.Errorf("seed file %s: %w", path, err)
	}

	return seed, nil
}

func (s Seed) validate() error {
	for i, c := range s.Clients {
		if c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("client %d: client_id and client_secret are required: %w", i, apperrors.ErrArgument)
		}

		if c.AccessTokenLifetimeMinutes < 0 {
			return fmt.Errorf("client %q: negative access_token_lifetime_minutes: %w", c.ClientID, apperrors.ErrArgument)
		}
	}

	for i, u := range s.Users {
		if u.Username == "" {
			return fmt.Errorf("user %d: username is required: %w", i, apperrors.ErrArgument)
		}

		if (u.Password == "") == (u.PasswordHash == "") {
			return fmt.Errorf("user %q: exactly one of password and password_hash is required: %w", u.Username, apperrors.ErrArgument)
		}

		if u.PasswordHash != "" && !strings.HasPrefix(u.PasswordHash, "pbkdf2-sha256:") {
			return fmt.Errorf("user %q: unsupported password_hash format: %w", u.Username, apperrors.ErrArgument)
		}
	}

	return nil
}

// Seeder writes seeds into a Store.
type Seeder struct {
	store  Store
	logger *slog.Logger
	hash   func(string) (string, error)
}

// NewSeeder creates a Seeder over store.
func NewSeeder(store Store, logger *slog.Logger) *Seeder {
	return &Seeder{store: store, logger: logger, hash: auth.HashPassword}
}

// Apply saves every client and user in seed, replacing existing records
// with the same id. Plain passwords are hashed before they are stored.
func (s *Seeder) Apply(seed Seed) error {
	if err := seed.validate(); err != nil {
		return err
	}

	for _, c := range seed.Clients {
		err := s.store.SaveClient(models.ClientApplication{
			ClientID:            c.ClientID,
			ClientSecret:        c.ClientSecret,
			Name:                c.Name,
			AccessTokenLifetime: time.Duration(c.AccessTokenLifetimeMinutes * float64(time.Minute)),
		})
		if err != nil {
			return fmt.Errorf("saving client %q: %w", c.ClientID, err)
		}
	}

	for _, u := range seed.Users {
		hash := u.PasswordHash
		if hash == "" {
			var err error
			if hash, err = s.hash(u.Password); err != nil {
				return fmt.Errorf("hashing password for %q: %w", u.Username, err)
			}
		}

		err := s.store.SaveUser(models.UserCredential{
			Username:     u.Username,
			PasswordHash: hash,
			Roles:        u.Roles,
		})
		if err != nil {
			return fmt.Errorf("saving user %q: %w", u.Username, err)
		}
	}

	s.logger.Info("registry seeded",
		slog.Int("clients", len(seed.Clients)),
		slog.Int("users", len(seed.Users)),
	)

	return nil
}

// ApplyFile loads the seed file at path and applies it.
func (s *Seeder) ApplyFile(path string) error {
	seed, err := LoadFile(path)
	if err != nil {
		return err
	}

	return s.Apply(seed)
}
