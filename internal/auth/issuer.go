package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/keys"
	"github.com/alexjbarnes/authz-server/internal/models"
)

const (
	// DefaultLifetimeSetting names the default access token lifetime in
	// minutes. Fractional values are allowed.
	DefaultLifetimeSetting = "OAuthZServer.AccessTokenDefaultLifetimeMinutes"

	// RolesClaim is the extra claim carrying the user's roles, comma-joined.
	RolesClaim = "roles"
)

// IssuerConfig holds the dependencies of an Issuer.
type IssuerConfig struct {
	Clients  ClientStore
	Users    UserStore
	Keys     KeyProvider
	Settings keys.Settings
	Issuer   string
	Logger   *slog.Logger
}

// Issuer mints signed and encrypted access tokens.
type Issuer struct {
	clients  ClientStore
	users    UserStore
	keys     KeyProvider
	settings keys.Settings
	issuer   string
	logger   *slog.Logger
	now      func() time.Time

	lifetimeOnce sync.Once
	lifetime     time.Duration
	lifetimeErr  error
}

// NewIssuer creates an Issuer.
func NewIssuer(cfg IssuerConfig) *Issuer {
	return &Issuer{
		clients:  cfg.Clients,
		users:    cfg.Users,
		keys:     cfg.Keys,
		settings: cfg.Settings,
		issuer:   cfg.Issuer,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// DefaultLifetime returns the configured default access token lifetime.
// The setting is read once; later changes are not observed.
func (i *Issuer) DefaultLifetime() (time.Duration, error) {
	i.lifetimeOnce.Do(func() {
		raw, ok := i.settings.GetSetting(DefaultLifetimeSetting)
		if !ok {
			i.lifetimeErr = fmt.Errorf("setting %s is missing: %w", DefaultLifetimeSetting, apperrors.ErrConfiguration)
			return
		}

		minutes, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || minutes <= 0 {
			i.lifetimeErr = fmt.Errorf("setting %s=%q is not a positive number: %w",
				DefaultLifetimeSetting, raw, apperrors.ErrConfiguration)

			return
		}

		i.lifetime = time.Duration(minutes * float64(time.Minute))
	})

	return i.lifetime, i.lifetimeErr
}

// tokenLifetime applies a client's override when it is shorter than the
// default.
func (i *Issuer) tokenLifetime(clientID string) (time.Duration, error) {
	lifetime, err := i.DefaultLifetime()
	if err != nil {
		return 0, err
	}

	c, err := i.clients.GetClient(clientID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return lifetime, nil
	}

	if err != nil {
		return 0, fmt.Errorf("looking up client: %w", err)
	}

	if c.AccessTokenLifetime > 0 && c.AccessTokenLifetime < lifetime {
		return c.AccessTokenLifetime, nil
	}

	return lifetime, nil
}

// actingUser recovers the user a request acts for, whichever grant
// produced it. Client credentials requests act for no user.
func actingUser(grant models.Grant) string {
	switch g := grant.(type) {
	case models.PasswordGrant:
		return g.Username
	case *models.PasswordGrant:
		return g.Username
	case models.RefreshGrant:
		return g.Authorization.User
	case *models.RefreshGrant:
		return g.Authorization.User
	default:
		return ""
	}
}

// CreateAccessToken mints an access token for an approved request. It
// returns the token contents and their signed, encrypted encoding.
func (i *Issuer) CreateAccessToken(req *models.AccessTokenRequest) (*models.IssuedAccessToken, string, error) {
	if req == nil {
		return nil, "", fmt.Errorf("request is required: %w", apperrors.ErrArgument)
	}

	lifetime, err := i.tokenLifetime(req.ClientID)
	if err != nil {
		return nil, "", err
	}

	authzPair, err := i.keys.GetCryptoKey(keys.PurposeAuthZServer)
	if err != nil {
		return nil, "", fmt.Errorf("resolving signing key: %w", err)
	}

	apiPair, err := i.keys.GetCryptoKey(keys.PurposeAPIService)
	if err != nil {
		return nil, "", fmt.Errorf("resolving encryption key: %w", err)
	}

	token := &models.IssuedAccessToken{
		User:      actingUser(req.Grant),
		ClientID:  req.ClientID,
		Scope:     append([]string(nil), req.Scope...),
		UTCIssued: i.now().UTC(),
		Lifetime:  lifetime,
	}

	if token.User != "" {
		u, err := i.users.GetUser(token.User)
		switch {
		case err == nil:
			token.ExtraData = map[string]string{RolesClaim: strings.Join(u.Roles, ",")}
		case errors.Is(err, apperrors.ErrNotFound):
			i.logger.Debug("issuing token for user without credential record", slog.String("client_id", req.ClientID))
		default:
			return nil, "", fmt.Errorf("looking up user: %w", err)
		}
	}

	signed, err := signAccessToken(token, i.issuer, authzPair.PrivateEncryptionKey)
	if err != nil {
		return nil, "", err
	}

	encoded, err := encryptCompact([]byte(signed), apiPair.PublicSigningKey)
	if err != nil {
		return nil, "", fmt.Errorf("encrypting access token: %w", err)
	}

	return token, encoded, nil
}
