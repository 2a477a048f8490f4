// Package auth implements an OAuth 2.0 authorization server for the
// password, refresh_token and client_credentials grants, and the
// resource-server middleware that validates the access tokens it mints.
package auth

//go:generate mockgen -source=clients.go -destination=mock_stores_test.go -package=auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/models"
)

// ClientStore looks up registered client applications. A missing client
// must yield an error wrapping errors.ErrNotFound.
type ClientStore interface {
	GetClient(clientID string) (*models.ClientApplication, error)
}

// UserStore looks up resource owner credentials. A missing user must
// yield an error wrapping errors.ErrNotFound.
type UserStore interface {
	GetUser(username string) (*models.UserCredential, error)
}

// AuthorizationLog records, per user and client, the instant from which
// authorizations are honored.
type AuthorizationLog interface {
	AuthorizedSince(user, clientID string) (time.Time, bool, error)
	SetAuthorizedSince(user, clientID string, since time.Time) error
}

// ClientAuthenticator answers questions about client identity.
type ClientAuthenticator struct {
	clients ClientStore
}

// NewClientAuthenticator creates a ClientAuthenticator over a registry.
func NewClientAuthenticator(clients ClientStore) *ClientAuthenticator {
	return &ClientAuthenticator{clients: clients}
}

// IsRegisteredClient reports whether clientID names a registered client.
// An empty id and a registry miss both return false without error.
func (a *ClientAuthenticator) IsRegisteredClient(clientID string) (bool, error) {
	if clientID == "" {
		return false, nil
	}

	_, err := a.clients.GetClient(clientID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("looking up client: %w", err)
	}

	return true, nil
}

// GetClient returns the client registered under clientID. Unlike
// IsRegisteredClient, a miss is an error wrapping ErrClientUnknown.
func (a *ClientAuthenticator) GetClient(clientID string) (*models.ClientApplication, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id is required: %w", apperrors.ErrArgument)
	}

	c, err := a.clients.GetClient(clientID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("client %q: %w", clientID, apperrors.ErrClientUnknown)
	}

	if err != nil {
		return nil, fmt.Errorf("looking up client: %w", err)
	}

	return c, nil
}

// AuthenticateClient reports whether secret is the secret issued to
// clientID. Unknown clients do not authenticate.
func (a *ClientAuthenticator) AuthenticateClient(clientID, secret string) (bool, error) {
	if clientID == "" || secret == "" {
		return false, nil
	}

	c, err := a.clients.GetClient(clientID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("looking up client: %w", err)
	}

	return subtle.ConstantTimeCompare([]byte(c.ClientSecret), []byte(secret)) == 1, nil
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return hex.EncodeToString(b)
}
