// Package models defines types shared across internal packages.
package models

import (
	"crypto/rsa"
	"time"
)

// ClientApplication is a registered OAuth client. The secret is never
// rotated once issued.
type ClientApplication struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Name         string `json:"name,omitempty"`

	// AccessTokenLifetime shortens the server default for this client.
	// Zero means no override.
	AccessTokenLifetime time.Duration `json:"access_token_lifetime,omitempty"`
}

// UserCredential is a resource owner account. PasswordHash uses the
// "algorithm:iterations:salt:hash" format.
type UserCredential struct {
	Username     string   `json:"username"`
	PasswordHash string   `json:"password_hash"`
	Roles        []string `json:"roles,omitempty"`
}

// AuthorizationDescription is the authorization carried inside a
// refresh token. It is revalidated on every use.
type AuthorizationDescription struct {
	User      string    `json:"user"`
	ClientID  string    `json:"client_id"`
	Scope     []string  `json:"scope"`
	UTCIssued time.Time `json:"utc_issued"`
}

// IssuedAccessToken is the content of a minted bearer token. It is never
// stored server-side.
type IssuedAccessToken struct {
	User      string            `json:"user,omitempty"`
	ClientID  string            `json:"client_id"`
	Scope     []string          `json:"scope"`
	UTCIssued time.Time         `json:"utc_issued"`
	Lifetime  time.Duration     `json:"lifetime"`
	ExtraData map[string]string `json:"extra_data,omitempty"`
}

// ExpiresAt returns the instant the token stops being valid.
func (t *IssuedAccessToken) ExpiresAt() time.Time {
	return t.UTCIssued.Add(t.Lifetime)
}

// CryptoKey is symmetric key material kept in a bucket under a handle.
type CryptoKey struct {
	Bucket     string    `json:"bucket"`
	Handle     string    `json:"handle"`
	Key        []byte    `json:"key"`
	ExpiresUTC time.Time `json:"expires_utc"`
}

// CryptoKeyPair is the asymmetric key pair for one key purpose.
type CryptoKeyPair struct {
	PublicSigningKey     *rsa.PublicKey
	PrivateEncryptionKey *rsa.PrivateKey
}

// Grant is the grant-specific part of an AccessTokenRequest. It is one
// of PasswordGrant, RefreshGrant or ClientCredentialsGrant.
type Grant interface {
	GrantType() string
}

// PasswordGrant carries resource owner credentials.
type PasswordGrant struct {
	Username string
	Password string
}

// GrantType implements Grant.
func (PasswordGrant) GrantType() string { return "password" }

// RefreshGrant carries the authorization decoded from a presented
// refresh token.
type RefreshGrant struct {
	Authorization AuthorizationDescription
}

// GrantType implements Grant.
func (RefreshGrant) GrantType() string { return "refresh_token" }

// ClientCredentialsGrant acts for the client itself, with no user.
type ClientCredentialsGrant struct{}

// GrantType implements Grant.
func (ClientCredentialsGrant) GrantType() string { return "client_credentials" }

// AccessTokenRequest is a single token request. It is never persisted.
type AccessTokenRequest struct {
	ClientID string
	Scope    []string
	Grant    Grant
}
