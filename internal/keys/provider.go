// Package keys resolves the asymmetric key pairs used to sign and
// encrypt access tokens, and stores the symmetric keys that protect
// refresh tokens.
package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/models"
	"golang.org/x/sync/singleflight"
)

// Purpose names what a key pair is used for.
type Purpose string

const (
	// PurposeAuthZServer signs access tokens.
	PurposeAuthZServer Purpose = "AuthZServer"

	// PurposeAPIService encrypts access tokens for the resource server.
	PurposeAPIService Purpose = "ApiService"
)

// DefaultSettingPrefix is the setting prefix used when none is configured.
const DefaultSettingPrefix = "CryptoKeyHelper.Certificates.Services"

// Settings is the named-setting lookup the provider reads certificate
// subject names from.
type Settings interface {
	GetSetting(name string) (string, bool)
}

// SettingName returns the setting holding the certificate subject for
// a purpose, e.g. "CryptoKeyHelper.Certificates.Services.AuthZServer".
func SettingName(prefix string, purpose Purpose) string {
	return prefix + "." + string(purpose)
}

// Provider resolves key pairs from a directory of PEM files, each
// holding a certificate and its private key. Resolved pairs are cached
// for the life of the process.
type Provider struct {
	settings Settings
	prefix   string
	storeDir string
	logger   *slog.Logger

	cache sync.Map // Purpose -> *models.CryptoKeyPair
	group singleflight.Group
}

// NewProvider creates a provider reading subject names from settings
// under prefix and certificates from storeDir.
func NewProvider(settings Settings, prefix, storeDir string, logger *slog.Logger) *Provider {
	if prefix == "" {
		prefix = DefaultSettingPrefix
	}

	return &Provider{
		settings: settings,
		prefix:   prefix,
		storeDir: storeDir,
		logger:   logger,
	}
}

// GetCryptoKey returns the key pair for purpose. It fails with
// ErrConfiguration when the subject setting is missing and with
// ErrKeyNotFound when no certificate matches the subject.
func (p *Provider) GetCryptoKey(purpose Purpose) (*models.CryptoKeyPair, error) {
	if purpose == "" {
		return nil, fmt.Errorf("key purpose is required: %w", apperrors.ErrArgument)
	}

	if v, ok := p.cache.Load(purpose); ok {
		return v.(*models.CryptoKeyPair), nil
	}

	v, err, _ := p.group.Do(string(purpose), func() (any, error) {
		if v, ok := p.cache.Load(purpose); ok {
			return v, nil
		}

		pair, err := p.load(purpose)
		if err != nil {
			return nil, err
		}

		p.cache.Store(purpose, pair)

		return pair, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*models.CryptoKeyPair), nil
}

func (p *Provider) load(purpose Purpose) (*models.CryptoKeyPair, error) {
	settingName := SettingName(p.prefix, purpose)

	subject, ok := p.settings.GetSetting(settingName)
	if !ok || strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("reading certificate subject from setting %q: %w", settingName, apperrors.ErrConfiguration)
	}

	return p.loadBySubjectName(subject)
}

// loadBySubjectName scans every *.pem file in the store for a
// certificate whose subject common name matches subject, ignoring case.
// The first match in file-name order wins. Files that cannot be read or
// parsed are skipped.
func (p *Provider) loadBySubjectName(subject string) (*models.CryptoKeyPair, error) {
	files, err := filepath.Glob(filepath.Join(p.storeDir, "*.pem"))
	if err != nil {
		return nil, fmt.Errorf("listing certificate store %s: %w", p.storeDir, err)
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			p.logger.Warn("skipping unreadable certificate file",
				slog.String("file", file),
				slog.String("error", err.Error()),
			)

			continue
		}

		pair, err := parseBundle(data, subject)
		switch {
		case err == nil:
			return pair, nil
		case errors.Is(err, errNoMatch):
			continue
		case errors.Is(err, apperrors.ErrKeyNotFound):
			return nil, fmt.Errorf("certificate file %s: %w", file, err)
		default:
			p.logger.Warn("skipping malformed certificate file",
				slog.String("file", file),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil, fmt.Errorf("no certificate with subject %q in %s: %w", subject, p.storeDir, apperrors.ErrKeyNotFound)
}

var errNoMatch = errors.New("no matching certificate")

// parseBundle extracts the certificate matching subject and the RSA
// private key that belongs to it from a PEM bundle.
func parseBundle(data []byte, subject string) (*models.CryptoKeyPair, error) {
	var (
		cert *x509.Certificate
		priv []*rsa.PrivateKey
	)

	for {
		var block *pem.Block

		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		switch block.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing certificate: %w", err)
			}

			if cert == nil && strings.EqualFold(c.Subject.CommonName, subject) {
				cert = c
			}
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing PKCS1 key: %w", err)
			}

			priv = append(priv, k)
		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parsing PKCS8 key: %w", err)
			}

			if rk, ok := k.(*rsa.PrivateKey); ok {
				priv = append(priv, rk)
			}
		}
	}

	if cert == nil {
		return nil, errNoMatch
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate %q does not hold an RSA key: %w", subject, apperrors.ErrKeyNotFound)
	}

	for _, k := range priv {
		if k.PublicKey.Equal(pub) {
			return &models.CryptoKeyPair{
				PublicSigningKey:     pub,
				PrivateEncryptionKey: k,
			}, nil
		}
	}

	return nil, fmt.Errorf("certificate %q has no private key: %w", subject, apperrors.ErrKeyNotFound)
}
