package keys

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// certKeyBits is the RSA modulus size for generated certificates.
	certKeyBits = 2048

	certDirPerm  = fs.FileMode(0o700)
	certFilePerm = fs.FileMode(0o600)
)

// GenerateCertificate creates a self-signed certificate for subject and
// returns a PEM bundle holding the certificate and its PKCS8 private key.
func GenerateCertificate(subject string, validFor time.Duration) ([]byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, certKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: subject},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}

	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return nil, err
	}

	if err := pem.Encode(&buf, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteCertificate generates a certificate for subject and writes it to
// dir as <subject>.pem. It returns the file path.
func WriteCertificate(dir, subject string, validFor time.Duration) (string, error) {
	if err := os.MkdirAll(dir, certDirPerm); err != nil {
		return "", fmt.Errorf("creating certificate store: %w", err)
	}

	bundle, err := GenerateCertificate(subject, validFor)
	if err != nil {
		return "", err
	}

	name := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(subject) + ".pem"
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, bundle, certFilePerm); err != nil {
		return "", fmt.Errorf("writing certificate: %w", err)
	}

	return path, nil
}
