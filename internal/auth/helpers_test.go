package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/authz-server/internal/keys"
	"github.com/alexjbarnes/authz-server/internal/models"
	"github.com/alexjbarnes/authz-server/internal/state"
	"github.com/stretchr/testify/require"
)

const (
	testServerURL    = "https://authz.example.com"
	testClientID     = "client1"
	testClientSecret = "secret1"
	testUser         = "alice"
	testPassword     = "apassword"
	testKeyPrefix    = "Test.Certificates"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testSettings map[string]string

func (s testSettings) GetSetting(name string) (string, bool) {
	v, ok := s[name]
	return v, ok
}

var (
	bundleOnce  sync.Once
	authzBundle []byte
	apiBundle   []byte
	bundleErr   error
)

// testKeyProvider writes one certificate per key purpose into a fresh
// store. Certificates are generated once per test binary.
func testKeyProvider(t *testing.T) *keys.Provider {
	t.Helper()

	bundleOnce.Do(func() {
		authzBundle, bundleErr = keys.GenerateCertificate("authz.test", 24*time.Hour)
		if bundleErr == nil {
			apiBundle, bundleErr = keys.GenerateCertificate("api.test", 24*time.Hour)
		}
	})
	require.NoError(t, bundleErr)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "authz.pem"), authzBundle, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api.pem"), apiBundle, 0o600))

	return keys.NewProvider(testSettings{
		keys.SettingName(testKeyPrefix, keys.PurposeAuthZServer): "authz.test",
		keys.SettingName(testKeyPrefix, keys.PurposeAPIService):  "api.test",
	}, testKeyPrefix, dir, testLogger())
}

func testState(t *testing.T) *state.State {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return st
}

// testHash hashes with a low work factor to keep tests fast.
func testHash(t *testing.T, password string) string {
	t.Helper()

	h, err := hashPasswordWithIterations(password, 1000)
	require.NoError(t, err)

	return h
}

// fixture wires the full token pipeline over a temporary state database
// holding one client and one user.
type fixture struct {
	state      *state.State
	keys       *keys.Provider
	authorizer *Authorizer
	issuer     *Issuer
	refresh    *RefreshCodec
	engine     *Engine
	dispatcher *Dispatcher
	validator  *TokenValidator
}

func newFixture(t *testing.T, lifetimeMinutes string) *fixture {
	t.Helper()

	st := testState(t)
	require.NoError(t, st.SaveClient(models.ClientApplication{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		Name:         "Test Client",
	}))
	require.NoError(t, st.SaveUser(models.UserCredential{
		Username:     testUser,
		PasswordHash: testHash(t, testPassword),
		Roles:        []string{"foo"},
	}))

	provider := testKeyProvider(t)
	logger := testLogger()

	authorizer := NewAuthorizer(st, st, st, logger)
	issuer := NewIssuer(IssuerConfig{
		Clients:  st,
		Users:    st,
		Keys:     provider,
		Settings: testSettings{DefaultLifetimeSetting: lifetimeMinutes},
		Issuer:   testServerURL,
		Logger:   logger,
	})
	refresh := NewRefreshCodec(keys.NewStore(st), 14*24*time.Hour)
	engine := NewEngine(EngineConfig{
		Authorizer: authorizer,
		Issuer:     issuer,
		Refresh:    refresh,
		Logger:     logger,
	})

	return &fixture{
		state:      st,
		keys:       provider,
		authorizer: authorizer,
		issuer:     issuer,
		refresh:    refresh,
		engine:     engine,
		dispatcher: NewDispatcher(engine, logger),
		validator:  NewTokenValidator(provider, testServerURL),
	}
}

// formRequest builds a form-encoded token request authenticated with
// HTTP Basic as the test client.
func formRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testClientID, testClientSecret)

	return req
}

func passwordForm(password, scope string) url.Values {
	return url.Values{
		"grant_type": {"password"},
		"username":   {testUser},
		"password":   {password},
		"scope":      {scope},
	}
}
