package e2e_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/authz-server/internal/auth"
	"github.com/alexjbarnes/authz-server/internal/keys"
	"github.com/alexjbarnes/authz-server/internal/registry"
	"github.com/alexjbarnes/authz-server/internal/server"
	"github.com/alexjbarnes/authz-server/internal/state"
	"github.com/stretchr/testify/require"
)

// Built-in accounts seeded with test accounts enabled.
const (
	appClientID  = "someuniqueidentifier2"
	appSecret    = "somesecret"
	appUser      = "an.appuser"
	testClientID = "someuniqueidentifier1"
	testSecret   = "somesecret1"
	testUser     = "test.user"
	userPassword = "somepassword"

	keyPrefix = "E2E.Certificates"
)

type settings map[string]string

func (s settings) GetSetting(name string) (string, bool) {
	v, ok := s[name]
	return v, ok && v != ""
}

// harness holds the full stack: a real HTTP server over a temporary
// state database and certificate store.
type harness struct {
	URL    string
	State  *state.State
	Client *http.Client
}

// newHarness seeds the built-in accounts, generates both key pairs and
// serves server.NewMux from an httptest server.
func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	st, err := state.LoadAt(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, registry.NewSeeder(st, logger).Apply(registry.BuiltIn(true)))

	certDir := filepath.Join(dir, "certs")
	_, err = keys.WriteCertificate(certDir, "authz.e2e", time.Hour)
	require.NoError(t, err)
	_, err = keys.WriteCertificate(certDir, "api.e2e", time.Hour)
	require.NoError(t, err)

	provider := keys.NewProvider(settings{
		keys.SettingName(keyPrefix, keys.PurposeAuthZServer): "authz.e2e",
		keys.SettingName(keyPrefix, keys.PurposeAPIService):  "api.e2e",
	}, keyPrefix, certDir, logger)

	// The issuer must match the server URL, so read the listener address
	// before building the mux.
	ts := httptest.NewUnstartedServer(nil)
	serverURL := "http://" + ts.Listener.Addr().String()

	authorizer := auth.NewAuthorizer(st, st, st, logger)
	issuer := auth.NewIssuer(auth.IssuerConfig{
		Clients:  st,
		Users:    st,
		Keys:     provider,
		Settings: settings{auth.DefaultLifetimeSetting: "15"},
		Issuer:   serverURL,
		Logger:   logger,
	})
	engine := auth.NewEngine(auth.EngineConfig{
		Authorizer: authorizer,
		Issuer:     issuer,
		Refresh:    auth.NewRefreshCodec(keys.NewStore(st), 24*time.Hour),
		Logger:     logger,
	})

	ts.Config.Handler = server.NewMux(server.MuxConfig{
		Dispatcher: auth.NewDispatcher(engine, logger),
		Authorizer: authorizer,
		Validator:  auth.NewTokenValidator(provider, serverURL),
		Registry:   st,
		Logger:     logger,
		ServerURL:  serverURL,
	})
	ts.Start()
	t.Cleanup(ts.Close)

	return &harness{URL: serverURL, State: st, Client: ts.Client()}
}

// tokenResponse is the JSON body returned by POST /oauth/token.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    string `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// passwordToken runs the password grant as clientID and requires success.
func (h *harness) passwordToken(t *testing.T, clientID, secret, username, password string) tokenResponse {
	t.Helper()

	resp := h.doTokenForm(t, clientID, secret, url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
		"scope":      {auth.CanonicalScope},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tr tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))

	return tr
}

// doTokenForm posts a form token request authenticated with HTTP Basic.
func (h *harness) doTokenForm(t *testing.T, clientID, secret string, form url.Values) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(
		t.Context(), "POST", h.URL+"/oauth/token",
		bytes.NewBufferString(form.Encode()),
	)
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, secret)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doPostJSON performs a POST with a JSON body, with a Bearer token when
// one is given.
func (h *harness) doPostJSON(t *testing.T, path string, body any, bearer string) *http.Response {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(t.Context(), "POST", h.URL+path, bytes.NewReader(b))
	require.NoError(t, err)

	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// doGet performs a GET request, with a Bearer token when one is given.
func (h *harness) doGet(t *testing.T, path, bearer string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), "GET", h.URL+path, nil)
	require.NoError(t, err)

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}
