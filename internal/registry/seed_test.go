package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/authz-server/internal/auth"
	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeeder(t *testing.T) (*Seeder, *state.State) {
	t.Helper()

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := NewSeeder(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Skip the production work factor; the format is what matters here.
	s.hash = func(p string) (string, error) { return "pbkdf2-sha256:1:c2FsdA==:" + p, nil }

	return s, st
}

func writeSeed(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestBuiltIn(t *testing.T) {
	seed := BuiltIn(false)
	require.Len(t, seed.Clients, 1)
	assert.Equal(t, "someuniqueidentifier2", seed.Clients[0].ClientID)
	require.Len(t, seed.Users, 1)
	assert.Equal(t, "an.appuser", seed.Users[0].Username)
	assert.Equal(t, []string{"clientapplication"}, seed.Users[0].Roles)

	withTest := BuiltIn(true)
	assert.Len(t, withTest.Clients, 2)
	require.Len(t, withTest.Users, 2)
	assert.Equal(t, "test.user", withTest.Users[1].Username)
	assert.Equal(t, []string{auth.RoleGod}, withTest.Users[1].Roles)
}

func TestApply_BuiltInAccountsAuthenticate(t *testing.T) {
	s, st := testSeeder(t)
	s.hash = auth.HashPassword

	require.NoError(t, s.Apply(BuiltIn(false)))

	client, err := st.GetClient("someuniqueidentifier2")
	require.NoError(t, err)
	assert.Equal(t, "somesecret", client.ClientSecret)

	user, err := st.GetUser("an.appuser")
	require.NoError(t, err)
	assert.True(t, auth.VerifyPassword("somepassword", user.PasswordHash))

	_, err = st.GetUser("test.user")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	writeSeed(t, path, `
clients:
  - client_id: reporting
    client_secret: s3cret
    name: Reporting
    access_token_lifetime_minutes: 2.5
users:
  - username: bob
    password: hunter2
    roles: [reader, writer]
  - username: carol
    password_hash: "pbkdf2-sha256:1000:c2FsdA==:aGFzaA=="
`)

	seed, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, seed.Clients, 1)
	assert.Equal(t, 2.5, seed.Clients[0].AccessTokenLifetimeMinutes)
	require.Len(t, seed.Users, 2)
	assert.Equal(t, []string{"reader", "writer"}, seed.Users[0].Roles)

	s, st := testSeeder(t)
	require.NoError(t, s.Apply(seed))

	client, err := st.GetClient("reporting")
	require.NoError(t, err)
	assert.Equal(t, 150*time.Second, client.AccessTokenLifetime)

	carol, err := st.GetUser("carol")
	require.NoError(t, err)
	assert.Equal(t, "pbkdf2-sha256:1000:c2FsdA==:aGFzaA==", carol.PasswordHash)

	bob, err := st.GetUser("bob")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", bob.PasswordHash)
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "clients: [\n"},
		{"client without secret", "clients:\n  - client_id: a\n"},
		{"negative lifetime", "clients:\n  - client_id: a\n    client_secret: b\n    access_token_lifetime_minutes: -1\n"},
		{"user without username", "users:\n  - password: x\n"},
		{"user without password", "users:\n  - username: x\n"},
		{"user with both", "users:\n  - username: x\n    password: y\n    password_hash: pbkdf2-sha256:1:a:b\n"},
		{"foreign hash", "users:\n  - username: x\n    password_hash: $2a$10$abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "seed.yaml")
			writeSeed(t, path, tt.content)

			_, err := LoadFile(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading seed file")
}

// waitFor polls until cond returns true or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("timed out waiting for condition")
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	s, st := testSeeder(t)
	path := filepath.Join(t.TempDir(), "seed.yaml")
	writeSeed(t, path, "clients:\n  - client_id: first\n    client_secret: one\n")
	require.NoError(t, s.ApplyFile(path))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Watch(ctx, path)
	}()

	t.Cleanup(func() {
		cancel()

		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("watcher error: %v", err)
		}
	})

	// Give fsnotify a moment to set up watches.
	time.Sleep(50 * time.Millisecond)

	// An invalid edit leaves the registry as it was.
	writeSeed(t, path, "clients:\n  - client_id: broken\n")
	time.Sleep(2 * reloadDelay)

	_, err := st.GetClient("broken")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	writeSeed(t, path, "clients:\n  - client_id: second\n    client_secret: two\n")

	waitFor(t, 3*time.Second, func() bool {
		c, err := st.GetClient("second")
		return err == nil && c.ClientSecret == "two"
	})
}

func TestWatch_MissingDirectory(t *testing.T) {
	s, _ := testSeeder(t)

	err := s.Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "seed.yaml"))
	assert.ErrorContains(t, err, "watching seed directory")
}
