package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/models"
)

// CanonicalScope is the only scope this server grants.
const CanonicalScope = "profile"

// ClientDecision is the outcome of a client credentials grant check.
type ClientDecision struct {
	Approved      bool
	ApprovedScope []string
}

// UserDecision is the outcome of a resource owner password grant check.
type UserDecision struct {
	Approved          bool
	CanonicalUsername string
}

// Authorizer decides whether grants are approved and whether a
// previously issued authorization is still valid. Rejections are
// returned as decisions; errors are reserved for bad arguments and
// storage faults.
type Authorizer struct {
	*ClientAuthenticator

	users   UserStore
	authLog AuthorizationLog
	logger  *slog.Logger
}

// NewAuthorizer creates an Authorizer. authLog may be nil, in which case
// revocation is not tracked.
func NewAuthorizer(clients ClientStore, users UserStore, authLog AuthorizationLog, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		ClientAuthenticator: NewClientAuthenticator(clients),
		users:               users,
		authLog:             authLog,
		logger:              logger,
	}
}

// isCanonicalScope reports whether scope is exactly the canonical scope.
func isCanonicalScope(scope []string) bool {
	return len(scope) == 1 && strings.EqualFold(scope[0], CanonicalScope)
}

// lookupUser folds a registry miss into ok=false.
func (a *Authorizer) lookupUser(username string) (*models.UserCredential, bool, error) {
	u, err := a.users.GetUser(username)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("looking up user: %w", err)
	}

	return u, true, nil
}

// CheckClientCredentialsGrant approves the request when its client is
// registered. The requested scope is echoed back unchanged.
func (a *Authorizer) CheckClientCredentialsGrant(req *models.AccessTokenRequest) (ClientDecision, error) {
	if req == nil {
		return ClientDecision{}, fmt.Errorf("request is required: %w", apperrors.ErrArgument)
	}

	registered, err := a.IsRegisteredClient(req.ClientID)
	if err != nil {
		return ClientDecision{}, err
	}

	return ClientDecision{Approved: registered, ApprovedScope: req.Scope}, nil
}

// CheckResourceOwnerGrant approves a password grant. Checks run in a
// fixed order: client registered, user exists, scope canonical,
// password verifies.
func (a *Authorizer) CheckResourceOwnerGrant(username, password string, req *models.AccessTokenRequest) (UserDecision, error) {
	if username == "" {
		return UserDecision{}, fmt.Errorf("username is required: %w", apperrors.ErrArgument)
	}

	if password == "" {
		return UserDecision{}, fmt.Errorf("password is required: %w", apperrors.ErrArgument)
	}

	if req == nil {
		return UserDecision{}, fmt.Errorf("request is required: %w", apperrors.ErrArgument)
	}

	registered, err := a.IsRegisteredClient(req.ClientID)
	if err != nil {
		return UserDecision{}, err
	}

	if !registered {
		a.logger.Debug("password grant: client not registered", slog.String("client_id", req.ClientID))
		return UserDecision{}, nil
	}

	user, ok, err := a.lookupUser(username)
	if err != nil {
		return UserDecision{}, err
	}

	if !ok {
		a.logger.Debug("password grant: unknown user", slog.String("client_id", req.ClientID))
		return UserDecision{}, nil
	}

	if !isCanonicalScope(req.Scope) {
		a.logger.Debug("password grant: scope rejected",
			slog.String("client_id", req.ClientID),
			slog.String("scope", strings.Join(req.Scope, " ")),
		)

		return UserDecision{}, nil
	}

	if !VerifyPassword(password, user.PasswordHash) {
		a.logger.Debug("password grant: wrong password", slog.String("client_id", req.ClientID))
		return UserDecision{}, nil
	}

	return UserDecision{Approved: true, CanonicalUsername: username}, nil
}

// IsAuthorizationValid revalidates an authorization carried by a refresh
// token. The user must still exist, the client must still be registered,
// the scope must be canonical, and the authorization must not predate a
// revocation recorded for the user and client.
func (a *Authorizer) IsAuthorizationValid(auth *models.AuthorizationDescription) (bool, error) {
	if auth == nil {
		return false, fmt.Errorf("authorization is required: %w", apperrors.ErrArgument)
	}

	if auth.User == "" {
		return false, nil
	}

	_, ok, err := a.lookupUser(auth.User)
	if err != nil || !ok {
		return false, err
	}

	registered, err := a.IsRegisteredClient(auth.ClientID)
	if err != nil || !registered {
		return false, err
	}

	if !isCanonicalScope(auth.Scope) {
		return false, nil
	}

	if a.authLog == nil {
		return true, nil
	}

	since, ok, err := a.authLog.AuthorizedSince(auth.User, auth.ClientID)
	if err != nil {
		return false, fmt.Errorf("reading authorization log: %w", err)
	}

	if ok && auth.UTCIssued.Before(since) {
		a.logger.Debug("authorization predates revocation",
			slog.String("client_id", auth.ClientID),
			slog.Time("issued", auth.UTCIssued),
			slog.Time("authorized_since", since),
		)

		return false, nil
	}

	return true, nil
}

// Revoke invalidates every authorization for user and clientID issued
// before at.
func (a *Authorizer) Revoke(user, clientID string, at time.Time) error {
	if user == "" || clientID == "" {
		return fmt.Errorf("user and client id are required: %w", apperrors.ErrArgument)
	}

	if a.authLog == nil {
		return fmt.Errorf("revocation is not enabled: %w", apperrors.ErrConfiguration)
	}

	if err := a.authLog.SetAuthorizedSince(user, clientID, at); err != nil {
		return fmt.Errorf("recording revocation: %w", err)
	}

	return nil
}
