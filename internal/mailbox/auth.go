package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/vigneshprince/expensetracker/internal/store"
)

var (
	// ErrCredentialsMissing means no refresh credential is stored for the
	// account; unattended sync cannot run until the user consents.
	ErrCredentialsMissing = errors.New("no stored credentials for account")

	// ErrTokenRefreshFailed means the provider rejected the stored refresh
	// credential; auto-sync must be re-enabled by the user.
	ErrTokenRefreshFailed = errors.New("refresh token rejected by provider")

	// ErrNoRefreshToken means the authorization exchange succeeded but the
	// provider returned no refresh credential and none was stored before.
	ErrNoRefreshToken = errors.New("authorization exchange returned no refresh token")

	// ErrProviderFetch wraps transport or quota failures from the mailbox
	// provider. The fetch batch aborts and the cursor is not advanced.
	ErrProviderFetch = errors.New("mailbox fetch failed")
)

// Authenticator owns the OAuth credential lifecycle for mailbox accounts:
// consent URL, one-time code exchange, and minting short-lived access tokens
// from the stored refresh credential.
type Authenticator struct {
	cfg         *oauth2.Config
	credentials store.CredentialStore
	log         zerolog.Logger
}

// NewAuthenticator creates an Authenticator for the given OAuth client.
func NewAuthenticator(clientID, clientSecret, redirectURL string, credentials store.CredentialStore, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		credentials: credentials,
		log:         log,
	}
}

// AuthorizationURL returns the consent URL requesting offline, consent-forced
// access to the read-only mailbox scope. Forcing the consent screen is what
// makes the provider hand back a refresh token.
func (a *Authenticator) AuthorizationURL() string {
	return a.cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// CompleteAuthorization exchanges a one-time authorization code, resolves
// which mailbox the grant is for, and persists the refresh credential merged
// over any existing record. It returns the resolved account id. Some provider
// flows omit the refresh token on re-consent; when a credential is already
// stored that is logged as a warning, not treated as a failure.
func (a *Authenticator) CompleteAuthorization(ctx context.Context, code string) (string, error) {
	token, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}

	accountID, err := resolveAccountEmail(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return "", fmt.Errorf("resolve account for authorization grant: %w", err)
	}

	if token.RefreshToken == "" {
		if _, getErr := a.credentials.Get(ctx, accountID); getErr == nil {
			a.log.Warn().
				Str("account", accountID).
				Msg("Re-consent returned no refresh token, keeping stored credential")
			return accountID, nil
		}
		return "", fmt.Errorf("exchange authorization code for %s: %w", accountID, ErrNoRefreshToken)
	}

	cred := &store.Credential{
		AccountID:    accountID,
		RefreshToken: token.RefreshToken,
	}
	if err := a.credentials.Save(ctx, cred); err != nil {
		return "", fmt.Errorf("persist credential for %s: %w", accountID, err)
	}

	a.log.Info().Str("account", accountID).Msg("Stored refresh credential")
	return accountID, nil
}

// resolveAccountEmail asks the provider whose mailbox the token grants.
func resolveAccountEmail(ctx context.Context, ts oauth2.TokenSource) (string, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return "", fmt.Errorf("create gmail service: %w", err)
	}
	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// TokenSource returns an oauth2 token source backed by the account's stored
// refresh credential. Returns ErrCredentialsMissing when no credential is
// stored.
func (a *Authenticator) TokenSource(ctx context.Context, accountID string) (oauth2.TokenSource, error) {
	cred, err := a.credentials.Get(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("token source for %s: %w", accountID, ErrCredentialsMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("load credential for %s: %w", accountID, err)
	}

	return a.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}), nil
}

// AccessToken mints a fresh access token for the account. A provider
// rejection of the refresh credential surfaces as ErrTokenRefreshFailed so
// the caller can prompt the user to re-consent.
func (a *Authenticator) AccessToken(ctx context.Context, accountID string) (string, error) {
	ts, err := a.TokenSource(ctx, accountID)
	if err != nil {
		return "", err
	}

	token, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("refresh access token for %s: %v: %w", accountID, err, ErrTokenRefreshFailed)
	}
	return token.AccessToken, nil
}
