package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// calendarScope is the only scope the sync engine needs.
const calendarScope = "https://www.googleapis.com/auth/calendar"

// TokenStore is the persistence half of the credential boundary, owned by
// the auth subsystem. The sync engine only loads pairs and saves rotated
// access tokens back.
type TokenStore interface {
	Load(ctx context.Context, memberID string) (Token, error)
	Save(ctx context.Context, memberID string, tok Token) error
}

// OAuthConfig returns the OAuth2 configuration for the remote calendar API.
// Client ID and secret come from the environment; the redirect URL belongs
// to the excluded CRUD layer's connect flow.
func OAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		Endpoint:     google.Endpoint,
		RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		Scopes:       []string{calendarScope},
	}
}

// OAuthProvider implements Provider against a TokenStore using the Google
// OAuth2 endpoint for refreshes.
type OAuthProvider struct {
	conf  *oauth2.Config
	store TokenStore
}

// NewOAuthProvider creates a Provider that refreshes tokens through the
// given OAuth2 config and persists rotated tokens in store.
func NewOAuthProvider(conf *oauth2.Config, store TokenStore) *OAuthProvider {
	if conf == nil {
		conf = OAuthConfig()
	}
	return &OAuthProvider{conf: conf, store: store}
}

// Token implements Provider.
func (p *OAuthProvider) Token(ctx context.Context, memberID string) (Token, error) {
	return p.store.Load(ctx, memberID)
}

// Refresh implements Provider. It exchanges the member's refresh token for a
// new access token and saves the rotated pair. A rejected refresh
// (invalid_grant) surfaces as ErrRevoked.
func (p *OAuthProvider) Refresh(ctx context.Context, memberID string) (Token, error) {
	stored, err := p.store.Load(ctx, memberID)
	if err != nil {
		return Token{}, err
	}
	if stored.RefreshToken == "" {
		return Token{}, fmt.Errorf("member %s has no refresh token: %w", memberID, ErrRevoked)
	}

	src := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: stored.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.ErrorCode == "invalid_grant" {
			return Token{}, fmt.Errorf("refresh rejected for member %s: %w", memberID, ErrRevoked)
		}
		return Token{}, fmt.Errorf("refresh failed for member %s: %w", memberID, err)
	}

	rotated := Token{AccessToken: fresh.AccessToken, RefreshToken: stored.RefreshToken}
	if fresh.RefreshToken != "" {
		rotated.RefreshToken = fresh.RefreshToken
	}
	if err := p.store.Save(ctx, memberID, rotated); err != nil {
		return Token{}, fmt.Errorf("save rotated token for member %s: %w", memberID, err)
	}
	return rotated, nil
}
