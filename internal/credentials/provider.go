package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// ErrRevoked is returned when the auth subsystem refuses to refresh a
// member's token. This is permanent for the principal: sync must be
// suspended and the member asked to re-authenticate.
var ErrRevoked = errors.New("credentials revoked")

// ErrNoToken is returned when no token is stored for a member.
var ErrNoToken = errors.New("no token for member")

// Token is an access/refresh token pair for one tenant member.
type Token struct {
	AccessToken  string
	RefreshToken string
}

// Provider supplies per-tenant-member tokens for the remote calendar API.
type Provider interface {
	// Token returns the current token pair for the member.
	Token(ctx context.Context, memberID string) (Token, error)

	// Refresh obtains a new access token for the member. Implementations
	// return ErrRevoked (possibly wrapped) when the remote side refuses
	// the refresh.
	Refresh(ctx context.Context, memberID string) (Token, error)
}

// StaticProvider is an in-memory Provider keyed by member ID. It is used in
// tests and in single-process deployments where tokens are seeded at start.
type StaticProvider struct {
	mu      sync.RWMutex
	tokens  map[string]Token
	revoked map[string]bool
}

// NewStaticProvider creates an empty StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		tokens:  make(map[string]Token),
		revoked: make(map[string]bool),
	}
}

// Set stores the token pair for a member.
func (p *StaticProvider) Set(memberID string, tok Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[memberID] = tok
	delete(p.revoked, memberID)
}

// Revoke marks a member's credentials as revoked. Subsequent Refresh calls
// fail with ErrRevoked.
func (p *StaticProvider) Revoke(memberID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[memberID] = true
}

// Token implements Provider.
func (p *StaticProvider) Token(_ context.Context, memberID string) (Token, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tok, ok := p.tokens[memberID]
	if !ok {
		return Token{}, fmt.Errorf("member %s: %w", memberID, ErrNoToken)
	}
	return tok, nil
}

// Refresh implements Provider. A static provider cannot mint new access
// tokens, so it returns the stored pair unless the member was revoked.
func (p *StaticProvider) Refresh(_ context.Context, memberID string) (Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.revoked[memberID] {
		return Token{}, fmt.Errorf("member %s: %w", memberID, ErrRevoked)
	}
	tok, ok := p.tokens[memberID]
	if !ok {
		return Token{}, fmt.Errorf("member %s: %w", memberID, ErrNoToken)
	}
	return tok, nil
}

// TokenSource adapts a Provider to an oauth2.TokenSource for one member.
// Each call fetches the current token; oauth2 clients wrap this in a
// ReuseTokenSource so the provider is only hit when the token expires.
func TokenSource(ctx context.Context, p Provider, memberID string) oauth2.TokenSource {
	return &providerTokenSource{ctx: ctx, provider: p, memberID: memberID}
}

type providerTokenSource struct {
	ctx      context.Context
	provider Provider
	memberID string
}

func (s *providerTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.provider.Token(s.ctx, s.memberID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    "Bearer",
	}, nil
}
