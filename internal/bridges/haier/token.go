package haier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how close to expiry EnsureFresh refreshes.
const DefaultRefreshMargin = 5 * time.Minute

// Refresher exchanges a refresh token for a new pair. *Client implements it.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (TokenInfo, error)
}

// StoredToken is a token pair with its absolute expiry.
type StoredToken struct {
	TokenInfo
	ExpiresAt time.Time

	// SeedRefreshToken is the configured refresh token this pair was
	// derived from.
	SeedRefreshToken string
}

// TokenRepository persists the current token pair per account.
type TokenRepository interface {
	LoadToken(ctx context.Context, clientID string) (StoredToken, bool, error)
	SaveToken(ctx context.Context, clientID string, token StoredToken) error
}

// TokenStoreOptions configures a TokenStore.
type TokenStoreOptions struct {
	ClientID  string
	Refresher Refresher

	// Repository is optional; without it tokens live only in memory.
	Repository TokenRepository

	// Seed is the pair known from configuration. A persisted pair
	// replaces it in Load unless the persisted pair was derived from a
	// different configured refresh token.
	Seed StoredToken

	Logger Logger
}

// TokenStore holds the account's current token pair.
//
// The pair and its expiry change only through a successful Refresh.
// Concurrent refreshes collapse into a single call to the Refresher.
//
// Thread Safety: All methods are safe for concurrent use.
type TokenStore struct {
	clientID  string
	refresher Refresher
	repo      TokenRepository
	logger    Logger
	now       func() time.Time
	seedRT    string

	mu      sync.RWMutex
	current StoredToken

	refreshGroup singleflight.Group
}

// NewTokenStore creates a store seeded with opts.Seed.
func NewTokenStore(opts TokenStoreOptions) *TokenStore {
	return &TokenStore{
		clientID:  opts.ClientID,
		refresher: opts.Refresher,
		repo:      opts.Repository,
		logger:    orNop(opts.Logger),
		now:       time.Now,
		seedRT:    opts.Seed.RefreshToken,
		current:   opts.Seed,
	}
}

// Load replaces the seed with the persisted pair, if any. A persisted
// pair derived from another configured refresh token is ignored so that
// a newly configured token takes effect.
func (s *TokenStore) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	stored, ok, err := s.repo.LoadToken(ctx, s.clientID)
	if err != nil {
		return fmt.Errorf("loading token: %w", err)
	}
	if !ok {
		return nil
	}
	if s.seedRT != "" && stored.SeedRefreshToken != s.seedRT {
		s.logger.Info("configured refresh token changed, ignoring stored token")
		return nil
	}
	s.mu.Lock()
	s.current = stored
	s.mu.Unlock()
	return nil
}

// AccessToken returns the current access token.
func (s *TokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.AccessToken
}

// Current returns the current pair and its expiry.
func (s *TokenStore) Current() StoredToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// NeedsRefresh reports whether the access token is missing or expires
// within margin.
func (s *TokenStore) NeedsRefresh(margin time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.AccessToken == "" || s.current.ExpiresAt.IsZero() {
		return true
	}
	return !s.now().Add(margin).Before(s.current.ExpiresAt)
}

// EnsureFresh refreshes when NeedsRefresh(margin) is true.
func (s *TokenStore) EnsureFresh(ctx context.Context, margin time.Duration) error {
	if !s.NeedsRefresh(margin) {
		return nil
	}
	_, err := s.Refresh(ctx)
	return err
}

// Refresh exchanges the current refresh token for a new pair, records
// expiresAt = now + expiresIn and persists the result. Callers that
// arrive while a refresh is running share its outcome.
func (s *TokenStore) Refresh(ctx context.Context) (TokenInfo, error) {
	v, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return TokenInfo{}, err
	}
	return v.(TokenInfo), nil
}

func (s *TokenStore) refresh(ctx context.Context) (TokenInfo, error) {
	if s.refresher == nil {
		return TokenInfo{}, errors.New("haier: token store has no refresher")
	}

	s.mu.RLock()
	refreshToken := s.current.RefreshToken
	s.mu.RUnlock()
	if refreshToken == "" {
		return TokenInfo{}, &AuthError{Description: "no refresh token"}
	}

	info, err := s.refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		return TokenInfo{}, err
	}

	stored := StoredToken{TokenInfo: info, ExpiresAt: info.ExpiresAt(s.now()), SeedRefreshToken: s.seedRT}
	s.mu.Lock()
	s.current = stored
	s.mu.Unlock()

	s.logger.Info("access token refreshed", "expires_at", stored.ExpiresAt.Format(time.RFC3339))

	if s.repo != nil {
		if err := s.repo.SaveToken(ctx, s.clientID, stored); err != nil {
			// The new pair is live in memory; the next refresh will retry persisting.
			s.logger.Warn("failed to persist refreshed token", "error", err)
		}
	}
	return info, nil
}

// Adopt installs a pair obtained outside the store, such as the token
// returned by ValidateAccount, and persists it.
func (s *TokenStore) Adopt(ctx context.Context, tok StoredToken) error {
	if tok.SeedRefreshToken == "" {
		tok.SeedRefreshToken = s.seedRT
	}
	s.mu.Lock()
	s.current = tok
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}
	if err := s.repo.SaveToken(ctx, s.clientID, tok); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// AccountValidation is the outcome of ValidateAccount.
type AccountValidation struct {
	Token     StoredToken
	User      UserInfo
	CheckedAt time.Time
}

// ValidateAccount checks a client id and refresh token the way account
// setup does: refresh, then fetch the user with the fresh access token.
func ValidateAccount(ctx context.Context, client *Client, refreshToken string) (AccountValidation, error) {
	info, err := client.RefreshToken(ctx, refreshToken)
	if err != nil {
		return AccountValidation{}, err
	}

	checked := NewClient(ClientOptions{
		Credentials: client.creds,
		Endpoints:   client.endpoints,
		HTTPClient:  client.http,
		Tokens:      StaticToken(info.AccessToken),
		Logger:      client.logger,
	})
	user, err := checked.GetUserInfo(ctx)
	if err != nil {
		return AccountValidation{}, err
	}

	now := client.now()
	return AccountValidation{
		Token:     StoredToken{TokenInfo: info, ExpiresAt: info.ExpiresAt(now)},
		User:      user,
		CheckedAt: now,
	}, nil
}
