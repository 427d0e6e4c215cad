package msauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrAuthUnavailable wraps every failure to acquire an access token.
var ErrAuthUnavailable = errors.New("credential acquisition failed")

const (
	defaultAuthority    = "https://login.microsoftonline.com"
	defaultSafetyMargin = 2 * time.Minute
	// fallbackTTL applies when the token endpoint reports no expiry and
	// the token carries no exp claim; short on purpose so a bad token
	// is not trusted for long.
	fallbackTTL = 5 * time.Minute
)

// DefaultScopes is the application-permissions scope set for Microsoft Graph.
var DefaultScopes = []string{"https://graph.microsoft.com/.default"}

type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// AuthorityBaseURL overrides the Microsoft login endpoint (tests).
	AuthorityBaseURL string
	// SafetyMargin: a cached token counts as expired this long before
	// its actual expiry.
	SafetyMargin time.Duration
}

// TokenSource is the process-wide credential cache: a single client-
// credentials token, refreshed on demand. Readers see either the old
// token or the new one, never a partial state; concurrent refreshes
// collapse into one network call via singleflight.
type TokenSource struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
}

func NewTokenSource(cfg Config, logger *zap.Logger) *TokenSource {
	if cfg.AuthorityBaseURL == "" {
		cfg.AuthorityBaseURL = defaultAuthority
	}
	if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = defaultSafetyMargin
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	return &TokenSource{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
}

// Token returns a valid access token, reusing the cached one while it
// is inside the safety margin and acquiring a fresh one otherwise.
// A failed acquisition is never cached.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	// 并发刷新合并成一次网络请求，其余调用方等待并复用结果。
	// 获取动作和第一个调用方的 context 解耦：那个请求超时了，
	// 结果还要分给等待中的其他调用方用，http client 自带超时兜底
	v, err, _ := s.group.Do("token", func() (any, error) {
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		return s.acquire(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenSource) cached() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accessToken != "" && s.now().Before(s.expiresAt.Add(-s.cfg.SafetyMargin)) {
		return s.accessToken, true
	}
	return "", false
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (s *TokenSource) acquire(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", s.cfg.AuthorityBaseURL, s.cfg.TenantID)

	form := url.Values{}
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	form.Set("scope", strings.Join(s.cfg.Scopes, " "))
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned status %d", ErrAuthUnavailable, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrAuthUnavailable, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: token response missing access_token", ErrAuthUnavailable)
	}

	expiresAt := s.expiryFor(tr)

	s.mu.Lock()
	s.accessToken = tr.AccessToken
	s.expiresAt = expiresAt
	s.mu.Unlock()

	s.logger.Info("Access token acquired",
		zap.Time("expires_at", expiresAt),
	)

	return tr.AccessToken, nil
}

// expiryFor derives the token expiry: expires_in when present,
// otherwise the token's own exp claim (unverified parse; the token came
// from the issuer over TLS), otherwise a short fallback TTL.
func (s *TokenSource) expiryFor(tr tokenResponse) time.Time {
	if tr.ExpiresIn > 0 {
		return s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	s.logger.Warn("Token response carried no expiry, using fallback TTL",
		zap.Duration("ttl", fallbackTTL),
	)
	return s.now().Add(fallbackTTL)
}
