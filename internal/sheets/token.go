package sheets

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtBearerGrant is the OAuth2 grant type for service-account assertions.
const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// tokenExpirySlack refreshes tokens slightly before the remote deadline so
// in-flight requests never carry an expired bearer.
const tokenExpirySlack = 30 * time.Second

// TokenSource yields bearer tokens for the spreadsheet API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token. Intended for tests and for
// deployments that manage credentials outside the process.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// JWTTokenSource exchanges a signed service-account assertion for a bearer
// token and caches it until shortly before expiry.
type JWTTokenSource struct {
	email    string
	key      *rsa.PrivateKey
	tokenURL string
	scope    string
	client   *http.Client
	clock    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewJWTTokenSource creates a token source for the given service-account
// identity. The key must be a PEM-encoded RSA private key.
func NewJWTTokenSource(email string, pemKey []byte, tokenURL, scope string) (*JWTTokenSource, error) {
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("service account email is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	return &JWTTokenSource{
		email:    email,
		key:      key,
		tokenURL: tokenURL,
		scope:    scope,
		client:   &http.Client{Timeout: 15 * time.Second},
		clock:    time.Now,
	}, nil
}

// Token returns a cached bearer token, refreshing it when stale.
func (s *JWTTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if s.token != "" && now.Before(s.expires.Add(-tokenExpirySlack)) {
		return s.token, nil
	}

	assertion, err := s.signAssertion(now)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	token, expiresIn, err := s.exchange(ctx, assertion)
	if err != nil {
		return "", err
	}

	s.token = token
	s.expires = now.Add(time.Duration(expiresIn) * time.Second)
	return s.token, nil
}

// signAssertion builds and signs the JWT-bearer assertion.
func (s *JWTTokenSource) signAssertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   s.email,
		"scope": s.scope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
}

// exchange posts the assertion to the token endpoint.
func (s *JWTTokenSource) exchange(ctx context.Context, assertion string) (string, int, error) {
	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, &RemoteError{Op: "token exchange", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, &RemoteError{Op: "token exchange", StatusCode: resp.StatusCode}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", 0, fmt.Errorf("token response carried no access token")
	}
	return payload.AccessToken, payload.ExpiresIn, nil
}
