package sessiontoken

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// TypeAccess marks short-lived per-request credentials.
	TypeAccess = "access"
	// TypeRefresh marks long-lived credentials used to mint new access tokens.
	TypeRefresh = "refresh"

	// DefaultAccessTTL is the default access token lifetime.
	DefaultAccessTTL = time.Hour
	// DefaultRefreshTTL is the default refresh token lifetime.
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 30 * time.Second
)

// Verification failures callers may want to branch on: an expired access
// token means "retry via refresh", anything else means re-authenticate.
var (
	ErrExpired   = errors.New("token expired")
	ErrInvalid   = errors.New("invalid token")
	ErrWrongType = errors.New("wrong token type")
)

// Claims carries the identity and token-type claims embedded in every
// session token.
type Claims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// Options configures token issuance and verification.
type Options struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// Service issues and verifies HS256 session tokens. Tokens are stateless:
// validity is signature plus expiry, nothing is persisted server-side.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
}

// New constructs a token service from the shared signing secret.
func New(opts Options) (*Service, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil, errors.New("session token secret is required")
	}
	accessTTL := opts.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	refreshTTL := opts.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Service{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		leeway:     leeway,
	}, nil
}

// Issue mints the access/refresh token pair for an authenticated email.
func (s *Service) Issue(email string) (accessToken, refreshToken string, err error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", "", errors.New("email is required")
	}
	now := time.Now().UTC()
	accessToken, err = s.sign(email, TypeAccess, now, now.Add(s.accessTTL))
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err = s.sign(email, TypeRefresh, now, now.Add(s.refreshTTL))
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}

// IssueAccess mints a fresh access token only, for the refresh flow.
func (s *Service) IssueAccess(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("email is required")
	}
	now := time.Now().UTC()
	return s.sign(email, TypeAccess, now, now.Add(s.accessTTL))
}

// VerifyAccess validates an access token and returns the embedded email.
func (s *Service) VerifyAccess(token string) (string, error) {
	return s.verify(token, TypeAccess)
}

// VerifyRefresh validates a refresh token and returns the embedded email.
func (s *Service) VerifyRefresh(token string) (string, error) {
	return s.verify(token, TypeRefresh)
}

// RefreshTTL reports the configured refresh token lifetime, used to size the
// cookie max-age.
func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}

func (s *Service) sign(email, tokenType string, now, expires time.Time) (string, error) {
	claims := Claims{
		Email: email,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) verify(token, wantType string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalid
	}
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", ErrInvalid
	}
	if !parsed.Valid {
		return "", ErrInvalid
	}
	if claims.Type != wantType {
		return "", ErrWrongType
	}
	email := strings.TrimSpace(claims.Email)
	if email == "" {
		return "", ErrInvalid
	}
	return email, nil
}

// BearerToken extracts a bearer token from the request Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
