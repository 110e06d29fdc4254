package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "beacon/pkg/domain-errors"
)

// ScopeKind tells profile tokens and session tokens apart so one cannot be
// replayed as the other.
type ScopeKind string

const (
	ScopeProfile ScopeKind = "profile"
	ScopeSession ScopeKind = "session"
)

// Claims represents the JWT claims carried by a storage scope cookie.
type Claims struct {
	Kind    ScopeKind `json:"kind"`
	ScopeID string    `json:"scope_id"`
	jwt.RegisteredClaims
}

// JWTService signs and validates storage scope tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
}

func NewJWTService(signingKey string, issuer string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// NewScopeID returns a fresh random scope id.
func NewScopeID() string {
	return uuid.NewString()
}

// GenerateScopeToken signs a scope id. A zero expiresIn yields a token without an
// expiry, used for session scopes that live as long as the browser session cookie.
func (s *JWTService) GenerateScopeToken(kind ScopeKind, scopeID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Kind:    kind,
		ScopeID: scopeID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   s.issuer,
			ID:       uuid.NewString(),
		},
	}
	if expiresIn != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiresIn))
	}

	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// ValidateScopeToken checks signature, issuer, expiry and kind.
func (s *JWTService) ValidateScopeToken(tokenString string, kind ScopeKind) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "scope token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid scope token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid scope token claims")
	}
	if claims.Kind != kind || claims.ScopeID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "scope token kind mismatch")
	}

	return claims, nil
}
