package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, of the wrong type, or badly signed.
	ErrInvalidToken = errors.New("invalid token")
)

// TokenType distinguishes access from refresh tokens; it travels in the "typ" claim.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims holds the JWT claims shared by access and refresh tokens.
// Refresh tokens additionally carry RegisteredClaims.ID (jti).
type Claims struct {
	jwt.RegisteredClaims
	Email string    `json:"email"`
	Role  string    `json:"role"`
	Type  TokenType `json:"typ"`
}

// Subject identifies the holder of a token.
type Subject struct {
	UserID string
	Email  string
	Role   string
}

// IssuedToken is a signed token with the claims the caller has to persist.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenProvider issues and validates JWT access and refresh tokens. It signs with RS256 or ES256
// when built from a key pair, or HS256 when built from a shared secret.
type TokenProvider struct {
	signingKey interface{}
	verifyKey  interface{}
	method     jwt.SigningMethod
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and enforced on validation.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	var method jwt.SigningMethod
	switch privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	if KeyAlg(publicKey) != method.Alg() {
		return nil, ErrInvalidKey
	}
	return &TokenProvider{
		signingKey: privateKey,
		verifyKey:  publicKey,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// NewHMACTokenProvider returns a TokenProvider that signs with HS256 using secret.
func NewHMACTokenProvider(secret []byte, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if len(secret) < 32 {
		return nil, ErrInvalidKey
	}
	return &TokenProvider{
		signingKey: secret,
		verifyKey:  secret,
		method:     jwt.SigningMethodHS256,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// RefreshTTL is the lifetime given to new refresh tokens.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access JWT for sub.
func (p *TokenProvider) IssueAccess(sub Subject) (IssuedToken, error) {
	now := p.now().UTC()
	expiresAt := now.Add(p.accessTTL)
	token, err := p.sign(p.claims(sub, TokenTypeAccess, "", now, expiresAt))
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: token, ExpiresAt: expiresAt}, nil
}

// IssueRefresh issues a long-lived refresh JWT with a fresh jti. The caller persists JTI and ExpiresAt.
func (p *TokenProvider) IssueRefresh(sub Subject) (IssuedToken, error) {
	jti, err := generateJTI()
	if err != nil {
		return IssuedToken{}, err
	}
	now := p.now().UTC()
	expiresAt := now.Add(p.refreshTTL)
	token, err := p.sign(p.claims(sub, TokenTypeRefresh, jti, now, expiresAt))
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: token, JTI: jti, ExpiresAt: expiresAt}, nil
}

func (p *TokenProvider) claims(sub Subject, typ TokenType, jti string, now, expiresAt time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.UserID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: sub.Email,
		Role:  sub.Role,
		Type:  typ,
	}
}

func (p *TokenProvider) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(p.method, claims).SignedString(p.signingKey)
}

// ValidateRefresh parses and validates a refresh token (signature, exp, iss, aud, typ=refresh, jti present).
func (p *TokenProvider) ValidateRefresh(tokenString string) (*Claims, error) {
	claims, err := p.parse(tokenString, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAccess parses and validates an access token (signature, exp, iss, aud, typ=access).
func (p *TokenProvider) ValidateAccess(tokenString string) (*Claims, error) {
	return p.parse(tokenString, TokenTypeAccess)
}

func (p *TokenProvider) parse(tokenString string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return p.verifyKey, nil
	},
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != want || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WithClock returns a copy of p that reads time from now. Used by tests to age tokens.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	cp := *p
	cp.now = now
	return &cp
}
