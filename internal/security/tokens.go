package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// Token types carried in the "typ" claim so an access token can never stand in for a pending-login token.
const (
	TokenTypeAccess       = "access"
	TokenTypePendingLogin = "mfa_pending"
)

// AccessClaims holds JWT claims for the access token of an authenticated user.
type AccessClaims struct {
	jwt.RegisteredClaims
	Type      string `json:"typ"`
	SessionID string `json:"session_id"`
}

// PendingLoginClaims holds JWT claims for a login that passed the first factor and awaits QR approval.
type PendingLoginClaims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// TokenProvider issues and validates JWTs using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey      crypto.Signer
	publicKey       crypto.PublicKey
	issuer          string
	audience        string
	accessTTL       time.Duration
	pendingLoginTTL time.Duration
	nowF            func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and validated on parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, pendingLoginTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey:      privateKey,
		publicKey:       publicKey,
		issuer:          issuer,
		audience:        audience,
		accessTTL:       accessTTL,
		pendingLoginTTL: pendingLoginTTL,
		nowF:            func() time.Time { return time.Now().UTC() },
	}
}

// IssueAccess issues a short-lived access JWT for the given session and user.
// Returns the token string, its jti, and expiration time.
func (p *TokenProvider) IssueAccess(sessionID, userID string) (token string, jti string, expiresAt time.Time, err error) {
	jti, err = generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := p.nowF()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: p.registered(jti, userID, now, expiresAt),
		Type:             TokenTypeAccess,
		SessionID:        sessionID,
	}
	token, err = p.sign(claims)
	return token, jti, expiresAt, err
}

// IssuePendingLogin issues the token a login flow hands to the browser after the first factor succeeded.
// It only authorizes creating and polling QR challenges for userID.
func (p *TokenProvider) IssuePendingLogin(userID string) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.nowF()
	expiresAt = now.Add(p.pendingLoginTTL)
	claims := PendingLoginClaims{
		RegisteredClaims: p.registered(jti, userID, now, expiresAt),
		Type:             TokenTypePendingLogin,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud, typ).
// Returns sessionID, userID, or error.
func (p *TokenProvider) ValidateAccess(tokenString string) (sessionID, userID string, err error) {
	claims := &AccessClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return "", "", err
	}
	if claims.Type != TokenTypeAccess || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.SessionID, claims.Subject, nil
}

// ValidatePendingLogin parses and validates a pending-login token. Returns the user id it was issued for.
func (p *TokenProvider) ValidatePendingLogin(tokenString string) (userID string, err error) {
	claims := &PendingLoginClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return "", err
	}
	if claims.Type != TokenTypePendingLogin || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (p *TokenProvider) registered(jti, subject string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   subject,
		Issuer:    p.issuer,
		Audience:  jwt.ClaimStrings{p.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

type claimsWithRegistered interface {
	jwt.Claims
	registeredClaims() *jwt.RegisteredClaims
}

func (c *AccessClaims) registeredClaims() *jwt.RegisteredClaims       { return &c.RegisteredClaims }
func (c *PendingLoginClaims) registeredClaims() *jwt.RegisteredClaims { return &c.RegisteredClaims }

func (p *TokenProvider) parse(tokenString string, claims claimsWithRegistered) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return p.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	}, jwt.WithTimeFunc(p.nowF))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	rc := claims.registeredClaims()
	if rc.Issuer != p.issuer {
		return ErrInvalidToken
	}
	if !slices.Contains([]string(rc.Audience), p.audience) {
		return ErrInvalidToken
	}
	return nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
