package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the session payload carried inside a signed token. The
// registered ID claim (jti) doubles as the session token the engines key
// guest identity by.
type Claims struct {
	UserType    string `json:"utype"`
	Mode        string `json:"mode"`
	UserID      string `json:"uid,omitempty"`
	AgeVerified bool   `json:"agev"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session bearer tokens with an HMAC
// secret. The bearer token is the transport credential; the session token
// inside it is the short jti the engines see.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer. The secret must be non-empty.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("identity: empty signing secret")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), issuer: "drift", ttl: ttl}, nil
}

// Issue mints a bearer token for the given identity and returns it with
// the session it resolves to. The session's shape is validated before
// signing.
func (ti *TokenIssuer) Issue(userType, mode, userID string, ageVerified bool) (string, *Session, error) {
	sess := &Session{
		Token:       uuid.NewString(),
		UserType:    userType,
		Mode:        mode,
		UserID:      userID,
		AgeVerified: ageVerified,
	}
	if err := sess.Validate(); err != nil {
		return "", nil, err
	}

	now := time.Now()
	claims := Claims{
		UserType:    userType,
		Mode:        mode,
		UserID:      userID,
		AgeVerified: ageVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.Token,
			Issuer:    ti.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}

	bearer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", nil, fmt.Errorf("identity: sign token: %w", err)
	}
	return bearer, sess, nil
}

// Resolve verifies a bearer token and reconstructs its session. Expired,
// tampered, or mis-signed tokens fail; so do tokens whose payload no
// longer forms a valid session shape.
func (ti *TokenIssuer) Resolve(bearer string) (*Session, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(bearer, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithIssuer(ti.issuer))
	if err != nil {
		return nil, fmt.Errorf("identity: verify token: %w", err)
	}
	if !tok.Valid {
		return nil, fmt.Errorf("identity: invalid token")
	}

	sess := &Session{
		Token:       claims.ID,
		UserType:    claims.UserType,
		Mode:        claims.Mode,
		UserID:      claims.UserID,
		AgeVerified: claims.AgeVerified,
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	return sess, nil
}
