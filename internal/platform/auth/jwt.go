package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Role values carried in Claims.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// DefaultIssuer is stamped into every calendar access token.
const DefaultIssuer = "bookingcal"

// Claims identify a calendar user. Username is the display name stored on
// bookings, not the lower-cased login key.
type Claims struct {
	Subject  string `json:"sub"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Issuer   string `json:"iss"`
	IssuedAt int64  `json:"iat"`
	Exp      int64  `json:"exp"`
}

func (c Claims) IsAdmin() bool { return c.Role == RoleAdmin }

func validRole(role string) bool { return role == RoleAdmin || role == RoleMember }

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

var hs256Header = header{Alg: "HS256", Typ: "JWT"}

// Manager signs and verifies HS256 access tokens.
type Manager struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
	TTL    time.Duration
}

func NewManager(secret string, ttl time.Duration) Manager {
	return Manager{
		Secret: []byte(secret),
		Issuer: DefaultIssuer,
		Now:    func() time.Time { return time.Now().UTC() },
		TTL:    ttl,
	}
}

func (m Manager) Sign(userID, username, role string) (string, error) {
	if !validRole(role) {
		return "", ErrInvalidToken
	}
	now := m.Now()
	hEnc, err := encodeSegment(hs256Header)
	if err != nil {
		return "", err
	}
	pEnc, err := encodeSegment(Claims{
		Subject:  userID,
		Username: username,
		Role:     role,
		Issuer:   m.Issuer,
		IssuedAt: now.Unix(),
		Exp:      now.Add(m.TTL).Unix(),
	})
	if err != nil {
		return "", err
	}
	signed := hEnc + "." + pEnc
	return signed + "." + base64.RawURLEncoding.EncodeToString(m.mac(signed)), nil
}

// Parse verifies the signature before looking at any claim.
func (m Manager) Parse(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}
	gotSig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(m.mac(parts[0]+"."+parts[1]), gotSig) {
		return Claims{}, ErrInvalidToken
	}

	var h header
	if err := decodeSegment(parts[0], &h); err != nil || h.Alg != hs256Header.Alg {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := decodeSegment(parts[1], &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	switch {
	case claims.Subject == "", claims.Username == "", claims.Exp == 0:
		return Claims{}, ErrInvalidToken
	case !validRole(claims.Role):
		return Claims{}, ErrInvalidToken
	case m.Issuer != "" && claims.Issuer != m.Issuer:
		return Claims{}, ErrInvalidToken
	}
	if m.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func (m Manager) mac(signed string) []byte {
	h := hmac.New(sha256.New, m.Secret)
	h.Write([]byte(signed))
	return h.Sum(nil)
}

func encodeSegment(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func decodeSegment(seg string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
