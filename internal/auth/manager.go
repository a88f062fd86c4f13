package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claims is the identity payload carried inside a session token.
type Claims struct {
	UserUID      string `json:"sub"`
	Nickname     string `json:"nickname"`
	ProfileImage string `json:"profile_image"`
	ExpiresAt    int64  `json:"exp"`
}

// Manager issues and validates signed session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a Manager with the provided secret and default token ttl.
func NewManager(secret string, ttl time.Duration) *Manager {
	if secret == "" {
		panic("auth manager requires non-empty secret")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// TTL returns the default token lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// IssueToken signs a session token for the given claims. A zero ExpiresAt is
// filled in from the manager's default ttl.
func (m *Manager) IssueToken(claims Claims) (string, error) {
	if strings.TrimSpace(claims.UserUID) == "" {
		return "", errors.New("user uid required")
	}
	if claims.ExpiresAt == 0 {
		claims.ExpiresAt = time.Now().Add(m.ttl).Unix()
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	sig := m.sign(payload)
	token := fmt.Sprintf("%s.%s", base64.RawURLEncoding.EncodeToString(payload), base64.RawURLEncoding.EncodeToString(sig))
	return token, nil
}

// ValidateToken validates the signature and expiry and returns the claims.
func (m *Manager) ValidateToken(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, errors.New("invalid token format")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errors.New("invalid token payload")
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("invalid token signature")
	}
	if !hmac.Equal(sigBytes, m.sign(payloadBytes)) {
		return nil, errors.New("signature mismatch")
	}
	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, errors.New("invalid claims payload")
	}
	if claims.UserUID == "" {
		return nil, errors.New("missing subject")
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, errors.New("token expired")
	}
	return &claims, nil
}

func (m *Manager) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write(payload)
	return h.Sum(nil)
}
