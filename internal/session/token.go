package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	// DefaultTTL is how long an issued admin session stays valid
	DefaultTTL = 8 * time.Hour

	payloadType    = "admin-session"
	payloadVersion = 1
	separator      = "."
)

var (
	ErrNoSigningSecret = errors.New("signing secret not set")
	ErrInvalidTTL      = errors.New("session ttl must be positive")
)

// Payload is the signed content of an admin session token.
// ExpiresAt is always IssuedAt + ttl, both in unix seconds.
type Payload struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Manager signs and verifies admin session tokens. Tokens are
// `base64url(json payload) . base64url(hmac-sha256 signature)`, where the
// signature covers the encoded payload bytes. The token is opaque to clients,
// only the holder of the signing secret can mint or validate one.
type Manager struct {
	secret string
	ttl    time.Duration
	// ability to inject the clock (for unit testing)
	NowFunc func() time.Time
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{
		secret:  secret,
		ttl:     ttl,
		NowFunc: time.Now,
	}
}

// Configured tells whether the manager holds a usable signing secret.
func (m *Manager) Configured() bool {
	return m.secret != ""
}

// Sign mints a fresh session token valid for the configured ttl.
func (m *Manager) Sign() (string, error) {
	if m.secret == "" {
		return "", ErrNoSigningSecret
	}
	if m.ttl <= 0 {
		return "", ErrInvalidTTL
	}

	now := m.NowFunc().Unix()
	payload := Payload{
		Type:      payloadType,
		Version:   payloadVersion,
		IssuedAt:  now,
		ExpiresAt: now + int64(m.ttl.Seconds()),
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	encodedPayload := encodeSegment(payloadBytes)
	signature := computeSignature(encodedPayload, m.secret)
	return encodedPayload + separator + encodeSegment(signature), nil
}

// Verify checks the token signature and expiry. It is a total function: any
// malformed, forged or expired token yields ok == false, never an error.
func (m *Manager) Verify(token string) (Payload, bool) {
	if m.secret == "" {
		return Payload{}, false
	}

	encodedPayload, encodedSignature, found := strings.Cut(token, separator)
	if !found || encodedPayload == "" || encodedSignature == "" {
		return Payload{}, false
	}

	signature, err := decodeSegment(encodedSignature)
	if err != nil {
		return Payload{}, false
	}

	// constant time comparison, check the signature before touching the payload
	expected := computeSignature(encodedPayload, m.secret)
	if !hmac.Equal(signature, expected) {
		return Payload{}, false
	}

	payloadBytes, err := decodeSegment(encodedPayload)
	if err != nil {
		return Payload{}, false
	}

	var payload Payload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return Payload{}, false
	}

	if payload.Type != payloadType || payload.Version != payloadVersion {
		return Payload{}, false
	}
	if payload.ExpiresAt < m.NowFunc().Unix() {
		return Payload{}, false
	}

	return payload, true
}

func computeSignature(encodedPayload, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encodedPayload))
	return mac.Sum(nil)
}

// encodeSegment produces url-safe base64 without padding
func encodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(segment)
}
