package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenMalformed = errors.New("malformed token")
	ErrTokenSignature = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")
)

// TokenSigner issues short lived HMAC tokens bound to a subject and a
// purpose. A token minted for one purpose never verifies for another.
//
// Format: base64url(subject) "." unix-expiry "." hex(hmac(purpose|subject|expiry)).
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner constructs a signer with the provided secret and TTL.
func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a token for subject valid until the returned time.
func (s *TokenSigner) Generate(purpose, subject string) (string, time.Time, error) {
	if purpose == "" || subject == "" {
		return "", time.Time{}, fmt.Errorf("purpose and subject required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(subject))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	return strings.Join([]string{encoded, ts, s.sign(purpose, encoded, ts)}, "."), expiresAt, nil
}

// Verify checks signature and expiry and returns the embedded subject.
func (s *TokenSigner) Verify(purpose, token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrTokenMalformed
	}
	encoded, ts, signature := parts[0], parts[1], parts[2]

	subject, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(subject) == 0 {
		return "", ErrTokenMalformed
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", ErrTokenMalformed
	}

	expected := s.sign(purpose, encoded, ts)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", ErrTokenSignature
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", ErrTokenExpired
	}
	return string(subject), nil
}

func (s *TokenSigner) sign(purpose, encodedSubject, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(purpose + "|" + encodedSubject + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
