package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// tokenBytes gives identity tokens 256 bits of entropy.
const tokenBytes = 32

var ErrInvalidToken = errors.New("invalid token")

// NewToken returns an opaque, unguessable session token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SignToken produces the cookie value carried by the browser: token.signature.
func SignToken(secret []byte, token string) string {
	return token + "." + sign(secret, token)
}

// ParseSignedToken verifies a cookie value produced by SignToken and returns the token.
func ParseSignedToken(secret []byte, value string) (string, error) {
	token, signature, ok := strings.Cut(strings.TrimSpace(value), ".")
	if !ok || token == "" || signature == "" {
		return "", ErrInvalidToken
	}
	expected := sign(secret, token)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", ErrInvalidToken
	}
	return token, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// HashToken is used for store keys so raw tokens never sit in Redis.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
