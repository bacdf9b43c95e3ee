// ABOUTME: Static bearer token set and the Authenticator combining static and JWT tokens
// ABOUTME: Tokens are compared by SHA-256 digest so the set never holds raw secrets

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// MinTokenLength is the minimum length of any static token.
const MinTokenLength = 32

// Identity describes an authenticated caller.
type Identity struct {
	Subject string // "token:<fingerprint>" for static tokens, the sub claim for JWTs
	Method  string // "static" or "jwt"
}

// TokenSet is an immutable set of static tokens.
type TokenSet struct {
	digests map[[sha256.Size]byte]string
}

// NewTokenSet builds a TokenSet, rejecting tokens shorter than MinTokenLength.
func NewTokenSet(tokens []string) (*TokenSet, error) {
	s := &TokenSet{digests: make(map[[sha256.Size]byte]string, len(tokens))}
	for i, tok := range tokens {
		if len(tok) < MinTokenLength {
			return nil, fmt.Errorf("token %d is shorter than %d characters", i, MinTokenLength)
		}
		sum := sha256.Sum256([]byte(tok))
		s.digests[sum] = hex.EncodeToString(sum[:4])
	}
	return s, nil
}

// Contains reports whether token is in the set and returns its fingerprint.
func (s *TokenSet) Contains(token string) (string, bool) {
	if s == nil {
		return "", false
	}
	fp, ok := s.digests[sha256.Sum256([]byte(token))]
	return fp, ok
}

// Len returns the number of tokens in the set.
func (s *TokenSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.digests)
}

// Authenticator validates tokens against the static set and an optional JWT verifier.
type Authenticator struct {
	tokens *TokenSet
	jwt    *JWTVerifier
}

// NewAuthenticator creates an Authenticator. jwt may be nil.
func NewAuthenticator(tokens *TokenSet, jwt *JWTVerifier) *Authenticator {
	return &Authenticator{tokens: tokens, jwt: jwt}
}

// Authenticate returns the identity for token, or ErrMissingToken,
// ErrExpiredToken or ErrInvalidToken.
func (a *Authenticator) Authenticate(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if fp, ok := a.tokens.Contains(token); ok {
		return &Identity{Subject: "token:" + fp, Method: "static"}, nil
	}
	if a.jwt != nil && strings.Count(token, ".") == 2 {
		sub, err := a.jwt.Verify(token)
		if err != nil {
			return nil, err
		}
		return &Identity{Subject: sub, Method: "jwt"}, nil
	}
	return nil, ErrInvalidToken
}
