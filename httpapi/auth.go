package httpapi

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/docstream/horosafe"
	"github.com/hazyhaar/docstream/kit"
)

// APIKey is an accepted key: an identifier for logs and the bcrypt hash of
// the secret. The secret itself is never stored.
type APIKey struct {
	ID   string `json:"id" yaml:"id" toml:"id"`
	Hash string `json:"hash" yaml:"hash" toml:"hash"`
}

// HashKey returns the bcrypt hash to store for secret.
func HashKey(secret string) (string, error) {
	if err := horosafe.ValidateSecret([]byte(secret)); err != nil {
		return "", err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("httpapi: hash key: %w", err)
	}
	return string(h), nil
}

// keyring verifies presented secrets. bcrypt costs milliseconds per check, so secrets
// that verified once are remembered by their SHA-256.
type keyring struct {
	keys     []APIKey
	verified sync.Map // [32]byte -> key ID
}

func newKeyring(keys []APIKey) (*keyring, error) {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k.ID == "" {
			return nil, errors.New("httpapi: api key without id")
		}
		if seen[k.ID] {
			return nil, fmt.Errorf("httpapi: duplicate api key id %q", k.ID)
		}
		seen[k.ID] = true
		if _, err := bcrypt.Cost([]byte(k.Hash)); err != nil {
			return nil, fmt.Errorf("httpapi: api key %q: %w", k.ID, err)
		}
	}
	return &keyring{keys: keys}, nil
}

func (kr *keyring) enabled() bool { return len(kr.keys) > 0 }

// verify returns the ID of the key matching secret.
func (kr *keyring) verify(secret string) (string, bool) {
	if len(secret) < horosafe.MinSecretLen {
		return "", false
	}
	sum := sha256.Sum256([]byte(secret))
	if id, ok := kr.verified.Load(sum); ok {
		return id.(string), true
	}
	for _, k := range kr.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(secret)) == nil {
			kr.verified.Store(sum, k.ID)
			return k.ID, true
		}
	}
	return "", false
}

// presentedKey reads the secret from "Authorization: Bearer" or X-API-Key.
func presentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("X-API-Key")
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.keys.enabled() {
			next.ServeHTTP(w, r)
			return
		}
		id, ok := s.keys.verify(presentedKey(r))
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="docstream"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", errors.New("missing or invalid api key"))
			return
		}
		next.ServeHTTP(w, r.WithContext(kit.WithKeyID(r.Context(), id)))
	})
}
