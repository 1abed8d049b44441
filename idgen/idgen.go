// Package idgen generates the identifiers docstream hands out: extraction
// IDs that tie log lines to one extraction, and API keys for the HTTP
// server.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs. They sort by
// creation time.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Random returns a Generator of base-36 strings of the given length.
func Random(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// Prefixed prepends prefix to every ID of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

const (
	extractionPrefix = "ext_"
	apiKeyPrefix     = "dsk_"
)

// Extraction is the default extraction ID generator: "ext_" + UUIDv7.
var Extraction Generator = Prefixed(extractionPrefix, UUIDv7())

// New returns a fresh extraction ID.
func New() string {
	return Extraction()
}

// APIKey returns a new random API key. Only its bcrypt hash is stored.
func APIKey() string {
	return Prefixed(apiKeyPrefix, Random(32))()
}
