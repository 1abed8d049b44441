// CLAUDE:SUMMARY Security guards for remote surfaces: API key length, SSRF URL checks, path confinement, bounded reads.
// Package horosafe provides the security primitives used by docstream's
// remote surfaces: API key validation, URL safety checks (SSRF prevention),
// path confinement for server-side file sources and bounded reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
)

// MinSecretLen is the minimum acceptable length for API keys.
// 32 bytes = 256 bits of entropy.
const MinSecretLen = 32

var (
	// ErrSecretTooShort is returned when a secret does not meet MinSecretLen.
	ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)
	// ErrPathTraversal is returned when a user-supplied path escapes its base.
	ErrPathTraversal = errors.New("horosafe: path traversal detected")
	// ErrSSRF is returned when a URL targets a private/loopback address.
	ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")
	// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
	ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")
	// ErrTooLarge is returned when a bounded read exceeds its limit.
	ErrTooLarge = errors.New("horosafe: body exceeds size limit")
)

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// SafePath joins base and a user-supplied relative path and verifies the
// result stays under base. Returns the cleaned path or ErrPathTraversal.
func SafePath(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	root := filepath.Clean(base)
	cleaned := filepath.Join(root, filepath.Clean("/"+userInput))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// lookupHost resolves hostnames for ValidateURL.
var lookupHost = net.LookupHost

// ValidateURL checks that rawURL uses http/https, has a hostname, and does
// not resolve to a private or loopback IP (SSRF prevention).
// DNS resolution is performed to catch rebinding via internal hostnames.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivateAddr(addr) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := lookupHost(host)
	if err != nil {
		// Unresolvable hosts fail at connection time anyway.
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil && isPrivateAddr(addr) {
			return ErrSSRF
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r. Returns ErrTooLarge if the
// limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
}

func isPrivateAddr(a netip.Addr) bool {
	a = a.Unmap()
	if a.IsLoopback() || a.IsUnspecified() || a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
