package domain

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"
)

// Fingerprint derives the dedup key from the source and the first non-empty of
// canonical id, normalized URL and normalized title.
func Fingerprint(source, canonicalID, rawURL, title string) string {
	key := strings.TrimSpace(canonicalID)
	kind := "id"
	if key == "" {
		key = NormalizeURL(rawURL)
		kind = "url"
	}
	if key == "" {
		key = normalizeTitle(title)
		kind = "title"
	}

	hash := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(source)) + "\x00" + kind + ":" + key))
	return fmt.Sprintf("%x", hash)
}

// NormalizeURL lowercases scheme and host, drops fragments, utm_* parameters and trailing slashes.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return strings.TrimSuffix(raw, "/")
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""

	query := parsed.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	parsed.RawQuery = query.Encode()
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	parsed.RawPath = ""

	return parsed.String()
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
