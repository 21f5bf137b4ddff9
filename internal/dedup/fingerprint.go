package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// trackingParams is the fixed set of query parameters removed during URL
// canonicalization. Anything else stays and keeps URLs distinct.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
}

// Fingerprint derives a stable identifier for an item from its source key
// and canonicalized URL. The same (source, URL) pair always yields the same
// fingerprint regardless of trailing slashes or tracking parameters.
func Fingerprint(sourceKey, rawURL string) string {
	canonical := CanonicalURL(rawURL)
	sum := sha256.Sum256([]byte(sourceKey + "|" + canonical))
	return hex.EncodeToString(sum[:])
}

// CanonicalURL trims whitespace, strips a single trailing slash from the
// path, and removes tracking query parameters while preserving the order of
// the remaining ones.
func CanonicalURL(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	u, err := url.Parse(s)
	if err != nil {
		// Unparseable input canonicalizes to its trimmed self.
		return strings.TrimSuffix(s, "/")
	}

	if strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	} else if u.Path == "" && strings.HasSuffix(u.Host, "/") {
		u.Host = strings.TrimSuffix(u.Host, "/")
	}

	u.RawQuery = filterQuery(u.RawQuery)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// filterQuery removes tracking parameters from a raw query string without
// re-ordering the parameters that remain. url.Values.Encode would sort keys
// and collapse order-only differences, which must stay distinct.
func filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		key := p
		if i := strings.IndexByte(p, '='); i >= 0 {
			key = p[:i]
		}
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if trackingParams[strings.ToLower(key)] {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "&")
}
