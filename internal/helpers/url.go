package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"strings"
)

var ErrBadURL = errors.New("url has no host")

// trackingParams are dropped from canonical URLs along with any utm_* key.
var trackingParams = map[string]bool{
	"gclid": true, "dclid": true, "fbclid": true, "msclkid": true,
	"igshid": true, "mc_cid": true, "mc_eid": true, "ref_src": true,
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	return strings.HasPrefix(key, "utm_") || trackingParams[key]
}

// CanonicalURL normalises raw so that the same page fetched through
// different links compares equal. The scheme defaults to https. Host case,
// default ports, fragments, duplicate slashes and tracking parameters are
// removed and the query is sorted.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrBadURL
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	} else if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrBadURL
	}
	if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
		host += ":" + port
	}
	u.Host = host
	u.User = nil
	u.Fragment, u.RawFragment = "", ""

	u.Path = cleanPath(u.Path)
	u.RawPath = ""

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	// Encode sorts by key; values keep their order.
	u.RawQuery = q.Encode()
	u.ForceQuery = false
	return u.String(), nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// cleanPath resolves dot segments and repeated slashes but keeps a
// meaningful trailing slash.
func cleanPath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// URLFingerprint is the hex SHA-256 of the canonical URL.
func URLFingerprint(raw string) (string, error) {
	canonical, err := CanonicalURL(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// DedupKey is the identity used when merging search results: the canonical
// form when the URL parses, else the trimmed input.
func DedupKey(raw string) string {
	if canonical, err := CanonicalURL(raw); err == nil {
		return canonical
	}
	return strings.TrimSpace(raw)
}
