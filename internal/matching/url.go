package matching

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizedURL is a URL reduced to comparable parts.
//
// Origin is "scheme://host" with scheme and host lowercased and the default
// port removed. Target is the normalized path followed by "?query" when a
// query is present.
type NormalizedURL struct {
	Origin string
	Target string
}

// String returns Origin followed by Target.
func (u NormalizedURL) String() string {
	return u.Origin + u.Target
}

// NormalizeURL parses and normalizes a configured URL value. The value may be
// a bare path ("/health?x=1") or an absolute URL ("http://api.local/health").
// Origin is empty for bare paths.
func NormalizeURL(raw string) (NormalizedURL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return NormalizedURL{}, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	n := NormalizedURL{Target: normalizeTarget(u)}
	if u.Host != "" {
		scheme := u.Scheme
		if scheme == "" {
			scheme = "http"
		}
		n.Origin = normalizeOrigin(scheme, u.Host)
	}
	return n, nil
}

func normalizeTarget(u *url.URL) string {
	p := removeDotSegments(normalizePercent(u.EscapedPath()))
	if u.RawQuery == "" {
		return p
	}
	return p + "?" + normalizePercent(u.RawQuery)
}

func normalizeOrigin(scheme, host string) string {
	scheme = strings.ToLower(scheme)
	host = strings.ToLower(host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
			if strings.Contains(h, ":") {
				host = "[" + h + "]"
			}
		}
	}
	return scheme + "://" + host
}

// normalizePercent uppercases percent-encoding hex digits and decodes
// encoded unreserved characters.
func normalizePercent(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			v := unhex(s[i+1])<<4 | unhex(s[i+2])
			if isUnreserved(v) {
				b.WriteByte(v)
			} else {
				b.WriteByte('%')
				b.WriteString(strings.ToUpper(s[i+1 : i+3]))
			}
			i += 2
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// removeDotSegments resolves "." and ".." path segments. Empty paths
// become "/". Repeated slashes are preserved.
func removeDotSegments(p string) string {
	if p == "" {
		return "/"
	}
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	last := len(segments) - 1
	for i, seg := range segments {
		switch seg {
		case ".":
			if i == last {
				out = append(out, "")
			}
		case "..":
			if len(out) > 1 {
				out = out[:len(out)-1]
			}
			if i == last {
				out = append(out, "")
			}
		default:
			out = append(out, seg)
		}
	}
	res := strings.Join(out, "/")
	if !strings.HasPrefix(res, "/") {
		res = "/" + res
	}
	return res
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func isUnreserved(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}
