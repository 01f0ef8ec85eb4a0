package config

import (
	"net/url"
	"strings"
)

// MaskSecret hides most of s for logging. Values of five bytes or fewer are
// fully masked; longer ones keep their first and last characters.
func MaskSecret(s string) string {
	n := len(s)
	switch {
	case n <= 5:
		return strings.Repeat("*", n)
	case n <= 20:
		return s[:1] + strings.Repeat("*", n-2) + s[n-1:]
	default:
		return s[:3] + strings.Repeat("*", n-4) + s[n-1:]
	}
}

// MaskURL masks the password of a redis:// style address. Plain host:port
// addresses are returned unchanged.
func MaskURL(addr string) string {
	if !strings.Contains(addr, "://") {
		return addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.User == nil {
		return addr
	}
	if pw, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), MaskSecret(pw))
	}
	return u.String()
}
