package util

import (
	"net/url"
	"strings"
)

// MaskSecret oculta un secreto completo; vacío queda vacío.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// MaskDSN conserva host y base de un DSN postgres y oculta la password.
// Los DSN key=value (no URL) se ocultan enteros.
func MaskDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return MaskSecret(dsn)
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	u.RawQuery = ""
	return u.String()
}
