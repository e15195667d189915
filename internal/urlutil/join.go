package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath safely joins URL paths, handling trailing and leading slashes correctly
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	// Preserve trailing slash if the last path component had one
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// SafeCallbackPath turns a user supplied callback URL into a local path.
// Relative paths are kept, absolute URLs only when they point at baseURL's
// origin. Everything else, including protocol-relative tricks, becomes "/".
func SafeCallbackPath(raw, baseURL string) string {
	if raw == "" || strings.ContainsAny(raw, "\\\r\n") {
		return "/"
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}

	if u.Scheme != "" || u.Host != "" {
		base, err := url.Parse(baseURL)
		if err != nil || base.Host == "" || u.Scheme != base.Scheme || u.Host != base.Host {
			return "/"
		}
	} else if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "/"
	}

	out := u.EscapedPath()
	if out == "" || !strings.HasPrefix(out, "/") || strings.HasPrefix(out, "//") {
		out = "/"
	}
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}
