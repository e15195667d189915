package proxy

import (
	"net/http"
	"strings"
)

// excludedRequestHeaders never reach the upstream: hop-by-hop headers,
// browser credentials and anything the proxy sets itself
var excludedRequestHeaders = map[string]bool{
	"authorization":       true,
	"connection":          true,
	"content-length":      true,
	"content-type":        true,
	"cookie":              true,
	"host":                true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"accept":              true,
	"accept-encoding":     true,
	"origin":              true,
	"referer":             true,
}

// copyRequestHeaders copies headers from src to dst, skipping excluded
// headers and any client supplied copy of the token header
func copyRequestHeaders(dst, src http.Header, tokenHeader string) {
	tokenHeader = strings.ToLower(tokenHeader)
	for key, values := range src {
		lower := strings.ToLower(key)
		if excludedRequestHeaders[lower] || lower == tokenHeader {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
