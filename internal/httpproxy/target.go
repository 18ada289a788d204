package httpproxy

import (
	"net/http"
	"net/url"
	"strings"
)

// ResolveTarget implements "Upstream target resolution":
// 1. X-Target-URL request header (absolute URL) if present.
// 2. Otherwise, absolute request-URI.
// 3. Otherwise, {protocol}://{Host header}{path}, protocol from
//    X-Forwarded-Proto or inferred from socket encryption.
func ResolveTarget(r *http.Request, tls bool) (string, error) {
	if v := r.Header.Get("X-Target-URL"); v != "" {
		if u, err := url.Parse(v); err == nil && u.IsAbs() {
			return v, nil
		}
	}

	if r.URL.IsAbs() {
		return r.URL.String(), nil
	}

	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		if tls {
			proto = "https"
		} else {
			proto = "http"
		}
	}

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}

	path := r.URL.RequestURI()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return proto + "://" + host + path, nil
}
