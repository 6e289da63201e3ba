package middleware

import (
	"net/http"
	"strings"
)

// CORS returns middleware that allows the configured frontend origins plus
// any origin whose host ends with the deployment domain suffix (preview
// deployments get new hostnames per build). Credentials are allowed, so
// the origin is always echoed back rather than wildcarded.
func CORS(origins []string, domainSuffix string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	originAllowed := func(origin string) bool {
		if origin == "" {
			return false
		}
		if allowed[strings.TrimRight(origin, "/")] {
			return true
		}
		if domainSuffix == "" {
			return false
		}
		host := origin
		if idx := strings.Index(host, "://"); idx >= 0 {
			host = host[idx+3:]
		}
		if idx := strings.Index(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		return strings.HasSuffix(host, domainSuffix)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqOrigin := r.Header.Get("Origin")
			ok := originAllowed(reqOrigin)

			if ok {
				w.Header().Set("Access-Control-Allow-Origin", reqOrigin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Headers", "*")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Handle preflight
			if r.Method == http.MethodOptions {
				if ok {
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
