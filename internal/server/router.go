package server

import (
	"net/http"
	"strings"
)

// RouterOptions names the handlers the top-level router dispatches to.
type RouterOptions struct {
	GatePath string
	Gate     http.Handler
	Admin    http.Handler
	Metrics  http.Handler
}

// NewRouter builds the top-level dispatch: observability endpoints first,
// the admin surface under /admin/, and the gate at its configured path.
// Everything else is 404 unless the gate path is the root, which swallows
// all remaining traffic.
func NewRouter(opts RouterOptions) http.Handler {
	gatePath := opts.GatePath
	if gatePath == "" {
		gatePath = "/auth"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/healthz":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		case r.URL.Path == "/metrics":
			if opts.Metrics == nil {
				http.NotFound(w, r)
				return
			}
			opts.Metrics.ServeHTTP(w, r)
		case r.URL.Path == "/admin" || strings.HasPrefix(r.URL.Path, "/admin/"):
			if opts.Admin == nil {
				http.NotFound(w, r)
				return
			}
			opts.Admin.ServeHTTP(w, r)
		case r.URL.Path == gatePath || gatePath == "/":
			if opts.Gate == nil {
				http.Error(w, "gate unavailable", http.StatusServiceUnavailable)
				return
			}
			opts.Gate.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
