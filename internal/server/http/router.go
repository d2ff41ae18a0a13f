// Package httpserver is the JSON request handler in front of the login flow.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Options configure the router.
type Options struct {
	// RatePerMinute caps /v1/auth requests per client IP; 0 disables.
	RatePerMinute int
	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
	// Now is used for Retry-After; defaults to time.Now.
	Now func() time.Time
}

// NewRouter builds the HTTP API. reg may be nil, in which case registration
// is not exposed.
func NewRouter(auth Authenticator, reg Registrar, log *zap.Logger, opts Options) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &handlers{auth: auth, reg: reg, log: log, now: opts.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthz)

	r.Route("/v1/auth", func(r chi.Router) {
		if opts.RatePerMinute > 0 {
			r.Use(throttle(opts.RatePerMinute))
		}
		r.Post("/login", h.login)
		if reg != nil {
			r.Post("/register", h.register)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
	return r
}
