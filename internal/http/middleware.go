package http

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"freelance-erp/internal/auth"
	"freelance-erp/internal/log"
	"freelance-erp/internal/middleware/security"
	"freelance-erp/internal/middleware/trace"
)

// APIKeyHeader carries the tenant key of programmatic clients.
const APIKeyHeader = "x-api-key"

// chain wraps the mux, outermost first: trace, request logger, security
// headers, suspicious request detection, rate limit, CORS, body limit.
func (s *Server) chain(mux http.Handler, logger *log.Logger, reg prometheus.Registerer) http.Handler {
	var h http.Handler = mux
	h = s.limitBody(h)
	h = s.cors().Handler(h)
	h = s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		TooManyRequestsError().Write(w)
	})(h)
	h = s.detector.Middleware(logger)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = log.Middleware(logger, trace.RequestID)(h)
	h = trace.NewMiddleware(logger, s.detector.ExtractClientIP, trace.NewMetrics(reg)).Middleware(h)
	return h
}

func (s *Server) cors() *cors.Cors {
	origins := s.opts.AllowedOrigins
	wildcard := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", APIKeyHeader, trace.RequestIDHeader},
		ExposedHeaders:   []string{trace.RequestIDHeader},
		AllowCredentials: !wildcard,
		MaxAge:           600,
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.opts.BodyLimit {
			PayloadTooLargeError().Write(w)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.BodyLimit)
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey resolves the tenant from the x-api-key header.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		switch err := s.apiKeys.Check(key); {
		case errors.Is(err, auth.ErrMissingAPIKey):
			UnauthorizedError("Missing API key").Write(w)
			return
		case err != nil:
			log.FromContext(r.Context()).WarnContext(r.Context(), "Rejected API key",
				log.FieldClientIP, s.detector.ExtractClientIP(r))
			ForbiddenError("Invalid API key").Write(w)
			return
		}
		next(w, r.WithContext(auth.WithTenant(r.Context(), key)))
	}
}

// requireSession resolves the signed-in user from the session cookie. The
// tenant of a web user is user_{id}.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			UnauthorizedError("Not authenticated").Write(w)
			return
		}
		cookie, err := r.Cookie(auth.CookieName)
		if err != nil || cookie.Value == "" {
			UnauthorizedError("Not authenticated").Write(w)
			return
		}
		user, err := s.auth.Authenticate(r.Context(), cookie.Value)
		if err != nil {
			log.FromContext(r.Context()).DebugContext(r.Context(), "Session rejected", log.FieldError, err)
			s.clearSessionCookie(w)
			UnauthorizedError("Not authenticated").Write(w)
			return
		}
		ctx := auth.WithUser(r.Context(), user)
		ctx = auth.WithTenant(ctx, auth.TenantForUser(user.ID))
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	s.setSessionCookie(w, "", -1)
}
