package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/storybook/internal/auth"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
	"github.com/digkill/storybook/pkg/logger"
)

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.Log.With("request_id", middleware.GetReqID(r.Context()), "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}

// instrument counts requests by route pattern once routing has resolved it.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.Metrics.Request(route, status)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.writeError(r.Context(), w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing bearer token"))
			return
		}
		user, err := auth.ParseToken(s.Auth, strings.TrimSpace(token))
		if err != nil {
			s.writeError(r.Context(), w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid or expired session"))
			return
		}
		ctx := auth.WithUser(r.Context(), user)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx, s.Log).With("user_id", user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensureProfile creates the caller's profile on first contact.
func (s *Server) ensureProfile(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFromContext(r.Context())
		if err := s.Credits.EnsureProfile(r.Context(), user.ID, user.Email); err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !secureEqual(user, s.Admin.Username) || !secureEqual(pass, s.Admin.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="storybook"`)
			s.writeError(r.Context(), w, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin credentials required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func currentUser(r *http.Request) auth.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}
