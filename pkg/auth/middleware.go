package auth

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware authenticates requests and stores the user in the request context.
type Middleware struct {
	Authenticator Authenticator

	// IsPublic reports routes that are served without authentication.
	IsPublic func(r *http.Request) bool

	// OnError writes the 401 response. Defaults to a plain text body.
	OnError ErrorWriter

	Logger logrus.FieldLogger
}

// Handler wraps next with authentication. It satisfies mux.MiddlewareFunc.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	log := m.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	onError := m.OnError
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || (m.IsPublic != nil && m.IsPublic(r)) {
			next.ServeHTTP(w, r)
			return
		}

		token := ExtractBearer(r)
		if token == "" && !allowsAnonymous(m.Authenticator) {
			onError(w, r, ErrUnauthenticated)
			return
		}

		user, err := m.Authenticator.Authenticate(r.Context(), token)
		if err != nil {
			log.WithError(err).WithField("path", r.URL.Path).Warn("authentication failed")
			onError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func allowsAnonymous(a Authenticator) bool {
	anon, ok := a.(anonymousAuthenticator)
	return ok && anon.AllowsAnonymous()
}

// ExtractBearer returns the token from an "Authorization: Bearer" header.
func ExtractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
