package api

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler http handler for each API endpoint.
type Handler interface {
	Path() string
	Method() string
	Handle() http.HandlerFunc
}

type httpHandler struct {
	path   string
	method string
	handle http.HandlerFunc
	public bool
}

func newHandler(path, method string, handle http.HandlerFunc) *httpHandler {
	return &httpHandler{path: path, method: method, handle: handle}
}

func newPublicHandler(path, method string, handle http.HandlerFunc) *httpHandler {
	return &httpHandler{path: path, method: method, handle: handle, public: true}
}

func (h *httpHandler) Path() string             { return h.path }
func (h *httpHandler) Method() string           { return h.method }
func (h *httpHandler) Handle() http.HandlerFunc { return h.handle }

// routeName identifies a registered route.
func routeName(h Handler) string {
	return h.Method() + " " + h.Path()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// accessLog logs one line per request.
func accessLog(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start).String(),
			}).Info("request")
		})
	}
}
