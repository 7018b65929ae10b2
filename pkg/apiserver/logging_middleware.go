package apiserver

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// realIP get the real IP from http request
func realIP(req *http.Request) string {
	ra := req.RemoteAddr
	if ip := req.Header.Get("X-Forwarded-For"); ip != "" {
		ra = strings.Split(ip, ", ")[0]
	} else if ip := req.Header.Get("X-Real-IP"); ip != "" {
		ra = ip
	} else {
		ra, _, _ = net.SplitHostPort(ra)
	}
	return ra
}

// responseWriter captures the written status code for logging.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}

	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

// loggingMiddleware logs the incoming HTTP request & its duration.
func loggingMiddleware(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			log := logger
			if remoteAddr := realIP(r); remoteAddr != "" {
				log = log.WithField("remoteAddr", remoteAddr)
			}

			start := time.Now()
			wrapped := wrapResponseWriter(w)

			defer func() {
				if err := recover(); err != nil {
					wrapped.WriteHeader(http.StatusInternalServerError)
					log.WithField("status", http.StatusInternalServerError).Errorf("recovered error: %v", err)
					log.Errorf("Stack %s", debug.Stack())
				}
			}()

			next.ServeHTTP(wrapped, r)

			path := r.URL.EscapedPath()
			if path == "/healthz" || path == "/metrics" {
				return
			}

			requestLogger := log.WithFields(logrus.Fields{
				"status":   wrapped.status,
				"method":   r.Method,
				"path":     path,
				"duration": time.Since(start),
			})

			msg := fmt.Sprintf("handled: %d", wrapped.status)
			if wrapped.status >= 500 {
				requestLogger.Error(msg)
			} else if wrapped.status >= 400 {
				requestLogger.Info(msg)
			} else {
				requestLogger.Debug(msg)
			}
		}

		return http.HandlerFunc(fn)
	}
}
