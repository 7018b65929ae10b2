package apiserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// adminAuthMiddleware requires a bearer token matching tokenHash. An empty hash disables the check.
func adminAuthMiddleware(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logrus.Debugf("request URL path: %s", r.URL.Path)
			authorization := r.Header.Get("Authorization")
			if !strings.HasPrefix(authorization, "Bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			token := strings.TrimPrefix(authorization, "Bearer ")

			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				writeError(w, http.StatusForbidden, errors.New("forbidden to use"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
