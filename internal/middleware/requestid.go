// Package middleware provides HTTP middleware shared by the uvalens bridge.
package middleware

import (
	"net/http"
	"unicode"

	"github.com/uvalang/uvalens/internal/logger"
)

// HeaderRequestID carries the request id on requests and responses.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID is HTTP middleware that takes X-Request-ID from the request or
// assigns a new uuid. The id is stored in the context, where the analyzer
// facade and the log handler pick it up, and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.Header.Get(HeaderRequestID)
		if validRequestID(id) {
			ctx = logger.WithRequestID(ctx, id)
		} else {
			ctx, id = logger.EnsureRequestID(ctx)
		}

		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID rejects empty, oversized and non-printable ids so client
// input cannot forge log lines.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
