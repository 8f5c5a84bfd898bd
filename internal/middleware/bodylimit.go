package middleware

import (
	"net/http"
)

// The only body this API accepts is a small JSON object carrying a
// 6-digit code, so even the default cap is generous.
const DefaultMaxBodySize = 1 << 20

// BodyLimitMiddleware rejects oversized request bodies before a handler
// ever starts decoding them.
type BodyLimitMiddleware struct {
	maxSize int64
}

func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declared length is checked up front; MaxBytesReader still
		// covers chunked requests that never declare one.
		if r.ContentLength > m.maxSize {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "Request body too large",
			})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		next.ServeHTTP(w, r)
	})
}
