package middleware

import (
	"net/http"

	"github.com/kiranshivaraju/depthflow/internal/api/response"
)

// BodyLimit caps request bodies at n bytes. Reads past the cap fail with *http.MaxBytesError.
func BodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				response.Error(w, http.StatusBadRequest, "FILE_TOO_LARGE",
					"Request body too large", map[string]any{"max_bytes": n})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
