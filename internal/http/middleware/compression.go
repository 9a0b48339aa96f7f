package middleware

import (
	"net/http"
	"strings"
)

// StreamPathPrefix is where listener streams are mounted.
const StreamPathPrefix = "/stream/"

// SkipCompressionForStreams wraps a compression middleware so listener
// streams bypass it. Audio is already compressed and every chunk must reach
// the client as soon as it is flushed.
func SkipCompressionForStreams(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, StreamPathPrefix) {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
