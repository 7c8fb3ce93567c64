package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForStreams routes byte-range delivery and WebSocket
// upgrades around the compressor. Compressed bodies switch to chunked
// encoding, which breaks Content-Length and Content-Range accounting, and
// the upgrade handshake needs the raw connection.
func SkipCompressionForStreams(compressor func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	bypass := func(r *http.Request) bool {
		return strings.HasSuffix(r.URL.Path, "/stream") ||
			strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
	}

	return func(next http.Handler) http.Handler {
		compressed := compressor(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass(r) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}
