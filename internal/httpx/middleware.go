package httpx

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"dmchat/internal/netutil"
	obsmw "dmchat/internal/observability/middleware"
)

// LogRequests writes one structured line per request with method, route,
// status and latency.
func LogRequests(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				// A hijacked upgrade writes its 101 straight to the conn.
				status = http.StatusOK
				if websocket.IsWebSocketUpgrade(r) {
					status = http.StatusSwitchingProtocols
				}
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := append(obsmw.LogAttrs(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"ip", netutil.ClientIP(r),
				"user_agent", netutil.TruncateUserAgent(r.UserAgent()),
			)
			log.Log(r.Context(), level, "http request", attrs...)
		})
	}
}
