package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	logx "crosspost/pkg/logx"
)

// requestLog logs one line per request at debug, upgraded to warn for 5xx.
func (s *Service) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log := s.log.With(
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
		if ww.Status() >= http.StatusInternalServerError {
			log.Warn("request failed")
		} else {
			log.Debug("request")
		}
	})
}
