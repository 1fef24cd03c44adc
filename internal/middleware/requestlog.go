package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/fengnong/fengnong-agent/backend/internal/metrics"
)

// RequestLog writes one zerolog access line per request and records the
// request in m, labelled by chi route pattern. Requests aborted with
// http.ErrAbortHandler are still logged before the panic continues.
func RequestLog(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						logRequest(m, ww, r, start, true)
					}
					panic(rvr)
				}
			}()

			next.ServeHTTP(ww, r)
			logRequest(m, ww, r, start, false)
		})
	}
}

func logRequest(m *metrics.Metrics, ww chimiddleware.WrapResponseWriter, r *http.Request, start time.Time, aborted bool) {
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	route := ""
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		route = rctx.RoutePattern()
	}
	elapsed := time.Since(start)
	m.ObserveHTTP(route, status, elapsed)

	event := log.Info()
	if status >= http.StatusInternalServerError || aborted {
		event = log.Warn()
	}
	event.
		Str("requestId", chimiddleware.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("route", route).
		Int("status", status).
		Int("bytes", ww.BytesWritten()).
		Bool("aborted", aborted).
		Dur("elapsed", elapsed).
		Msg("http request")
}
