package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/metrics"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

const (
	HeaderPartyID   = "X-Party-ID"
	HeaderPartyRole = "X-Party-Role"
)

type partyKey struct{}

// Party returns the identity attached by RequireParty.
func Party(ctx context.Context) model.Sender {
	s, _ := ctx.Value(partyKey{}).(model.Sender)
	return s
}

// RequireParty trusts the identity asserted by the upstream gateway. The
// websocket upgrade cannot set headers from browsers, so query parameters
// are accepted as well.
func RequireParty(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, role := r.Header.Get(HeaderPartyID), r.Header.Get(HeaderPartyRole)
			if id == "" {
				id, role = r.URL.Query().Get("party_id"), r.URL.Query().Get("role")
			}
			if id == "" {
				writeError(w, logger, model.ErrUnauthenticated)
				return
			}
			parsed, err := model.ParseRole(role)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			ctx := context.WithValue(r.Context(), partyKey{}, model.Sender{PartyID: id, Role: parsed})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Logger records one line per request.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Metrics labels requests by route pattern to keep cardinality bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
