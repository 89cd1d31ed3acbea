package web

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/avstrong/bnb/internal/identity"
)

var tracer = otel.Tracer("github.com/avstrong/bnb/internal/transport/web")

// statusRecorder remembers the response code for access logs and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}

	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}

	return r.ResponseWriter.Write(b) //nolint:wrapcheck
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%w: response writer cannot hijack", ErrUnsupported)
	}

	r.status = http.StatusSwitchingProtocols

	return h.Hijack() //nolint:wrapcheck
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}

	return r.status
}

func (s *Server) loggerMiddleware(route string) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now().UTC()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			var traceID string

			if spanTraceID := uuid.UUID(trace.SpanContextFromContext(r.Context()).TraceID()); spanTraceID != uuid.Nil {
				traceID = spanTraceID.String()
			}

			latency := time.Since(start)

			if s.svc.Metrics != nil {
				s.svc.Metrics.ObserveRequest(r.Method, route, rec.code(), latency)
			}

			s.l.Log(
				"type", "access",
				"method", r.Method,
				"url", r.URL.Path,
				"status", rec.code(),
				"proto", r.Proto,
				"userAgent", r.Header.Get("User-Agent"),
				"traceID", traceID,
				"latency", latency,
			)
		})
	}
}

func (s *Server) recoverMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if re := recover(); re != nil {
					err, ok := re.(error)
					if !ok {
						err = fmt.Errorf("%v: %w", re, ErrPanic)
					}

					if s.svc.Metrics != nil {
						s.svc.Metrics.PanicRecovered()
					}

					s.l.LogErrorf("type: panic, error: %v", err)
					writeMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// traceMiddleware starts a server span, continuing a trace propagated by the caller.
func (s *Server) traceMiddleware(route string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(ctx, r.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			)

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", rec.code()))

			if rec.code() >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.code()))
			}
		})
	}
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	visitorTTL    = 10 * time.Minute
	sweepInterval = time.Minute
)

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if perSecond <= 0 {
		return nil
	}

	if burst < 1 {
		burst = 1
	}

	//nolint:exhaustruct
	return &clientLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

func (c *clientLimiter) allow(client string) bool {
	return c.allowAt(client, time.Now())
}

func (c *clientLimiter) allowAt(client string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Idle visitors are dropped at most once per sweepInterval.
	if now.Sub(c.lastSweep) >= sweepInterval {
		for key, v := range c.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(c.visitors, key)
			}
		}

		c.lastSweep = now
	}

	v, ok := c.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.visitors[client] = v
	}

	v.lastSeen = now

	return v.limiter.AllowN(now, 1)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func (s *Server) rateLimitMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter != nil && !s.limiter.allow(clientAddr(r)) {
				w.Header().Set("Retry-After", "1")
				writeMessage(w, http.StatusTooManyRequests, "too many requests")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	// Browsers cannot set headers on websocket handshakes.
	return r.URL.Query().Get("access_token")
}

type access int

const (
	public access = iota
	signedIn
	adminOnly
)

// authMiddleware resolves the bearer token into a principal. Public routes accept
// anonymous callers but still reject a broken token.
func (s *Server) authMiddleware(need access) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)

			if token == "" {
				if need != public {
					writeMessage(w, http.StatusUnauthorized, "authentication required")

					return
				}

				next.ServeHTTP(w, r)

				return
			}

			p, err := s.svc.Identity.Verify(r.Context(), token)
			if err != nil {
				if !errors.Is(err, identity.ErrInvalidToken) {
					s.l.LogErrorf("Could not verify token: %v", err.Error())
				}

				writeMessage(w, http.StatusUnauthorized, "invalid token")

				return
			}

			if need == adminOnly && !p.IsAdmin() {
				writeMessage(w, http.StatusForbidden, "admin role required")

				return
			}

			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("user.id", p.ID))

			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
		})
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) applyMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, middleware := range middlewares {
		h = middleware(h)
	}

	return h
}
