package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/avstrong/bnb/internal/analytics"
	"github.com/avstrong/bnb/internal/availability"
	"github.com/avstrong/bnb/internal/blob"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/identity"
	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/metrics"
	"github.com/avstrong/bnb/internal/payment"
	"github.com/avstrong/bnb/internal/rooms"
)

type Server struct {
	srv      *http.Server
	router   *http.ServeMux
	handler  http.Handler
	l        *logger.Logger
	conf     Conf
	svc      Services
	limiter  *clientLimiter
	upgrader websocketUpgrader
}

// Services are the domain components the API exposes. Metrics is optional.
type Services struct {
	Ledger    *booking.Ledger
	Rooms     *rooms.Catalog
	Index     *availability.Index
	Identity  *identity.Provider
	Checkout  *payment.Checkout
	Analytics *analytics.Service
	Blobs     blob.Store
	Metrics   *metrics.Metrics
}

type Conf struct {
	L                 *logger.Logger
	ServerLogger      *log.Logger
	Host              string
	Port              string
	ReadHeaderTimeout time.Duration
	LivenessEndpoint  string
	CORSOrigins       []string
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
	Currency  string
}

func New(ctx context.Context, conf Conf, svc Services) (*Server, error) {
	mux := http.NewServeMux()

	if conf.LivenessEndpoint == "" {
		conf.LivenessEndpoint = "/liveness"
	}

	server := &Server{
		router:   mux,
		l:        conf.L,
		conf:     conf,
		svc:      svc,
		limiter:  newClientLimiter(conf.RateLimit, conf.RateBurst),
		upgrader: newUpgrader(conf.CORSOrigins),
	}

	server.addRoutes(mux)

	//nolint:exhaustruct
	server.handler = cors.New(cors.Options{
		AllowedOrigins:   conf.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(securityHeaders(mux))

	//nolint:exhaustruct
	server.srv = &http.Server{
		Addr:              net.JoinHostPort(conf.Host, conf.Port),
		ReadHeaderTimeout: conf.ReadHeaderTimeout,
		ErrorLog:          conf.ServerLogger,
		Handler:           server.handler,
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
	}

	return server, nil
}

func (s *Server) Srv() *http.Server {
	return s.srv
}

// Handler is the full middleware wrapped router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}
