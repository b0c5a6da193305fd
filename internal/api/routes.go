package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/auth"
)

// RouteOptions carries the router settings main reads from config.
type RouteOptions struct {
	CORSOrigins    []string
	MirrorOrigin   bool
	RateLimitRPM   int
	RequestTimeout time.Duration
	MetricsHandler http.Handler
	// Verifier checks signed requests. Nil uses an in-process verifier with
	// the default skew.
	Verifier *auth.Verifier
}

func (h *Handler) Routes(m *Middleware, opts RouteOptions) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.Verifier == nil {
		opts.Verifier = auth.NewVerifier(auth.Config{})
	}
	signed := m.Authenticate(opts.Verifier)
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(opts.CORSOrigins, opts.MirrorOrigin))
	r.Use(m.RateLimit(opts.RateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	// The websocket needs the raw connection, so it skips compression and
	// the request timeout.
	r.Get("/v1/ws", h.HandleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(m.Compress)
		r.Use(m.Timeout(opts.RequestTimeout))

		r.Route("/v1", func(r chi.Router) {
			// JSON-RPC endpoint
			r.Post("/jsonrpc", h.HandleJSONRPC)

			r.Get("/vault", h.GetVault)

			r.Route("/quotes", func(r chi.Router) {
				r.Get("/deposit", h.GetQuoteDeposit)
			})

			r.Route("/positions", func(r chi.Router) {
				r.With(signed).Post("/deposit", h.Deposit)
				r.With(signed).Post("/withdraw", h.Withdraw)
				r.With(signed).Post("/settle", h.Settle)
				r.Get("/{address}", h.GetPosition)
				r.Get("/{address}/pending", h.GetPending)
				r.Get("/{address}/snapshot", h.GetSnapshot)
			})

			r.Get("/events/{address}", h.GetEvents)

			r.Route("/admin", func(r chi.Router) {
				r.Use(signed)
				r.Post("/fee-rate-cap", h.SetFeeRateCap)
				r.Post("/stake-cap", h.SetStakeCap)
				r.Post("/vault", h.SetVault)
				r.Post("/admin", h.SetAdmin)
				r.Post("/protocol-tokens", h.RegisterProtocolToken)
				r.Delete("/protocol-tokens/{token}", h.DeregisterProtocolToken)
				r.Post("/sweep", h.SweepDust)
			})

			// Dev-only simulation
			r.With(signed).Post("/sim/price", h.SetSimPrice)
			r.With(signed).Post("/sim/faucet", h.Faucet)
		})
	})

	return r
}
