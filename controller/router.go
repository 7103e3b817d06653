package controller

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Threads        *ThreadController
	Negotiation    *NegotiationController
	Socket         *SocketController
	Health         *HealthController
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// NewRouter wires every route of the service.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderPartyID, HeaderPartyRole},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", cfg.Health.Health)

	r.Group(func(r chi.Router) {
		r.Use(RequireParty(cfg.Logger))

		r.Get("/ws", cfg.Socket.Handle)

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chimw.Timeout(cfg.RequestTimeout))
			}

			r.Post("/threads", cfg.Threads.CreateThread)
			r.Get("/threads", cfg.Threads.ListThreads)
			r.Route("/threads/{id}", func(r chi.Router) {
				r.Get("/", cfg.Threads.GetThread)
				r.Post("/messages", cfg.Threads.AppendMessage)
				r.Patch("/messages/{msgID}", cfg.Threads.EditMessage)
				r.Delete("/messages/{msgID}", cfg.Threads.DeleteMessage)
				r.Post("/read", cfg.Threads.MarkRead)
				r.Post("/cancel", cfg.Threads.Cancel)
				r.Post("/reject", cfg.Threads.Reject)

				r.Get("/offers", cfg.Negotiation.OfferHistory)
				r.Post("/offers", cfg.Negotiation.ProposeOffer)
				r.Put("/min-price", cfg.Negotiation.SetMinPrice)
				r.Post("/agreement", cfg.Negotiation.Agree)
				r.Delete("/agreement", cfg.Negotiation.RevokeAgreement)
				r.Get("/checkout", cfg.Negotiation.Checkout)
				r.Post("/suggestion", cfg.Negotiation.Suggest)
			})
		})
	})

	return r
}
