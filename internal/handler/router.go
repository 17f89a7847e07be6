package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/live-auction/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса аукционов.
// metrics может быть nil, тогда /metrics не публикуется.
func (h *Handler) SetupRouter(metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Get("/sub/{channel}/{auctionId}", h.Subscribe)
	r.Get("/api/presence", h.Presence)

	r.Route("/api/auctions/{auctionId}", func(r chi.Router) {
		r.Get("/bid-info", h.BidInfo)
		r.Get("/results", h.Results)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.Member)

			r.Post("/enter", h.Enter)

			r.Group(func(r chi.Router) {
				if h.limiter != nil {
					r.Use(h.limiter.Middleware())
				}

				r.Post("/bids", h.SubmitBid)
				r.Post("/chat", h.SendChat)
			})

			r.Group(func(r chi.Router) {
				r.Use(custommiddleware.RequireAdmin)

				r.Post("/start", h.Start)
				r.Post("/end", h.End)
				r.Post("/settle", h.Settle)
				r.Put("/asking-price", h.ModifyAskingPrice)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
