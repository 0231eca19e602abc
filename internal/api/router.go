/**
 * @description
 * This file sets up the HTTP router for the order-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// OrderRoutes creates and returns a new router for the order service.
func OrderRoutes(h *OrderHandlers, adminJWTSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public endpoints. The webhook authenticates itself via the gateway
	// signature, the download path via the capability token.
	r.Post("/webhook", h.WebhookHandler)
	r.Post("/checkout", h.CheckoutHandler)
	r.Get("/order-details", h.OrderDetailsHandler)
	r.Get("/download/{token}", h.DownloadHandler)
	r.Post("/leads", h.LeadCaptureHandler)

	// Group routes that require admin authentication.
	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(adminJWTSecret))

		r.Get("/orders", h.ListOrdersHandler)
		r.Patch("/orders/{id}", h.UpdateOrderStatusHandler)
		r.Post("/orders/{id}/refund", h.RefundOrderHandler)
		r.Get("/audit-logs", h.ListAuditLogsHandler)
	})

	return r
}
