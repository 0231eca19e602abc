/**
 * @description
 * This file contains the HTTP handlers for the order-service's public API
 * endpoints: gateway webhook ingestion, checkout initiation, the order-details
 * projection, download fetches, and lead capture. Handlers parse incoming
 * requests, call the appropriate methods on the application service, and write
 * the HTTP response.
 *
 * The webhook handler carries the load-bearing response contract: a failed
 * signature or freshness check is the ONLY outcome that returns an error
 * status (so the gateway retries); unrecognized events, duplicate deliveries,
 * unknown sessions, and illegal transitions are all acknowledged with success
 * so the gateway stops redelivering notifications we can never act on.
 *
 * @dependencies
 * - encoding/json, io, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - pkg/paymentgateway: For webhook verification.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/packlane/order-service/internal/app"
	"github.com/packlane/order-service/internal/domain"
	"github.com/packlane/order-service/internal/store"
	"github.com/packlane/order-service/pkg/paymentgateway"
)

// maxWebhookBodyBytes bounds how much of a notification body is read.
const maxWebhookBodyBytes = 1 << 20

// OrderHandlers holds the application service that handlers will use.
type OrderHandlers struct {
	service          *app.Service
	webhookSecret    string
	webhookTolerance time.Duration
	now              func() time.Time
}

// NewOrderHandlers creates a new instance of OrderHandlers.
func NewOrderHandlers(service *app.Service, webhookSecret string, webhookTolerance time.Duration) *OrderHandlers {
	if webhookTolerance <= 0 {
		webhookTolerance = paymentgateway.DefaultTolerance
	}
	return &OrderHandlers{
		service:          service,
		webhookSecret:    webhookSecret,
		webhookTolerance: webhookTolerance,
		now:              time.Now,
	}
}

// WebhookHandler ingests asynchronous payment notifications from the gateway.
func (h *OrderHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("level=warn component=api endpoint=webhook outcome=reject reason=body_read_failed err=%v", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	event, err := paymentgateway.ConstructEvent(body, r.Header.Get(paymentgateway.SignatureHeader), h.webhookSecret, h.webhookTolerance, h.now())
	if err != nil {
		log.Printf("level=warn component=api endpoint=webhook outcome=reject reason=verification_failed err=%v", err)
		http.Error(w, "Webhook signature verification failed", http.StatusBadRequest)
		return
	}

	if event.Kind == paymentgateway.EventIgnored {
		log.Printf("level=info component=api endpoint=webhook outcome=ignored event_id=%s", event.EventID)
		h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	orderEvent, ok := toOrderEvent(event)
	if !ok {
		// Recognized event type but no usable order address; nothing to retry.
		log.Printf("level=warn component=api endpoint=webhook outcome=ignored reason=missing_order_reference event_id=%s", event.EventID)
		h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	order, err := h.service.ApplyOrderEvent(r.Context(), orderEvent)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			// A retry can never make the order appear; acknowledge.
			log.Printf("level=warn component=api endpoint=webhook outcome=ack reason=order_not_found event_id=%s session_id=%s", event.EventID, event.SessionID)
			h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		case errors.Is(err, app.ErrConflict):
			// Illegal transition: surfaced in the logs and the audit trail of
			// the earlier transition, but acknowledged so the gateway stops.
			log.Printf("level=warn component=api endpoint=webhook outcome=ack reason=conflict event_id=%s err=%v", event.EventID, err)
			h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		default:
			// Transient failure (e.g., store unavailable): ask for redelivery.
			log.Printf("level=error component=api endpoint=webhook outcome=retry event_id=%s err=%v", event.EventID, err)
			http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
		}
		return
	}

	log.Printf("level=info component=api endpoint=webhook outcome=processed event_id=%s order_id=%s status=%s", event.EventID, order.ID, order.Status)
	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// toOrderEvent maps a verified gateway notification onto the engine's event
// type. Returns false when the notification carries no usable order address.
func toOrderEvent(event paymentgateway.VerifiedEvent) (domain.OrderEvent, bool) {
	orderEvent := domain.OrderEvent{
		PaymentID:     event.PaymentID,
		CustomerEmail: event.CustomerEmail,
		Actor:         domain.ActorSystem,
	}

	switch event.Kind {
	case paymentgateway.EventPaymentCompleted:
		orderEvent.Kind = domain.OrderEventPaymentCompleted
		orderEvent.SessionID = event.SessionID
		return orderEvent, event.SessionID != ""
	case paymentgateway.EventPaymentFailed:
		orderEvent.Kind = domain.OrderEventPaymentFailed
		if event.OrderID == "" {
			return orderEvent, false
		}
		orderID, err := parseOrderID(event.OrderID)
		if err != nil {
			return orderEvent, false
		}
		orderEvent.OrderID = orderID
		return orderEvent, true
	}
	return orderEvent, false
}

// CheckoutHandler initiates a purchase and returns the gateway redirect (or
// the inline free-completion response).
func (h *OrderHandlers) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=checkout outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.CreateCheckout(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidProduct):
			h.writeError(w, http.StatusBadRequest, "Product id is required")
		case errors.Is(err, app.ErrProductNotFound):
			h.writeError(w, http.StatusNotFound, "Product not found")
		default:
			log.Printf("level=error component=api endpoint=checkout outcome=failed err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Unable to start checkout")
		}
		return
	}

	log.Printf("level=info component=api endpoint=checkout outcome=created order_id=%s free=%t", resp.OrderID, resp.Free)
	h.writeJSON(w, http.StatusCreated, resp)
}

// OrderDetailsHandler serves the read-only order projection for the
// post-checkout landing page.
func (h *OrderHandlers) OrderDetailsHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	details, err := h.service.GetOrderDetailsBySession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		log.Printf("level=error component=api endpoint=order_details outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch order details")
		return
	}

	h.writeJSON(w, http.StatusOK, details)
}

// DownloadHandler redeems a download token and redirects to the asset.
// QuotaExceeded, Expired, and Unknown are deliberately indistinguishable to
// the caller: a uniform denial gives token guessers nothing to work with.
func (h *OrderHandlers) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	if allowed, retryAfter := h.service.CheckDownloadRateLimit(r.Context(), clientIP(r)); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	token := chi.URLParam(r, "token")
	grant, err := h.service.ConsumeDownload(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDownloadUnknown), errors.Is(err, app.ErrDownloadExpired), errors.Is(err, app.ErrQuotaExceeded):
			log.Printf("level=info component=api endpoint=download outcome=denied reason=%v", err)
			h.writeError(w, http.StatusNotFound, "Download unavailable")
		default:
			log.Printf("level=error component=api endpoint=download outcome=failed err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Unable to process download")
		}
		return
	}

	log.Printf("level=info component=api endpoint=download outcome=allowed order_id=%s remaining=%d", grant.OrderID, grant.Remaining)
	http.Redirect(w, r, grant.AssetURL, http.StatusFound)
}

// LeadCaptureHandler records an email from the public lead-magnet form.
func (h *OrderHandlers) LeadCaptureHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LeadCaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.CaptureLead(r.Context(), req); err != nil {
		if errors.Is(err, app.ErrInvalidEmail) {
			h.writeError(w, http.StatusBadRequest, "A valid email address is required")
			return
		}
		log.Printf("level=error component=api endpoint=leads outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to record email")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *OrderHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *OrderHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
