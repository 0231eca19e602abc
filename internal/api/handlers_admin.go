/**
 * @description
 * This file contains the HTTP handlers for the operator-facing admin API:
 * order listing, manual status mutation, refund triggering, and the audit log
 * view. Admin mutations never write order fields directly; they route through
 * the same reconciliation transition function as gateway events, so the state
 * machine and its audit trail stay the single source of truth.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/packlane/order-service/internal/app"
	"github.com/packlane/order-service/internal/domain"
	"github.com/packlane/order-service/internal/store"
)

func parseOrderID(raw string) (uuid.UUID, error) {
	return uuid.Parse(raw)
}

// ListOrdersHandler returns orders for the admin dashboard with optional
// status filter and email/product search.
func (h *OrderHandlers) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := domain.OrderListOptions{
		Search: query.Get("search"),
	}
	if status := query.Get("status"); status != "" {
		candidate := domain.OrderStatus(status)
		if !candidate.Valid() {
			h.writeError(w, http.StatusBadRequest, "Unknown status filter")
			return
		}
		opts.Status = candidate
	}
	opts.Limit, _ = strconv.Atoi(query.Get("limit"))
	opts.Offset, _ = strconv.Atoi(query.Get("offset"))

	orders, err := h.service.ListOrders(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_list_orders outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// UpdateOrderStatusHandler applies an operator-requested status change through
// the transition function.
func (h *OrderHandlers) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	actor, ok := GetAdminUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not resolve admin identity")
		return
	}

	var req domain.AdminStatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.AdminUpdateOrderStatus(r.Context(), orderID, req.Status, actor)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidStatusChange):
			h.writeError(w, http.StatusBadRequest, "Status must be 'completed' or 'failed'; refunds go through the refund endpoint")
		case errors.Is(err, store.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, app.ErrConflict):
			h.writeError(w, http.StatusConflict, "Order does not accept this transition")
		default:
			log.Printf("level=error component=api endpoint=admin_update_order outcome=failed order_id=%s err=%v", orderID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to update order")
		}
		return
	}

	log.Printf("level=info component=api endpoint=admin_update_order outcome=updated order_id=%s status=%s actor=%s", order.ID, order.Status, actor)
	h.writeJSON(w, http.StatusOK, order)
}

// RefundOrderHandler triggers a gateway refund for a completed order.
func (h *OrderHandlers) RefundOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	actor, ok := GetAdminUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not resolve admin identity")
		return
	}

	order, err := h.service.RefundOrder(r.Context(), orderID, actor)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, app.ErrNotEligible):
			h.writeError(w, http.StatusConflict, "Order is not eligible for refund")
		case errors.Is(err, app.ErrGatewayUnavailable):
			h.writeError(w, http.StatusBadGateway, "Refund could not be confirmed by the payment gateway; retry later")
		case errors.Is(err, app.ErrConflict):
			h.writeError(w, http.StatusConflict, "Order was modified concurrently; refresh and retry")
		default:
			log.Printf("level=error component=api endpoint=admin_refund outcome=failed order_id=%s err=%v", orderID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to process refund")
		}
		return
	}

	log.Printf("level=info component=api endpoint=admin_refund outcome=refunded order_id=%s actor=%s", order.ID, actor)
	h.writeJSON(w, http.StatusOK, order)
}

// ListAuditLogsHandler returns audit entries, optionally filtered by entity id.
func (h *OrderHandlers) ListAuditLogsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := domain.AuditLogListOptions{
		EntityID: query.Get("entity_id"),
	}
	opts.Limit, _ = strconv.Atoi(query.Get("limit"))
	opts.Offset, _ = strconv.Atoi(query.Get("offset"))

	entries, err := h.service.ListAuditLogs(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_audit_logs outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list audit logs")
		return
	}
	if entries == nil {
		entries = []domain.AuditLogEntry{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
