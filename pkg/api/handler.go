package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

const (
	statusReconciled = "reconciled"
	maxIDLen         = 255
)

// ErrPayloadTooLarge is reported when a posted snapshot exceeds Config.MaxBodyBytes
var ErrPayloadTooLarge = errors.New("payload too large")

// Handler provides HTTP endpoints for snapshot reconciliation and subscription listing
type Handler struct {
	config Config
}

// Routes returns a mux serving every endpoint of the handler:
//
//	POST /subscriptions/reconcile
//	POST /orders/reconcile
//	GET  /organizations/{organizationID}/subscriptions
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /subscriptions/reconcile", h.ReconcileSubscription)
	mux.HandleFunc("POST /orders/reconcile", h.ReconcileOrder)
	mux.HandleFunc("GET /organizations/{organizationID}/subscriptions", h.GetSubscriptions)
	return mux
}

// ReconcileSubscription applies a posted SubscriptionSnapshot
func (h *Handler) ReconcileSubscription(w http.ResponseWriter, r *http.Request) {
	var snapshot subsync.SubscriptionSnapshot
	if err := h.decode(w, r, &snapshot); err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.config.Reconciler.Reconcile(r.Context(), &snapshot); err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ReconcileResponse{ID: snapshot.SubscriptionID, Status: statusReconciled})
}

// ReconcileOrder applies a posted OrderSnapshot
func (h *Handler) ReconcileOrder(w http.ResponseWriter, r *http.Request) {
	var snapshot subsync.OrderSnapshot
	if err := h.decode(w, r, &snapshot); err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.config.Reconciler.ReconcileOrder(r.Context(), &snapshot); err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ReconcileResponse{ID: snapshot.OrderID, Status: statusReconciled})
}

// GetSubscriptions returns the organization's subscriptions through the cached read path
func (h *Handler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	organizationID := h.config.GetOrganizationID(r)
	if organizationID == "" || len(organizationID) > maxIDLen {
		h.handleError(w, r, fmt.Errorf("%w: invalid organization id", subsync.ErrInvalidSnapshot))
		return
	}

	details, err := h.config.Reader.OrganizationSubscriptions(r.Context(), organizationID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, NewSubscriptionsResponse(organizationID, details))
}

// decode reads a JSON body of at most MaxBodyBytes into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrPayloadTooLarge
		}
		return fmt.Errorf("%w: %v", subsync.ErrInvalidSnapshot, err)
	}
	return nil
}

// StatusCode maps an error from the reconciliation core to an HTTP status code
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, subsync.ErrInvalidSnapshot), errors.Is(err, subsync.ErrMissingCustomerID):
		return http.StatusBadRequest
	case errors.Is(err, subsync.ErrOrganizationNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, subsync.ErrSubscriptionNotFound), errors.Is(err, subsync.ErrMembershipNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.config.Logger.Error("request failed",
			subsync.Field{Key: "path", Value: r.URL.Path},
			subsync.Field{Key: "error", Value: err},
		)
	}

	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	// Internal errors are not echoed to callers
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already started
		return
	}
}
