// Package http provides HTTP middleware that admits only organizations with an active subscription
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// OrganizationIDExtractor extracts the organization ID from an HTTP request
// Return empty string if the request carries none
type OrganizationIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Reader answers subscription lookups through the tag cache (required)
	Reader *subsync.Reader

	// GetOrganizationID extracts organization ID from request (required)
	GetOrganizationID OrganizationIDExtractor

	// OnInactive is called when the organization has no active subscription
	// If nil, returns 402 Payment Required
	OnInactive func(w http.ResponseWriter, r *http.Request, organizationID string)

	// OnMissingOrganization is called when no organization ID is found
	// If nil, returns 400 Bad Request
	OnMissingOrganization func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the lookup fails
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that rejects organizations without an active subscription.
// Admitted requests carry the organization ID in their context, see OrganizationID.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Reader == nil {
		panic("gosubsync/http: Config.Reader is required")
	}
	if config.GetOrganizationID == nil {
		panic("gosubsync/http: Config.GetOrganizationID is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			organizationID := config.GetOrganizationID(r)
			if organizationID == "" {
				if config.OnMissingOrganization != nil {
					config.OnMissingOrganization(w, r)
				} else {
					writeError(w, http.StatusBadRequest, "organization id required")
				}
				return
			}

			active, err := config.Reader.HasActiveSubscription(r.Context(), organizationID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					writeError(w, http.StatusInternalServerError, "Internal Server Error")
				}
				return
			}
			if !active {
				if config.OnInactive != nil {
					config.OnInactive(w, r, organizationID)
				} else {
					writeError(w, http.StatusPaymentRequired, "active subscription required")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOrganizationID(r.Context(), organizationID)))
		})
	}
}

// HandlerFunc wraps an http.HandlerFunc with the middleware
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	mw := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return mw(next).ServeHTTP
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ContextKey is the type for context keys
type ContextKey string

const (
	// OrganizationIDKey is the context key for the admitted organization ID
	OrganizationIDKey ContextKey = "subsync:organizationID"
)

// FromContext returns an OrganizationIDExtractor that gets the ID from request context
func FromContext(key ContextKey) OrganizationIDExtractor {
	return func(r *http.Request) string {
		if id, ok := r.Context().Value(key).(string); ok {
			return id
		}
		return ""
	}
}

// FromHeader returns an OrganizationIDExtractor that gets the ID from a header
func FromHeader(headerName string) OrganizationIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromPathValue returns an OrganizationIDExtractor that reads a ServeMux path wildcard
func FromPathValue(name string) OrganizationIDExtractor {
	return func(r *http.Request) string {
		return r.PathValue(name)
	}
}

// WithOrganizationID adds the organization ID to a context
func WithOrganizationID(ctx context.Context, organizationID string) context.Context {
	return context.WithValue(ctx, OrganizationIDKey, organizationID)
}

// OrganizationID returns the organization ID stored by WithOrganizationID
func OrganizationID(ctx context.Context) string {
	id, _ := ctx.Value(OrganizationIDKey).(string)
	return id
}
