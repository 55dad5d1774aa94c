// Package gin provides Gin routes for snapshot reconciliation and middleware that admits
// only organizations with an active subscription
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/gosubsync/pkg/api"
	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// OrganizationIDExtractor extracts the organization ID from a Gin context
// Return empty string if the request carries none
type OrganizationIDExtractor func(c *gongin.Context) string

// OrganizationIDContextKey is the Gin context key under which admitted requests carry the organization ID
const OrganizationIDContextKey = "subsync.organizationID"

// Register mounts the reconciliation API on a Gin router group:
//
//	POST /subscriptions/reconcile
//	POST /orders/reconcile
//	GET  /organizations/:organizationID/subscriptions
func Register(r gongin.IRoutes, h *api.Handler) {
	if h == nil {
		panic("gosubsync/gin: handler is required")
	}
	r.POST("/subscriptions/reconcile", gongin.WrapF(h.ReconcileSubscription))
	r.POST("/orders/reconcile", gongin.WrapF(h.ReconcileOrder))
	r.GET("/organizations/:organizationID/subscriptions", func(c *gongin.Context) {
		c.Request.SetPathValue("organizationID", c.Param("organizationID"))
		h.GetSubscriptions(c.Writer, c.Request)
	})
}

// Config holds middleware configuration
type Config struct {
	// Reader answers subscription lookups through the tag cache (required)
	Reader *subsync.Reader

	// GetOrganizationID extracts organization ID from context (required)
	GetOrganizationID OrganizationIDExtractor

	// OnInactive is called when the organization has no active subscription
	// If nil, returns 402 Payment Required
	OnInactive func(c *gongin.Context, organizationID string)

	// OnMissingOrganization is called when no organization ID is found
	// If nil, returns 400 Bad Request
	OnMissingOrganization func(c *gongin.Context)

	// OnError is called when the lookup fails
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that rejects organizations without an active subscription
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Reader == nil {
		panic("gosubsync/gin: Config.Reader is required")
	}
	if cfg.GetOrganizationID == nil {
		panic("gosubsync/gin: Config.GetOrganizationID is required")
	}
	if cfg.OnInactive == nil {
		cfg.OnInactive = defaultInactive
	}
	if cfg.OnMissingOrganization == nil {
		cfg.OnMissingOrganization = defaultMissingOrganization
	}
	if cfg.OnError == nil {
		cfg.OnError = defaultError
	}

	return func(c *gongin.Context) {
		organizationID := cfg.GetOrganizationID(c)
		if organizationID == "" {
			cfg.OnMissingOrganization(c)
			c.Abort()
			return
		}

		active, err := cfg.Reader.HasActiveSubscription(c.Request.Context(), organizationID)
		if err != nil {
			cfg.OnError(c, err)
			c.Abort()
			return
		}
		if !active {
			cfg.OnInactive(c, organizationID)
			c.Abort()
			return
		}

		c.Set(OrganizationIDContextKey, organizationID)
		c.Next()
	}
}

// Default error handlers

func defaultInactive(c *gongin.Context, _ string) {
	c.JSON(http.StatusPaymentRequired, gongin.H{"error": "active subscription required"})
}

func defaultMissingOrganization(c *gongin.Context) {
	c.JSON(http.StatusBadRequest, gongin.H{"error": "organization id required"})
}

func defaultError(c *gongin.Context, _ error) {
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
}

// Convenience extractors for the organization ID

// FromContext returns an OrganizationIDExtractor that gets the ID from Gin context values,
// as set by an auth middleware with c.Set(key, organizationID)
func FromContext(key string) OrganizationIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns an OrganizationIDExtractor that gets the ID from a header
func FromHeader(headerName string) OrganizationIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns an OrganizationIDExtractor that gets the ID from a route parameter
func FromParam(paramName string) OrganizationIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns an OrganizationIDExtractor that gets the ID from a query parameter
func FromQuery(queryName string) OrganizationIDExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}
