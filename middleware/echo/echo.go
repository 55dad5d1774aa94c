// Package echo provides Echo routes for snapshot reconciliation and middleware that admits
// only organizations with an active subscription
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/gosubsync/pkg/api"
	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// OrganizationIDExtractor extracts the organization ID from an Echo context
// Return empty string if the request carries none
type OrganizationIDExtractor func(c echo.Context) string

// OrganizationIDContextKey is the Echo context key under which admitted requests carry the organization ID
const OrganizationIDContextKey = "subsync.organizationID"

// Router is the subset of *echo.Echo and *echo.Group used by Register
type Router interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// Register mounts the reconciliation API on an Echo instance or group:
//
//	POST /subscriptions/reconcile
//	POST /orders/reconcile
//	GET  /organizations/:organizationID/subscriptions
func Register(r Router, h *api.Handler) {
	if h == nil {
		panic("gosubsync/echo: handler is required")
	}
	r.POST("/subscriptions/reconcile", echo.WrapHandler(http.HandlerFunc(h.ReconcileSubscription)))
	r.POST("/orders/reconcile", echo.WrapHandler(http.HandlerFunc(h.ReconcileOrder)))
	r.GET("/organizations/:organizationID/subscriptions", func(c echo.Context) error {
		c.Request().SetPathValue("organizationID", c.Param("organizationID"))
		h.GetSubscriptions(c.Response(), c.Request())
		return nil
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
	OnInactive func(c echo.Context, organizationID string) error

	// OnMissingOrganization is called when no organization ID is found
	// If nil, returns 400 Bad Request
	OnMissingOrganization func(c echo.Context) error

	// OnError is called when the lookup fails
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that rejects organizations without an active subscription
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Reader == nil {
		panic("gosubsync/echo: Config.Reader is required")
	}
	if cfg.GetOrganizationID == nil {
		panic("gosubsync/echo: Config.GetOrganizationID is required")
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

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			organizationID := cfg.GetOrganizationID(c)
			if organizationID == "" {
				return cfg.OnMissingOrganization(c)
			}

			active, err := cfg.Reader.HasActiveSubscription(c.Request().Context(), organizationID)
			if err != nil {
				return cfg.OnError(c, err)
			}
			if !active {
				return cfg.OnInactive(c, organizationID)
			}

			c.Set(OrganizationIDContextKey, organizationID)
			return next(c)
		}
	}
}

// Default error handlers

func defaultInactive(c echo.Context, _ string) error {
	return c.JSON(http.StatusPaymentRequired, map[string]string{"error": "active subscription required"})
}

func defaultMissingOrganization(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "organization id required"})
}

func defaultError(c echo.Context, _ error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// Convenience extractors for the organization ID

// FromContext returns an OrganizationIDExtractor that gets the ID from Echo context values
func FromContext(key string) OrganizationIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns an OrganizationIDExtractor that gets the ID from a header
func FromHeader(headerName string) OrganizationIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns an OrganizationIDExtractor that gets the ID from a route parameter
func FromParam(paramName string) OrganizationIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns an OrganizationIDExtractor that gets the ID from a query parameter
func FromQuery(queryName string) OrganizationIDExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}
