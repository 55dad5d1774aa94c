// Package fiber provides Fiber routes for snapshot reconciliation and middleware that admits
// only organizations with an active subscription
package fiber

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/mihaimyh/gosubsync/pkg/api"
	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// OrganizationIDExtractor extracts the organization ID from a Fiber context
// Return empty string if the request carries none
type OrganizationIDExtractor func(c *fiber.Ctx) string

// OrganizationIDLocalKey is the Fiber locals key under which admitted requests carry the organization ID
const OrganizationIDLocalKey = "subsync.organizationID"

// Register mounts the reconciliation API on a Fiber app or group. The net/http handlers run
// through the adaptor, so request bodies are copied once per call:
//
//	POST /subscriptions/reconcile
//	POST /orders/reconcile
//	GET  /organizations/:organizationID/subscriptions
func Register(r fiber.Router, h *api.Handler) {
	if h == nil {
		panic("gosubsync/fiber: handler is required")
	}
	r.Post("/subscriptions/reconcile", adaptor.HTTPHandlerFunc(h.ReconcileSubscription))
	r.Post("/orders/reconcile", adaptor.HTTPHandlerFunc(h.ReconcileOrder))
	r.Get("/organizations/:organizationID/subscriptions", func(c *fiber.Ctx) error {
		organizationID := c.Params("organizationID")
		return adaptor.HTTPHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.SetPathValue("organizationID", organizationID)
			h.GetSubscriptions(w, r)
		})(c)
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
	OnInactive func(c *fiber.Ctx, organizationID string) error

	// OnMissingOrganization is called when no organization ID is found
	// If nil, returns 400 Bad Request
	OnMissingOrganization func(c *fiber.Ctx) error

	// OnError is called when the lookup fails
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that rejects organizations without an active subscription
func Middleware(cfg Config) fiber.Handler {
	if cfg.Reader == nil {
		panic("gosubsync/fiber: Config.Reader is required")
	}
	if cfg.GetOrganizationID == nil {
		panic("gosubsync/fiber: Config.GetOrganizationID is required")
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

	return func(c *fiber.Ctx) error {
		organizationID := cfg.GetOrganizationID(c)
		if organizationID == "" {
			return cfg.OnMissingOrganization(c)
		}

		active, err := cfg.Reader.HasActiveSubscription(c.UserContext(), organizationID)
		if err != nil {
			return cfg.OnError(c, err)
		}
		if !active {
			return cfg.OnInactive(c, organizationID)
		}

		c.Locals(OrganizationIDLocalKey, organizationID)
		return c.Next()
	}
}

// Default error handlers

func defaultInactive(c *fiber.Ctx, _ string) error {
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "active subscription required"})
}

func defaultMissingOrganization(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "organization id required"})
}

func defaultError(c *fiber.Ctx, _ error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// Convenience extractors for the organization ID

// FromLocals returns an OrganizationIDExtractor that gets the ID from Fiber locals
func FromLocals(key string) OrganizationIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns an OrganizationIDExtractor that gets the ID from a header
func FromHeader(headerName string) OrganizationIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns an OrganizationIDExtractor that gets the ID from a route parameter
func FromParam(paramName string) OrganizationIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// FromQuery returns an OrganizationIDExtractor that gets the ID from a query parameter
func FromQuery(queryName string) OrganizationIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}
