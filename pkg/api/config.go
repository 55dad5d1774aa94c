package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// DefaultMaxBodyBytes is the request body limit applied when Config.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 256 * 1024

// Config holds configuration for the reconciliation API handler
type Config struct {
	// Reconciler applies posted snapshots (required)
	Reconciler *subsync.Reconciler

	// Reader serves the subscription listing (required)
	Reader *subsync.Reader

	// GetOrganizationID extracts the organization id of a listing request.
	// If nil, reads the {organizationID} path value set by http.ServeMux.
	GetOrganizationID func(*http.Request) string

	// MaxBodyBytes limits the size of posted snapshots. Default: 256 KiB
	MaxBodyBytes int64

	// OnError handles errors (validation, resolution, storage)
	// If nil, writes a JSON error with the status from StatusCode
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger records failed requests. Default: NoopLogger
	Logger subsync.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Reconciler == nil {
		return fmt.Errorf("reconciler is required")
	}
	if c.Reader == nil {
		return fmt.Errorf("reader is required")
	}
	return nil
}

// NewHandler creates a new reconciliation API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetOrganizationID == nil {
		config.GetOrganizationID = FromPathValue("organizationID")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.Logger == nil {
		config.Logger = &subsync.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common organization ID extraction patterns

// FromPathValue returns a GetOrganizationID function that reads a ServeMux path wildcard
func FromPathValue(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.PathValue(name)
	}
}

// FromHeader returns a GetOrganizationID function that extracts the id from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}
