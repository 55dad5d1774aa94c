package gin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/gosubsync/pkg/api"
	"github.com/mihaimyh/gosubsync/pkg/subsync"
	"github.com/mihaimyh/gosubsync/storage/memory"
)

func init() {
	gongin.SetMode(gongin.TestMode)
}

// errorStorage is a mock storage whose subscription listing always fails
type errorStorage struct {
	*memory.Storage
}

func (s *errorStorage) ListSubscriptions(_ context.Context, _ string) ([]*subsync.Subscription, error) {
	return nil, errors.New("connection refused")
}

// Test helper: org_active has an active subscription, org_inactive a canceled one
func setupTestStore(t *testing.T) (*memory.Storage, *subsync.Reconciler) {
	t.Helper()

	ctx := context.Background()
	store := memory.New()
	for _, org := range []string{"org_active", "org_inactive"} {
		if err := store.CreateOrganization(ctx, &subsync.Organization{ID: org, Name: org, BillingCustomerID: "cus_" + org}); err != nil {
			t.Fatalf("Failed to create organization: %v", err)
		}
	}

	reconciler, err := subsync.NewReconciler(store, nil)
	if err != nil {
		t.Fatalf("Failed to create reconciler: %v", err)
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, snap := range []*subsync.SubscriptionSnapshot{
		{SubscriptionID: "sub_a", OrganizationID: "org_active", Status: subsync.StatusActive, Active: true, PeriodStartsAt: start, PeriodEndsAt: start.AddDate(0, 1, 0)},
		{SubscriptionID: "sub_b", OrganizationID: "org_inactive", Status: subsync.StatusCanceled, PeriodStartsAt: start, PeriodEndsAt: start.AddDate(0, 1, 0)},
	} {
		if err := reconciler.Reconcile(ctx, snap); err != nil {
			t.Fatalf("Failed to reconcile: %v", err)
		}
	}
	return store, reconciler
}

func TestMiddleware(t *testing.T) {
	store, _ := setupTestStore(t)

	r := gongin.New()
	r.Use(Middleware(Config{
		Reader:            subsync.NewReader(store, nil),
		GetOrganizationID: FromHeader("X-Organization-ID"),
	}))
	r.GET("/api/data", func(c *gongin.Context) {
		c.String(http.StatusOK, c.GetString(OrganizationIDContextKey))
	})

	tests := []struct {
		name       string
		orgID      string
		wantStatus int
	}{
		{name: "active subscription", orgID: "org_active", wantStatus: http.StatusOK},
		{name: "inactive subscription", orgID: "org_inactive", wantStatus: http.StatusPaymentRequired},
		{name: "missing organization", orgID: "", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
			if tt.orgID != "" {
				req.Header.Set("X-Organization-ID", tt.orgID)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus == http.StatusOK && w.Body.String() != tt.orgID {
				t.Errorf("Expected organization %q in context, got %q", tt.orgID, w.Body.String())
			}
		})
	}
}

func TestMiddleware_FromParam(t *testing.T) {
	store, _ := setupTestStore(t)

	r := gongin.New()
	r.GET("/orgs/:org/data", Middleware(Config{
		Reader:            subsync.NewReader(store, nil),
		GetOrganizationID: FromParam("org"),
	}), func(c *gongin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orgs/org_active/data", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
}

func TestMiddleware_StorageError(t *testing.T) {
	store, _ := setupTestStore(t)

	var got error
	r := gongin.New()
	r.Use(Middleware(Config{
		Reader:            subsync.NewReader(&errorStorage{Storage: store}, nil),
		GetOrganizationID: FromQuery("org"),
		OnError: func(c *gongin.Context, err error) {
			got = err
			c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "unavailable"})
		},
	}))
	r.GET("/api/data", func(c *gongin.Context) {
		t.Error("handler must not run")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/data?org=org_active", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	if got == nil {
		t.Error("Expected OnError to receive the storage error")
	}
}

func TestRegister(t *testing.T) {
	store, reconciler := setupTestStore(t)
	h, err := api.NewHandler(api.Config{Reconciler: reconciler, Reader: subsync.NewReader(store, nil)})
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}

	r := gongin.New()
	Register(r.Group("/billing"), h)

	body := `{"subscriptionId":"sub_c","customerId":"cus_org_inactive","status":"active","active":true,"items":[]}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/billing/subscriptions/reconcile", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/billing/organizations/org_inactive/subscriptions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"sub_c"`) || !strings.Contains(w.Body.String(), `"organizationId":"org_inactive"`) {
		t.Errorf("Unexpected body: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/billing/orders/reconcile", strings.NewReader(`{"orderId":""}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}
