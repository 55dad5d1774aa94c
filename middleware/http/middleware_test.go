package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
	"github.com/mihaimyh/gosubsync/storage/memory"
)

// errorStorage is a mock storage whose subscription listing always fails
type errorStorage struct {
	*memory.Storage
}

func (s *errorStorage) ListSubscriptions(_ context.Context, _ string) ([]*subsync.Subscription, error) {
	return nil, errors.New("connection refused")
}

// Test helper: org_active has an active subscription, org_inactive a canceled one
func setupTestStore(t *testing.T) *memory.Storage {
	t.Helper()

	ctx := context.Background()
	store := memory.New()
	for _, org := range []string{"org_active", "org_inactive"} {
		if err := store.CreateOrganization(ctx, &subsync.Organization{ID: org, Name: org}); err != nil {
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
	return store
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Organization", OrganizationID(r.Context()))
	w.WriteHeader(http.StatusOK)
}

func TestMiddleware(t *testing.T) {
	reader := subsync.NewReader(setupTestStore(t), nil)
	handler := Middleware(Config{
		Reader:            reader,
		GetOrganizationID: FromHeader("X-Organization-ID"),
	})(http.HandlerFunc(okHandler))

	tests := []struct {
		name       string
		orgID      string
		wantStatus int
	}{
		{name: "active subscription", orgID: "org_active", wantStatus: http.StatusOK},
		{name: "inactive subscription", orgID: "org_inactive", wantStatus: http.StatusPaymentRequired},
		{name: "no subscription", orgID: "org_unknown", wantStatus: http.StatusPaymentRequired},
		{name: "missing organization", orgID: "", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
			if tt.orgID != "" {
				req.Header.Set("X-Organization-ID", tt.orgID)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK && rec.Header().Get("X-Organization") != tt.orgID {
				t.Errorf("Expected organization %q in context, got %q", tt.orgID, rec.Header().Get("X-Organization"))
			}
		})
	}
}

func TestMiddleware_CustomHandlers(t *testing.T) {
	reader := subsync.NewReader(setupTestStore(t), nil)
	var inactiveOrg string
	handler := HandlerFunc(Config{
		Reader:            reader,
		GetOrganizationID: FromPathValue("org"),
		OnInactive: func(w http.ResponseWriter, _ *http.Request, organizationID string) {
			inactiveOrg = organizationID
			w.WriteHeader(http.StatusForbidden)
		},
		OnMissingOrganization: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
	})(okHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orgs/{org}/data", handler)
	mux.HandleFunc("GET /data", handler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orgs/org_inactive/data", nil))
	if rec.Code != http.StatusForbidden || inactiveOrg != "org_inactive" {
		t.Errorf("Expected custom inactive handler, got %d (%q)", rec.Code, inactiveOrg)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/data", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected custom missing handler, got %d", rec.Code)
	}
}

func TestMiddleware_StorageError(t *testing.T) {
	reader := subsync.NewReader(&errorStorage{Storage: setupTestStore(t)}, nil)

	var got error
	handler := Middleware(Config{
		Reader:            reader,
		GetOrganizationID: FromContext(OrganizationIDKey),
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithOrganizationID(req.Context(), "org_active"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
	if got == nil {
		t.Error("Expected OnError to receive the storage error")
	}
}

func TestMiddleware_PanicsWithoutReader(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic")
		}
	}()
	Middleware(Config{GetOrganizationID: FromHeader("X")})
}
