package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"staybook/internal/catalog"
	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/identity"
	"staybook/internal/models"
	"staybook/internal/payment"
	"staybook/internal/repository"
	"staybook/internal/scheduler"
	"staybook/internal/service"

	"github.com/rs/zerolog"
)

type mapResolver map[string]models.PaymentSession

func (m mapResolver) Resolve(_ context.Context, sessionID string) (*models.PaymentSession, error) {
	s := m[sessionID]
	return &s, nil
}

// Integration-style test: the HTTP surface drives the real lifecycle against sqlite.
func TestReservationLifecycleOverHTTP(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "integration.db"), &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	coordination := repository.NewMemoryCoordinationRepository()
	svc := service.NewReservationService(service.Dependencies{
		Store:     db,
		Locker:    repository.NewCalendarLock(coordination, time.Second, time.Second, &logger),
		Catalog:   catalog.NewStaticCatalog([]models.Listing{{ID: "loft", Title: "Loft", MaxGuests: 4, IsActive: true}}),
		Directory: identity.NewDirectory(config.IdentityConfig{}),
	}, 0, &logger)
	sched := scheduler.New(db, svc, time.Hour, &logger)
	svc.SetScheduler(sched)
	t.Cleanup(sched.Stop)

	sessions := mapResolver{}
	reconciler := payment.NewReconciler(svc, sessions, coordination, &logger)

	cfg := config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true}}
	server := NewHTTPServer(cfg, Handlers{Reservations: svc, Payments: reconciler, Sweeper: sched}, &logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	start := time.Now().UTC().AddDate(0, 0, 10).Format(models.DateLayout)
	end := time.Now().UTC().AddDate(0, 0, 13).Format(models.DateLayout)
	booking := fmt.Sprintf(`{"listingId":"loft","start":%q,"end":%q,"guestCount":2,"totalPrice":45000}`, start, end)

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/api/v1/reservations", "guest-1", booking)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: unexpected status %d: %v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create: missing id in %v", body)
	}
	if sched.Armed() != 1 {
		t.Fatalf("expected 1 armed timer, got %d", sched.Armed())
	}

	resp, body = doRequest(t, http.MethodPost, ts.URL+"/api/v1/reservations", "guest-2", booking)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("overlap: expected 409, got %d", resp.StatusCode)
	}
	if conflicts, _ := body["conflicts"].([]any); len(conflicts) != 1 {
		t.Fatalf("overlap: expected 1 conflict, got %v", body["conflicts"])
	}

	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/api/v1/reservations/"+id, "guest-2", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign read: expected 403, got %d", resp.StatusCode)
	}

	sessions["cs_1"] = models.PaymentSession{ID: "cs_1", ReservationID: id, Succeeded: true}
	for i := 0; i < 2; i++ {
		resp, body = doRequest(t, http.MethodPost, ts.URL+"/api/v1/payments/callback", "", `{"session_id":"cs_1"}`)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("callback %d: expected 202, got %d", i, resp.StatusCode)
		}
	}
	if body["id"] != id || body["state"] != "confirmed" {
		t.Fatalf("duplicate callback should return the reservation, got %v", body)
	}

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/api/v1/reservations/"+id, "guest-1", "")
	if resp.StatusCode != http.StatusOK || body["state"] != "confirmed" || body["paymentState"] != "paid" {
		t.Fatalf("after payment: status %d body %v", resp.StatusCode, body)
	}

	resp, body = doRequest(t, http.MethodPost, ts.URL+"/api/v1/admin/sweep", "", "")
	if resp.StatusCode != http.StatusOK || body["transitioned"] != float64(0) {
		t.Fatalf("sweep: status %d body %v", resp.StatusCode, body)
	}

	resp, body = doRequest(t, http.MethodPost, ts.URL+"/api/v1/reservations/"+id+"/cancel", "guest-1", "")
	if resp.StatusCode != http.StatusOK || body["state"] != "cancelled" || body["paymentState"] != "refunded" {
		t.Fatalf("cancel: status %d body %v", resp.StatusCode, body)
	}
	if sched.Armed() != 0 {
		t.Fatalf("expected timer disarmed after cancel, got %d", sched.Armed())
	}

	resp, body = doRequest(t, http.MethodGet,
		fmt.Sprintf("%s/api/v1/listings/loft/availability?start=%s&end=%s", ts.URL, start, end), "", "")
	if resp.StatusCode != http.StatusOK || body["available"] != true {
		t.Fatalf("availability after cancel: status %d body %v", resp.StatusCode, body)
	}
}
