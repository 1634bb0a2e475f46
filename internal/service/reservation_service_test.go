package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"staybook/internal/catalog"
	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/identity"
	"staybook/internal/models"
	"staybook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, kind string, r *models.Reservation) error {
	return m.Called(ctx, kind, r).Error(0)
}

func (m *mockNotifier) count(kind string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == "Notify" && c.Arguments.String(1) == kind {
			n++
		}
	}
	return n
}

type mockEvents struct{ mock.Mock }

func (m *mockEvents) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

type mockScheduler struct{ mock.Mock }

func (m *mockScheduler) Arm(r *models.Reservation) { m.Called(r) }
func (m *mockScheduler) Disarm(id string)          { m.Called(id) }

type testEnv struct {
	svc       *ReservationService
	db        *database.DB
	notifier  *mockNotifier
	events    *mockEvents
	scheduler *mockScheduler
	now       time.Time
}

var today = time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return today.AddDate(0, 0, n)
}

func newTestEnv(t *testing.T, notifyErr error) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "service.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	listings := catalog.NewStaticCatalog([]models.Listing{
		{ID: "loft", Title: "Loft", HostID: "host-1", MaxGuests: 4, IsActive: true},
		{ID: "cabin", Title: "Cabin", HostID: "host-2", MaxGuests: 2, IsActive: true},
		{ID: "closed", Title: "Closed", HostID: "host-1", MaxGuests: 2, IsActive: false},
	})

	env := &testEnv{
		db:        db,
		notifier:  &mockNotifier{},
		events:    &mockEvents{},
		scheduler: &mockScheduler{},
		now:       today.Add(10 * time.Hour),
	}
	env.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(notifyErr).Maybe()
	env.events.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Maybe()
	env.scheduler.On("Arm", mock.Anything).Maybe()
	env.scheduler.On("Disarm", mock.Anything).Maybe()

	env.svc = NewReservationService(Dependencies{
		Store:     db,
		Locker:    repository.NewCalendarLock(repository.NewMemoryCoordinationRepository(), 5*time.Second, 5*time.Second, &logger),
		Catalog:   listings,
		Directory: identity.NewDirectory(config.IdentityConfig{Blacklist: []string{"banned"}, Hosts: []string{"host-1"}}),
		Notifier:  env.notifier,
		Events:    env.events,
	}, 90, &logger)
	env.svc.SetScheduler(env.scheduler)
	env.svc.now = func() time.Time { return env.now }
	return env
}

func request(requester, listing string, start, end int) models.CreateBookingRequest {
	return models.CreateBookingRequest{
		RequesterID: requester,
		ListingID:   listing,
		Start:       day(start),
		End:         day(end),
		GuestCount:  2,
		TotalPrice:  30000,
	}
}

func TestCreateBooking(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	r, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 3, 6))
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, models.StatePending, r.State)
	assert.Equal(t, models.PaymentUnpaid, r.PaymentState)

	stored, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "guest-1", stored.RequesterID)

	env.scheduler.AssertCalled(t, "Arm", mock.MatchedBy(func(a *models.Reservation) bool {
		return a.ID == r.ID && a.State == models.StatePending && a.End.Equal(day(6))
	}))
	env.scheduler.AssertNumberOfCalls(t, "Arm", 1)
	assert.Equal(t, 1, env.notifier.count(models.NotifyBookingCreated))
	env.events.AssertCalled(t, "PublishJSON", models.EventReservationCreated, mock.Anything)
}

func TestCreateBooking_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.CreateBookingRequest
		want error
	}{
		{"inverted range", request("guest-1", "loft", 6, 3), domain.ErrInvalidRange},
		{"empty range", request("guest-1", "loft", 3, 3), domain.ErrInvalidRange},
		{"missing dates", models.CreateBookingRequest{RequesterID: "guest-1", ListingID: "loft", GuestCount: 1, TotalPrice: 1}, domain.ErrInvalidRange},
		{"check-in in the past", request("guest-1", "loft", -2, 1), domain.ErrInvalidRequest},
		{"beyond horizon", request("guest-1", "loft", 120, 123), domain.ErrInvalidRequest},
		{"no guests", func() models.CreateBookingRequest { r := request("guest-1", "loft", 3, 4); r.GuestCount = 0; return r }(), domain.ErrInvalidRequest},
		{"no price", func() models.CreateBookingRequest { r := request("guest-1", "loft", 3, 4); r.TotalPrice = 0; return r }(), domain.ErrInvalidRequest},
		{"too many guests", func() models.CreateBookingRequest { r := request("guest-1", "cabin", 3, 4); r.GuestCount = 3; return r }(), domain.ErrInvalidRequest},
		{"unknown listing", request("guest-1", "castle", 3, 4), domain.ErrNotFound},
		{"inactive listing", request("guest-1", "closed", 3, 4), domain.ErrNotFound},
		{"anonymous", request("", "loft", 3, 4), domain.ErrForbidden},
		{"blacklisted", request("banned", "loft", 3, 4), domain.ErrForbidden},
		{"host books", request("host-1", "loft", 3, 4), domain.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateBooking(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	all, err := env.db.FindByState(ctx, models.StatePending)
	require.NoError(t, err)
	assert.Empty(t, all)
	env.scheduler.AssertNotCalled(t, "Arm", mock.Anything)
}

func TestCreateBooking_Overlap(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 3, 6))
	require.NoError(t, err)

	_, err = env.svc.CreateBooking(ctx, request("guest-2", "loft", 4, 8))
	var unavailable *domain.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	require.Len(t, unavailable.Conflicts, 1)
	assert.Equal(t, day(3), unavailable.Conflicts[0].Start)

	// день выезда можно занять
	_, err = env.svc.CreateBooking(ctx, request("guest-2", "loft", 6, 8))
	require.NoError(t, err)

	// другой объект не конфликтует
	_, err = env.svc.CreateBooking(ctx, request("guest-3", "cabin", 3, 6))
	require.NoError(t, err)
}

func TestCreateBooking_ConcurrentRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.CreateBooking(ctx, request("guest-"+string(rune('a'+i)), "loft", 10, 12+i%3))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			others = append(others, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range others {
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	}
}

func TestConfirmPayment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	r, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 3, 6))
	require.NoError(t, err)

	confirmed, err := env.svc.ConfirmPayment(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, confirmed.State)
	assert.Equal(t, models.PaymentPaid, confirmed.PaymentState)
	require.NotNil(t, confirmed.PaidAt)
	env.scheduler.AssertCalled(t, "Arm", mock.MatchedBy(func(a *models.Reservation) bool {
		return a.ID == r.ID && a.State == models.StateConfirmed && a.End.Equal(day(6))
	}))

	t.Run("Idempotent", func(t *testing.T) {
		again, err := env.svc.ConfirmPayment(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, confirmed.Version, again.Version)
		assert.Equal(t, 1, env.notifier.count(models.NotifyPaymentConfirmed))
	})

	t.Run("UnknownReservation", func(t *testing.T) {
		_, err := env.svc.ConfirmPayment(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestConfirmPayment_AfterCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	r, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 3, 6))
	require.NoError(t, err)
	_, err = env.svc.CancelReservation(ctx, r.ID, "guest-1")
	require.NoError(t, err)

	_, err = env.svc.ConfirmPayment(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	stored, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, stored.State)
	assert.Equal(t, models.PaymentUnpaid, stored.PaymentState)
}

func TestConfirmPayment_AfterCompletion(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	r, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 1, 2))
	require.NoError(t, err)

	env.now = day(2)
	_, err = env.svc.CompleteReservation(ctx, r.ID)
	require.NoError(t, err)

	paid, err := env.svc.ConfirmPayment(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, paid.State)
	assert.Equal(t, models.PaymentPaid, paid.PaymentState)
	env.events.AssertCalled(t, "PublishJSON", models.EventReservationLatePayment, mock.Anything)

	again, err := env.svc.ConfirmPayment(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, paid.Version, again.Version)
}

func TestCompleteReservation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	r, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 1, 3))
	require.NoError(t, err)
	_, err = env.svc.ConfirmPayment(ctx, r.ID)
	require.NoError(t, err)

	_, err = env.svc.CompleteReservation(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrConflict, "stay has not ended yet")

	env.now = day(3)
	completed, err := env.svc.CompleteReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, completed.State)
	assert.Equal(t, models.PaymentPaid, completed.PaymentState)
	env.scheduler.AssertCalled(t, "Disarm", r.ID)

	_, err = env.svc.CompleteReservation(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, env.notifier.count(models.NotifyStayCompleted))
}

func TestCancelReservation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	r, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 3, 6))
	require.NoError(t, err)

	_, err = env.svc.CancelReservation(ctx, r.ID, "guest-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.svc.ConfirmPayment(ctx, r.ID)
	require.NoError(t, err)

	cancelled, err := env.svc.CancelReservation(ctx, r.ID, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, cancelled.State)
	assert.Equal(t, models.PaymentRefunded, cancelled.PaymentState)
	require.NotNil(t, cancelled.CancelledAt)
	env.scheduler.AssertCalled(t, "Disarm", r.ID)

	_, err = env.svc.CancelReservation(ctx, r.ID, "guest-1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	// ночи освобождены
	_, err = env.svc.CreateBooking(ctx, request("guest-2", "loft", 3, 6))
	require.NoError(t, err)
}

func TestCancelReservation_StartedStay(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	r, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 1, 4))
	require.NoError(t, err)

	env.now = day(2)
	_, err = env.svc.CancelReservation(ctx, r.ID, "guest-1")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestGetForRequester(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 3, 5))
	require.NoError(t, err)
	env.now = env.now.Add(time.Minute)
	second, err := env.svc.CreateBooking(ctx, request("guest-1", "cabin", 3, 5))
	require.NoError(t, err)
	_, err = env.svc.CreateBooking(ctx, request("guest-2", "loft", 7, 9))
	require.NoError(t, err)

	views, err := env.svc.GetForRequester(ctx, "guest-1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].ID, "newest first")
	assert.Equal(t, first.ID, views[1].ID)
	require.NotNil(t, views[0].Listing)
	assert.Equal(t, "Cabin", views[0].Listing.Title)

	none, err := env.svc.GetForRequester(ctx, "guest-3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetForRequester_RemovedListing(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 3, 5))
	require.NoError(t, err)

	env.svc.catalog = catalog.NewStaticCatalog(nil)
	views, err := env.svc.GetForRequester(ctx, "guest-1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Nil(t, views[0].Listing)
}

func TestGetByID(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	r, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 3, 5))
	require.NoError(t, err)

	got, err := env.svc.GetByID(ctx, r.ID, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = env.svc.GetByID(ctx, r.ID, "guest-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.svc.GetByID(ctx, "missing", "guest-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckAvailability(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 3, 6))
	require.NoError(t, err)

	busy, err := env.svc.CheckAvailability(ctx, "loft", day(5), day(7))
	require.NoError(t, err)
	assert.False(t, busy.Available)
	assert.Len(t, busy.Conflicts, 1)

	free, err := env.svc.CheckAvailability(ctx, "loft", day(6), day(7))
	require.NoError(t, err)
	assert.True(t, free.Available)

	_, err = env.svc.CheckAvailability(ctx, "loft", day(7), day(6))
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	_, err = env.svc.CheckAvailability(ctx, "castle", day(1), day(2))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	env := newTestEnv(t, errors.New("outbox down"))
	ctx := context.Background()

	r, err := env.svc.CreateBooking(ctx, request("guest-1", "loft", 3, 6))
	require.NoError(t, err)

	confirmed, err := env.svc.ConfirmPayment(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, confirmed.State)
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "unavailable", RejectionReason(&domain.UnavailableError{ListingID: "x"}))
	assert.Equal(t, "lock_timeout", RejectionReason(domain.ErrLockNotAcquired))
	assert.Equal(t, "internal", RejectionReason(errors.New("boom")))
}
