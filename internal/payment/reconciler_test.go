package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"staybook/internal/domain"
	"staybook/internal/models"
	"staybook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockConfirmer struct{ mock.Mock }

func (m *mockConfirmer) ConfirmPayment(ctx context.Context, id string) (*models.Reservation, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*models.Reservation)
	return r, args.Error(1)
}

type stubResolver struct {
	sessions map[string]models.PaymentSession
	err      error
	calls    int
}

func (s *stubResolver) Resolve(_ context.Context, sessionID string) (*models.PaymentSession, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return &session, nil
}

func newReconciler(confirmer Confirmer, resolver domain.SessionResolver) *Reconciler {
	logger := zerolog.Nop()
	return NewReconciler(confirmer, resolver, repository.NewMemoryCoordinationRepository(), &logger)
}

func TestHandleSession(t *testing.T) {
	ctx := context.Background()
	confirmed := &models.Reservation{ID: "r1", State: models.StateConfirmed, PaymentState: models.PaymentPaid}

	confirmer := new(mockConfirmer)
	confirmer.On("ConfirmPayment", ctx, "r1").Return(confirmed, nil).Twice()

	resolver := &stubResolver{sessions: map[string]models.PaymentSession{
		"cs_paid":    {ID: "cs_paid", ReservationID: "r1", Succeeded: true},
		"cs_failed":  {ID: "cs_failed", ReservationID: "r2", Succeeded: false},
		"cs_no_link": {ID: "cs_no_link", Succeeded: true},
	}}
	rec := newReconciler(confirmer, resolver)

	t.Run("Succeeded", func(t *testing.T) {
		res, err := rec.HandleSession(ctx, "cs_paid")
		require.NoError(t, err)
		assert.Equal(t, confirmed, res)
	})

	t.Run("DuplicateDeliveryReturnsExisting", func(t *testing.T) {
		res, err := rec.HandleSession(ctx, "cs_paid")
		require.NoError(t, err)
		assert.Equal(t, confirmed, res)
	})

	t.Run("NotSucceeded", func(t *testing.T) {
		res, err := rec.HandleSession(ctx, "cs_failed")
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("NoReservationReference", func(t *testing.T) {
		res, err := rec.HandleSession(ctx, "cs_no_link")
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("EmptySession", func(t *testing.T) {
		_, err := rec.HandleSession(ctx, "  ")
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("UnknownSession", func(t *testing.T) {
		_, err := rec.HandleSession(ctx, "cs_unknown")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	confirmer.AssertExpectations(t)
}

func TestHandleSession_TransientFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	confirmer := new(mockConfirmer)
	confirmer.On("ConfirmPayment", ctx, "r1").
		Return(&models.Reservation{ID: "r1", State: models.StateConfirmed}, nil).Once()

	resolver := &stubResolver{
		sessions: map[string]models.PaymentSession{"cs_1": {ID: "cs_1", ReservationID: "r1", Succeeded: true}},
		err:      fmt.Errorf("payments: %w", domain.ErrUpstreamUnavailable),
	}
	rec := newReconciler(confirmer, resolver)

	_, err := rec.HandleSession(ctx, "cs_1")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	resolver.err = nil
	res, err := rec.HandleSession(ctx, "cs_1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "r1", res.ID)
	confirmer.AssertExpectations(t)
}

func TestOnPaymentConfirmed(t *testing.T) {
	ctx := context.Background()
	confirmer := new(mockConfirmer)
	confirmer.On("ConfirmPayment", ctx, "cancelled").Return(nil, fmt.Errorf("x: %w", domain.ErrConflict))
	confirmer.On("ConfirmPayment", ctx, "broken").Return(nil, errors.New("disk full"))
	rec := newReconciler(confirmer, &stubResolver{})

	res, err := rec.OnPaymentConfirmed(ctx, "cancelled")
	assert.NoError(t, err)
	assert.Nil(t, res)

	_, err = rec.OnPaymentConfirmed(ctx, "broken")
	assert.EqualError(t, err, "disk full")
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()
	confirmer := new(mockConfirmer)
	confirmer.On("ConfirmPayment", ctx, "r9").Return(&models.Reservation{ID: "r9"}, nil).Once()
	resolver := &stubResolver{}
	rec := newReconciler(confirmer, resolver)

	res, err := rec.HandleEvent(ctx, models.PaymentEvent{Type: models.PaymentEventCheckoutExpired, SessionID: "cs_x"})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, resolver.calls)

	res, err = rec.HandleEvent(ctx, models.PaymentEvent{Type: models.PaymentEventCheckoutCompleted, ReservationID: "r9", Succeeded: true})
	require.NoError(t, err)
	assert.Equal(t, "r9", res.ID)

	res, err = rec.HandleEvent(ctx, models.PaymentEvent{Type: models.PaymentEventCheckoutCompleted, ReservationID: "r9"})
	require.NoError(t, err)
	assert.Nil(t, res)

	confirmer.AssertExpectations(t)
}
