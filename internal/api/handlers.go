package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/go-chi/chi/v5"
)

const retryAfterSeconds = "5"

type createReservationRequest struct {
	ListingID  string `json:"listingId"`
	Start      string `json:"start"`
	End        string `json:"end"`
	GuestCount int    `json:"guestCount"`
	TotalPrice int64  `json:"totalPrice"`
}

type paymentCallbackRequest struct {
	SessionID string `json:"session_id"`
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requireRequester(w, r)
	if !ok {
		return
	}

	var body createReservationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start, err := parseTime(body.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	end, err := parseTime(body.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}

	res, err := s.handlers.Reservations.CreateBooking(r.Context(), models.CreateBookingRequest{
		RequesterID: requesterID,
		ListingID:   strings.TrimSpace(body.ListingID),
		Start:       start,
		End:         end,
		GuestCount:  body.GuestCount,
		TotalPrice:  body.TotalPrice,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleListReservations(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requireRequester(w, r)
	if !ok {
		return
	}

	views, err := s.handlers.Reservations.GetForRequester(r.Context(), requesterID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": views})
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requireRequester(w, r)
	if !ok {
		return
	}

	res, err := s.handlers.Reservations.GetByID(r.Context(), chi.URLParam(r, "id"), requesterID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := s.requireRequester(w, r)
	if !ok {
		return
	}

	res, err := s.handlers.Reservations.CancelReservation(r.Context(), chi.URLParam(r, "id"), requesterID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		writeError(w, http.StatusBadRequest, "start and end are required")
		return
	}
	start, err := parseTime(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}

	availability, err := s.handlers.Reservations.CheckAvailability(r.Context(), chi.URLParam(r, "listingID"), start, end)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

func (s *HTTPServer) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	if s.handlers.Payments == nil {
		writeError(w, http.StatusNotImplemented, "payment reconciliation is disabled")
		return
	}

	var body paymentCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.handlers.Payments.HandleSession(r.Context(), body.SessionID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusAccepted, map[string]bool{"ignored": true})
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *HTTPServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.handlers.Sweeper == nil {
		writeError(w, http.StatusNotImplemented, "sweeper is not configured")
		return
	}

	n, err := s.handlers.Sweeper.Sweep(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"transitioned": n})
}

func (s *HTTPServer) requireRequester(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := s.auth.requester(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing requester")
		return "", false
	}
	return id, true
}

// writeServiceError maps domain errors to HTTP statuses. Unknown errors are
// logged and answered with a generic 500.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var unavailable *domain.UnavailableError
	switch {
	case errors.As(err, &unavailable):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     unavailable.Error(),
			"conflicts": unavailable.Conflicts,
		})
	case errors.Is(err, domain.ErrInvalidRange), errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrLockNotAcquired):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry later")
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseTime accepts RFC 3339 timestamps or bare dates (UTC midnight).
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD")
	}
	return t, nil
}
