package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// subscriptionRequest is the body of POST /subscriptions.
type subscriptionRequest struct {
	ParkingSpaceID string `json:"parkingSpaceId"`
}

// subscriptionStatus is the body of GET /subscriptions/{id}/status.
type subscriptionStatus struct {
	IsSubscribed bool `json:"isSubscribed"`
}

// handleListSubscriptions returns the caller's durable subscriptions.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	subs, err := s.subs.ListByUser(r.Context(), identity.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, subs)
}

// handleCreateSubscription stores a durable subscription and joins every
// live session of the caller to the space's topic.
func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	spaceID := strings.TrimSpace(req.ParkingSpaceID)
	if spaceID == "" {
		writeFailure(w, result.CodeValidation, "parkingSpaceId is required")
		return
	}

	identity, _ := identityFrom(r.Context())
	sub, err := s.subs.Create(r.Context(), identity.UserID, spaceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if n := s.realtime.SubscribeUser(identity.UserID, spaceID); n > 0 {
		s.logger.Debug("joined live sessions to topic", "user_id", identity.UserID, "topic", spaceID, "sessions", n)
	}
	writeOKMessage(w, http.StatusCreated, sub, "Subscribed to parking space successfully")
}

// handleDeleteSubscription removes a durable subscription and leaves the
// topic on every live session of the caller.
func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	spaceID := chi.URLParam(r, "parkingSpaceId")

	if err := s.subs.Delete(r.Context(), identity.UserID, spaceID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.realtime.UnsubscribeUser(identity.UserID, spaceID)
	writeOKMessage[any](w, http.StatusOK, nil, "Unsubscribed from parking space successfully")
}

// handleSubscriptionStatus reports whether the caller is subscribed to a space.
func (s *Server) handleSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	ok, err := s.subs.Exists(r.Context(), identity.UserID, chi.URLParam(r, "parkingSpaceId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, subscriptionStatus{IsSubscribed: ok})
}
