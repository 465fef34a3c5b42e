package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/bidding"
	"github.com/mcdev12/livebid/go/internal/auction/events"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/rs/zerolog/log"
)

// PlaceBidRequest is the body of POST /api/items/{id}/bids.
type PlaceBidRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Bidder    string `json:"bidder"`
	Amount    *int64 `json:"amount,omitempty"`
}

// HandleListItems handles GET /api/items
func (s *Service) HandleListItems(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	items := s.items.List()
	states := make([]events.ItemState, 0, len(items))
	for _, item := range items {
		states = append(states, events.NewItemState(item, now))
	}
	writeJSON(w, http.StatusOK, states)
}

// HandleGetItemState handles GET /api/items/{id}/state
func (s *Service) HandleGetItemState(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathItemID(w, r)
	if !ok {
		return
	}

	item, err := s.items.Get(itemID)
	if err != nil {
		if errors.Is(err, bidding.ErrNotFound) {
			http.Error(w, "Item not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("item_id", itemID.String()).Msg("failed to get item state")
		http.Error(w, "Failed to get item state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events.NewItemState(item, s.clock.Now()))
}

// HandlePlaceBid handles POST /api/items/{id}/bids. The response is the same
// ack a socket client would receive.
func (s *Service) HandlePlaceBid(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathItemID(w, r)
	if !ok {
		return
	}

	var body PlaceBidRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ack := s.placeBid(r.Context(), models.BidRequest{
		RequestID:      body.RequestID,
		ItemID:         itemID,
		Bidder:         body.Bidder,
		ProposedAmount: body.Amount,
	})
	writeJSON(w, ackStatus(ack), ack)
}

// HandleDeleteItem handles DELETE /api/items/{id}
func (s *Service) HandleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if s.remover == nil {
		http.Error(w, "Item removal not supported", http.StatusMethodNotAllowed)
		return
	}
	itemID, ok := pathItemID(w, r)
	if !ok {
		return
	}

	if err := s.remover.RemoveItem(r.Context(), itemID); err != nil {
		if errors.Is(err, bidding.ErrNotFound) {
			http.Error(w, "Item not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("item_id", itemID.String()).Msg("failed to remove item")
		http.Error(w, "Failed to remove item", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleConnectionStats handles GET /ws/stats
func (s *Service) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

func ackStatus(ack events.AckPayload) int {
	if ack.Accepted {
		return http.StatusOK
	}
	switch ack.Reason {
	case bidding.ReasonNotFound:
		return http.StatusNotFound
	case bidding.ReasonUpcoming, bidding.ReasonEnded, bidding.ReasonSelfOutbid:
		return http.StatusConflict
	case bidding.ReasonInvalidBidder:
		return http.StatusBadRequest
	case ReasonReadOnly:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func pathItemID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	if raw == "" {
		http.Error(w, "Item ID is required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "Invalid item ID format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
