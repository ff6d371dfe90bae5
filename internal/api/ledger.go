package api

import (
	"encoding/json"
	"net/http"

	"github.com/MikeSquared-Agency/arbiter/internal/ledger"
)

// bookingLedger handles GET /api/v1/bookings/{id}/ledger
func (s *Server) bookingLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}

	entries, err := s.ledger.History(r.Context(), id)
	if err != nil {
		writeSettleError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// bookingLedgerRecord handles GET /api/v1/bookings/{id}/ledger/record?key=
// The key must be one of the booking's own records.
func (s *Server) bookingLedgerRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}

	key := r.URL.Query().Get("key")
	if !ledger.BelongsTo(key, id) {
		writeError(w, http.StatusBadRequest, "key is not a record of this booking")
		return
	}

	var record json.RawMessage
	if err := s.ledger.Get(r.Context(), key, &record); err != nil {
		writeSettleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "record": record})
}
