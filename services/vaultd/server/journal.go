package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"mvault/services/vaultd/app"
	"mvault/services/vaultd/storage"
)

func (s *Server) mountJournal(r chi.Router) {
	r.Get("/events", s.handleListEvents)
	r.Get("/events/verify", s.handleVerifyEvents)
}

// handleListEvents pages through the journal. The vault filter accepts a
// configured vault name or a hex address.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.EventFilter{
		Type:   strings.TrimSpace(query.Get("type")),
		Prefix: strings.TrimSpace(query.Get("prefix")),
		Limit:  queryInt(r, "limit", 100),
	}
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		filter.AfterID = after
	}
	if raw := strings.TrimSpace(query.Get("vault")); raw != "" {
		filter.Vault = s.vaultFilter(raw)
	}
	entries, err := s.journal.ListEvents(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	var next int64
	if len(entries) > 0 {
		next = entries[len(entries)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": entries,
		"next":   next,
	})
}

func (s *Server) vaultFilter(raw string) string {
	_, isDeposit := s.rt.Deposits[raw]
	_, isRedemption := s.rt.Redemptions[raw]
	if isDeposit || isRedemption {
		return app.VaultAddress(raw).Hex()
	}
	return raw
}

func (s *Server) handleVerifyEvents(w http.ResponseWriter, r *http.Request) {
	count, err := s.journal.VerifyChain(r.Context())
	if errors.Is(err, storage.ErrChainBroken) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"verified": count,
			"error":    err.Error(),
		})
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"verified": count})
}
