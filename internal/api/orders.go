package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	order, err := s.Orders.Get(r.Context(), currentUser(r).ID, id)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, order)
}
