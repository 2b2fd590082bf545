package api

import (
	"net/http"
	"strconv"

	"github.com/digkill/storybook/pkg/validate"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.Credits.GetBalance(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, balance)
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	elig, err := s.Credits.CanCreate(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, elig)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.Credits.Transactions(r.Context(), currentUser(r).ID, limit)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

func (s *Server) handleListPacks(w http.ResponseWriter, r *http.Request) {
	packs, err := s.Catalog.Packs(r.Context(), true)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, packs)
}

type creditCheckoutRequest struct {
	Pack string `json:"pack" validate:"required"`
}

func (s *Server) handleCreditCheckout(w http.ResponseWriter, r *http.Request) {
	var req creditCheckoutRequest
	if err := validate.DecodeJSONBody(r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	user := currentUser(r)
	res, err := s.Payments.CreateCreditCheckout(r.Context(), user.ID, user.Email, req.Pack)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}
