package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/storybook/internal/service"
	"github.com/digkill/storybook/pkg/validate"
)

type packRequest struct {
	Name       string `json:"name" validate:"required"`
	Title      string `json:"title" validate:"required"`
	Credits    int    `json:"credits" validate:"min=1"`
	PriceCents int    `json:"price_cents" validate:"min=1"`
	Currency   string `json:"currency" validate:"omitempty,len=3"`
	IsActive   *bool  `json:"is_active"`
}

type packUpdateRequest struct {
	Title      *string `json:"title"`
	Credits    *int    `json:"credits" validate:"omitempty,min=1"`
	PriceCents *int    `json:"price_cents" validate:"omitempty,min=1"`
	Currency   *string `json:"currency" validate:"omitempty,len=3"`
	IsActive   *bool   `json:"is_active"`
}

func (s *Server) handleAdminListPacks(w http.ResponseWriter, r *http.Request) {
	packs, err := s.Catalog.Packs(r.Context(), false)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, packs)
}

func (s *Server) handleAdminCreatePack(w http.ResponseWriter, r *http.Request) {
	var req packRequest
	if err := validate.DecodeJSONBody(r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	pack, err := s.Catalog.CreatePack(r.Context(), service.CreatePackInput{
		Name:       req.Name,
		Title:      req.Title,
		Credits:    req.Credits,
		PriceCents: req.PriceCents,
		Currency:   req.Currency,
		IsActive:   req.IsActive,
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusCreated, pack)
}

func (s *Server) handleAdminUpdatePack(w http.ResponseWriter, r *http.Request) {
	var req packUpdateRequest
	if err := validate.DecodeJSONBody(r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	pack, err := s.Catalog.UpdatePack(r.Context(), chi.URLParam(r, "name"), service.UpdatePackInput{
		Title:      req.Title,
		Credits:    req.Credits,
		PriceCents: req.PriceCents,
		Currency:   req.Currency,
		IsActive:   req.IsActive,
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, pack)
}

func (s *Server) handleAdminDeletePack(w http.ResponseWriter, r *http.Request) {
	if err := s.Catalog.DeletePack(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
