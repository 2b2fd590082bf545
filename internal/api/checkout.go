package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/checkout"
	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/pkg/validate"
)

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.Catalog.Prices(r.Context())
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, prices)
}

type shippingQuoteRequest struct {
	Address  models.ShippingAddress `json:"address"`
	Quantity int                    `json:"quantity" validate:"min=0,max=100"`
	BookType models.ProductType     `json:"book_type" validate:"required,oneof=softcover hardcover"`
}

func (s *Server) handleShippingQuote(w http.ResponseWriter, r *http.Request) {
	var req shippingQuoteRequest
	if err := validate.DecodeJSONBody(r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	options, err := s.Shipping.Quote(r.Context(), req.Address, req.Quantity, req.BookType)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, options)
}

func (s *Server) handleBookCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.BookCheckoutRequest
	if err := validate.DecodeJSONBody(r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	user := currentUser(r)
	req.UserID = user.ID
	if req.UserEmail == "" {
		req.UserEmail = user.Email
	}
	res, err := s.Payments.CreateBookCheckout(r.Context(), req)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

type startWizardRequest struct {
	CreationID  uuid.UUID          `json:"creation_id" validate:"required"`
	ProductType models.ProductType `json:"product_type" validate:"required,oneof=ebook softcover hardcover"`
}

func (s *Server) handleStartWizard(w http.ResponseWriter, r *http.Request) {
	var req startWizardRequest
	if err := validate.DecodeJSONBody(r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	user := currentUser(r)
	if err := s.Creations.EnsureAccessible(r.Context(), user.ID, req.CreationID); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	wiz, err := s.Wizards.Start(r.Context(), checkout.StartInput{
		UserID:      user.ID,
		UserEmail:   user.Email,
		CreationID:  req.CreationID,
		ProductType: req.ProductType,
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusCreated, wiz)
}

func (s *Server) handleGetWizard(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	wiz, err := s.Wizards.Get(currentUser(r).ID, id)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, wiz)
}

func (s *Server) handleWizardEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	var in checkout.Input
	if err := validate.DecodeJSONBody(r, &in); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	wiz, err := s.Wizards.Handle(r.Context(), currentUser(r).ID, id, in)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, wiz)
}
