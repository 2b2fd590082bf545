package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/storybook/internal/service"
	"github.com/digkill/storybook/pkg/validate"
)

type saveCreationRequest struct {
	Title            string   `json:"title" validate:"required,max=200"`
	ArtistName       string   `json:"artist_name" validate:"max=100"`
	ArtistAge        int      `json:"artist_age" validate:"min=0,max=120"`
	OriginalImageKey string   `json:"original_image_key" validate:"max=512"`
	VideoKey         string   `json:"video_key" validate:"max=512"`
	PageImageKeys    []string `json:"page_image_keys" validate:"max=64,dive,max=512"`
}

func (s *Server) handleListCreations(w http.ResponseWriter, r *http.Request) {
	creations, err := s.Creations.ListAccessible(r.Context(), currentUser(r).ID)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, creations)
}

func (s *Server) handleSaveCreation(w http.ResponseWriter, r *http.Request) {
	var req saveCreationRequest
	if err := validate.DecodeJSONBody(r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	res, err := s.Creations.Save(r.Context(), currentUser(r).ID, service.SaveCreationInput{
		Title:            req.Title,
		ArtistName:       req.ArtistName,
		ArtistAge:        req.ArtistAge,
		OriginalImageKey: req.OriginalImageKey,
		VideoKey:         req.VideoKey,
		PageImageKeys:    req.PageImageKeys,
	})
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func (s *Server) handleGetCreation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	detail, err := s.Creations.Get(r.Context(), currentUser(r).ID, id)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteCreation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	if err := s.Creations.Delete(r.Context(), currentUser(r).ID, id); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
