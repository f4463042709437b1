package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uuru/uuru/internal/api/middleware"
	"github.com/uuru/uuru/internal/api/respond"
)

// handleTypes lists the phone types with their policy and extra-field
// schema. Admins see every type as creatable.
func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	types := s.Registry.Describe()
	if middleware.UserFromContext(r.Context()).IsAdmin() {
		for i := range types {
			types[i].Public = true
		}
	}
	respond.JSON(w, http.StatusOK, types)
}

func (s *Server) handleCreateWebSIP(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil && !s.Config.WebSIPPublic {
		respond.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	ext, err := s.WebSIP.Create(r.Context(), user)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, ext)
}

func (s *Server) handleGetWebSIP(w http.ResponseWriter, r *http.Request) {
	ext, err := s.WebSIP.Get(chi.URLParam(r, "ext"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	ext.AuthPass = ""
	respond.JSON(w, http.StatusOK, ext)
}

func (s *Server) handleTouchWebSIP(w http.ResponseWriter, r *http.Request) {
	if err := s.WebSIP.Touch(chi.URLParam(r, "ext")); err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleDeleteWebSIP removes a browser phone. The password handed out on
// creation is passed as ?password=.
func (s *Server) handleDeleteWebSIP(w http.ResponseWriter, r *http.Request) {
	password := r.URL.Query().Get("password")
	if msg := validateRequiredStringLen("password", password, maxPasswordLen); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.WebSIP.Delete(r.Context(), chi.URLParam(r, "ext"), password); err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
