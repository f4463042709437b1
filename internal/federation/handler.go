package federation

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uuru/uuru/internal/api/respond"
)

var ok = map[string]string{"status": "OK"}

// PartnerRoutes mounts the endpoints partner instances call. They carry no
// user session; every state change is authorized by the peering secret.
func (s *Service) PartnerRoutes(r chi.Router) {
	r.Post("/incoming/request", s.handleCreateIncoming)
	r.Delete("/incoming/request/{id}", s.handleRevokeIncoming)
	r.Put("/outgoing/request/{id}", s.handleOutgoingStatus)
	r.Post("/peer/teardown", s.handleTeardown)
}

func (s *Service) handleCreateIncoming(w http.ResponseWriter, r *http.Request) {
	var req IncomingRequest
	if msg := respond.Decode(r, &req); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.CreateIncomingRequest(r.Context(), req); err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ok)
}

func (s *Service) handleRevokeIncoming(w http.ResponseWriter, r *http.Request) {
	err := s.RevokeIncomingRequest(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("secret"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ok)
}

func (s *Service) handleOutgoingStatus(w http.ResponseWriter, r *http.Request) {
	var status OutgoingStatus
	if msg := respond.Decode(r, &status); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.SetOutgoingStatus(r.Context(), chi.URLParam(r, "id"), status); err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ok)
}

func (s *Service) handleTeardown(w http.ResponseWriter, r *http.Request) {
	var req TeardownRequest
	if msg := respond.Decode(r, &req); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.RequestPeerTeardown(r.Context(), req.Name, req.Secret); err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ok)
}
