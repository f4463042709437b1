package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uuru/uuru/internal/api/middleware"
	"github.com/uuru/uuru/internal/api/respond"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/federation"
)

// Secrets never leave the instance through the admin API.

type outgoingResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	PartnerUURUHost string    `json:"partner_uuru_host"`
	Prefix          string    `json:"prefix"`
	Codec           string    `json:"codec"`
	CreatedAt       time.Time `json:"created_at"`
}

type incomingResponse struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	PartnerUURUHost        string    `json:"partner_uuru_host"`
	PartnerIAXHost         string    `json:"partner_iax_host"`
	PartnerExtensionLength int       `json:"partner_extension_length"`
	Codec                  string    `json:"codec"`
	CreatedAt              time.Time `json:"created_at"`
}

type peerResponse struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	Prefix                 string    `json:"prefix"`
	PartnerExtensionLength int       `json:"partner_extension_length"`
	Codec                  string    `json:"codec"`
	PartnerIAXHost         string    `json:"partner_iax_host"`
	PartnerUURUHost        string    `json:"partner_uuru_host"`
	CreatedAt              time.Time `json:"created_at"`
}

func toOutgoingResponse(o *models.OutgoingPeeringRequest) outgoingResponse {
	return outgoingResponse{
		ID:              o.ID,
		Name:            o.Name,
		PartnerUURUHost: o.PartnerUURUHost,
		Prefix:          o.Prefix,
		Codec:           o.Codec,
		CreatedAt:       o.CreatedAt,
	}
}

func toPeerResponse(p *models.Peer) peerResponse {
	return peerResponse{
		ID:                     p.ID,
		Name:                   p.Name,
		Prefix:                 p.Prefix,
		PartnerExtensionLength: p.PartnerExtensionLength,
		Codec:                  p.Codec,
		PartnerIAXHost:         p.PartnerIAXHost,
		PartnerUURUHost:        p.PartnerUURUHost,
		CreatedAt:              p.CreatedAt,
	}
}

// answerRequest accepts or declines an incoming peering request.
type answerRequest struct {
	Accept bool   `json:"accept"`
	Prefix string `json:"prefix"`
}

// localOnly reads ?local_only=true, which skips notifying the partner.
func localOnly(r *http.Request) bool {
	return r.URL.Query().Get("local_only") == "true"
}

func (s *Server) handleCreateOutgoing(w http.ResponseWriter, r *http.Request) {
	var in federation.OutgoingInput
	if msg := respond.Decode(r, &in); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	req, err := s.Federation.CreateOutgoingRequest(r.Context(), middleware.UserFromContext(r.Context()), in)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, toOutgoingResponse(req))
}

func (s *Server) handleListOutgoing(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Federation.ListOutgoingRequests(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	out := make([]outgoingResponse, len(reqs))
	for i := range reqs {
		out[i] = toOutgoingResponse(&reqs[i])
	}
	respond.JSON(w, http.StatusOK, out)
}

func (s *Server) handleRevokeOutgoing(w http.ResponseWriter, r *http.Request) {
	err := s.Federation.RevokeOutgoingRequest(r.Context(), middleware.UserFromContext(r.Context()),
		chi.URLParam(r, "id"), localOnly(r))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleListIncoming(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.Federation.ListIncomingRequests(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	out := make([]incomingResponse, len(reqs))
	for i, q := range reqs {
		out[i] = incomingResponse{
			ID:                     q.ID,
			Name:                   q.Name,
			PartnerUURUHost:        q.PartnerUURUHost,
			PartnerIAXHost:         q.PartnerIAXHost,
			PartnerExtensionLength: q.PartnerExtensionLength,
			Codec:                  q.Codec,
			CreatedAt:              q.CreatedAt,
		}
	}
	respond.JSON(w, http.StatusOK, out)
}

func (s *Server) handleAnswerIncoming(w http.ResponseWriter, r *http.Request) {
	var in answerRequest
	if msg := respond.Decode(r, &in); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	actor := middleware.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if !in.Accept {
		if err := s.Federation.DeclineIncomingRequest(r.Context(), actor, id, localOnly(r)); err != nil {
			respond.Err(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "declined"})
		return
	}
	peer, err := s.Federation.AcceptIncomingRequest(r.Context(), actor, id, in.Prefix)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, toPeerResponse(peer))
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.Federation.ListPeers(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	out := make([]peerResponse, len(peers))
	for i := range peers {
		out[i] = toPeerResponse(&peers[i])
	}
	respond.JSON(w, http.StatusOK, out)
}

func (s *Server) handleTeardownPeer(w http.ResponseWriter, r *http.Request) {
	err := s.Federation.TeardownPeer(r.Context(), middleware.UserFromContext(r.Context()),
		chi.URLParam(r, "id"), localOnly(r))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
