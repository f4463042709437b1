// Package federation peers two instances so their extensions can dial each
// other over an IAX2 trunk.
//
// A peering starts as an outgoing request on one side and an incoming
// request on the other. Accepting it materializes a Peer on both sides.
// Calls coming from a partner carry no user session; the shared secret
// generated with the request is their only authorization.
package federation

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/asterisk"
	"github.com/uuru/uuru/internal/credentials"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dualtx"
	"github.com/uuru/uuru/internal/flavor"
)

// Errors shared by several operations.
var (
	ErrAdminOnly      = apperr.NotAllowed("Admin only!")
	ErrUnknownRequest = apperr.NotAllowed("Unknown request!")
	ErrInvalidSecret  = apperr.NotAllowed("Invalid secret!")
	ErrPrefixInUse    = apperr.Conflict("Prefix is already used by another peering")
	ErrUnknownPeer    = apperr.NotAllowed("Unknown peer!")
)

// partner is the outbound side of the protocol.
type partner interface {
	CreateIncomingRequest(ctx context.Context, host string, req IncomingRequest) error
	RevokeIncomingRequest(ctx context.Context, host, id, secret string) error
	SetOutgoingStatus(ctx context.Context, host, id string, status OutgoingStatus) error
	RequestTeardown(ctx context.Context, host string, req TeardownRequest) error
}

// Identity is how partners reach this instance.
type Identity struct {
	UURUHost        string
	IAXHost         string
	ExtensionLength int
}

// Service runs the peering state machine.
type Service struct {
	db      *database.DB
	pbx     *asterisk.Store
	partner partner
	self    Identity
}

// NewService creates a federation service talking to partners through
// client.
func NewService(db *database.DB, pbx *asterisk.Store, client *Client, self Identity) *Service {
	return &Service{db: db, pbx: pbx, partner: client, self: self}
}

// OutgoingInput describes a new peering request.
type OutgoingInput struct {
	Name            string `json:"name"`
	PartnerUURUHost string `json:"partner_uuru_host"`
	Prefix          string `json:"prefix"`
	Codec           string `json:"codec"`
}

func requireAdmin(actor *models.User) error {
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}
	return nil
}

func secretMatches(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func checkPrefix(prefix string) error {
	if prefix == "" || strings.Trim(prefix, "0123456789") != "" {
		return apperr.Invalid("prefix must be a non-empty string of digits")
	}
	return nil
}

// prefixTaken returns ErrPrefixInUse when a peer or pending outgoing
// request already routes prefix.
func prefixTaken(ctx context.Context, q database.Querier, prefix string) error {
	used, err := database.NewPeerRepository(q).ExistsPrefix(ctx, prefix)
	if err == nil && !used {
		used, err = database.NewOutgoingRequestRepository(q).ExistsPrefix(ctx, prefix)
	}
	if err != nil {
		return err
	}
	if used {
		return ErrPrefixInUse
	}
	return nil
}

// taken reports whether a peer or pending request already uses name or
// host.
func (s *Service) taken(ctx context.Context, name, host string) (peer, pending bool, err error) {
	if peer, err = database.NewPeerRepository(s.db).ExistsNameOrHost(ctx, name, host); err != nil || peer {
		return peer, false, err
	}
	if pending, err = database.NewOutgoingRequestRepository(s.db).ExistsNameOrHost(ctx, name, host); err != nil || pending {
		return false, pending, err
	}
	pending, err = database.NewIncomingRequestRepository(s.db).ExistsNameOrHost(ctx, name, host)
	return false, pending, err
}

// CreateOutgoingRequest asks the partner for a peering. Nothing is stored
// locally unless the partner accepted the request.
func (s *Service) CreateOutgoingRequest(ctx context.Context, actor *models.User, in OutgoingInput) (*models.OutgoingPeeringRequest, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if in.Name == "" || in.PartnerUURUHost == "" {
		return nil, apperr.Invalid("name and partner_uuru_host are required")
	}
	if err := checkPrefix(in.Prefix); err != nil {
		return nil, err
	}
	if in.Codec == "" {
		in.Codec = flavor.DefaultCodec
	}
	if err := flavor.CheckCodec(in.Codec); err != nil {
		return nil, apperr.Invalid("%v", err)
	}

	peer, pending, err := s.taken(ctx, in.Name, in.PartnerUURUHost)
	if err != nil {
		return nil, err
	}
	if peer {
		return nil, apperr.NotAllowed("There is already a peer with this name or partner")
	}
	if pending {
		return nil, apperr.NotAllowed("Peering with this instance is already requested!")
	}
	if err := prefixTaken(ctx, s.db, in.Prefix); err != nil {
		return nil, err
	}

	req := &models.OutgoingPeeringRequest{
		ID:              uuid.NewString(),
		Name:            in.Name,
		PartnerUURUHost: in.PartnerUURUHost,
		Prefix:          in.Prefix,
		Secret:          credentials.PeerSecret(),
		Codec:           in.Codec,
	}
	err = s.partner.CreateIncomingRequest(ctx, req.PartnerUURUHost, IncomingRequest{
		ID:                     req.ID,
		Name:                   req.Name,
		PartnerUURUHost:        s.self.UURUHost,
		PartnerIAXHost:         s.self.IAXHost,
		PartnerExtensionLength: s.self.ExtensionLength,
		Secret:                 req.Secret,
		Codec:                  req.Codec,
	})
	if err != nil {
		slog.Error("federation: peering request failed", "partner", req.PartnerUURUHost, "error", err)
		return nil, apperr.Wrap(apperr.KindNotAllowed, err, "Failed to request peering with "+req.PartnerUURUHost)
	}

	if err := database.NewOutgoingRequestRepository(s.db).Create(ctx, req); err != nil {
		return nil, err
	}
	slog.Info("federation: requested peering", "name", req.Name, "partner", req.PartnerUURUHost)
	return req, nil
}

// RevokeOutgoingRequest withdraws a request. localOnly skips notifying the
// partner.
func (s *Service) RevokeOutgoingRequest(ctx context.Context, actor *models.User, id string, localOnly bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	repo := database.NewOutgoingRequestRepository(s.db)
	req, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if req == nil {
		return apperr.NotFound("Unknown request!")
	}
	if !localOnly {
		if err := s.partner.RevokeIncomingRequest(ctx, req.PartnerUURUHost, req.ID, req.Secret); err != nil {
			return apperr.Wrap(apperr.KindNotAllowed, err, "Failed to revoke peering request at "+req.PartnerUURUHost)
		}
	}
	if err := repo.Delete(ctx, req.ID); err != nil {
		return err
	}
	slog.Info("federation: revoked peering request", "name", req.Name, "partner", req.PartnerUURUHost)
	return nil
}

// ListOutgoingRequests returns the pending requests sent to partners.
func (s *Service) ListOutgoingRequests(ctx context.Context, actor *models.User) ([]models.OutgoingPeeringRequest, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return database.NewOutgoingRequestRepository(s.db).List(ctx)
}

// CreateIncomingRequest stores a request sent by a partner. The id is kept
// for correlation only.
func (s *Service) CreateIncomingRequest(ctx context.Context, in IncomingRequest) error {
	if _, err := uuid.Parse(in.ID); err != nil {
		return apperr.Invalid("id must be a uuid")
	}
	if in.Name == "" || in.PartnerUURUHost == "" || in.PartnerIAXHost == "" || in.Secret == "" {
		return apperr.Invalid("name, partner_uuru_host, partner_iax_host and secret are required")
	}
	if in.PartnerExtensionLength < 1 {
		return apperr.Invalid("partner_extension_length must be positive")
	}
	if err := flavor.CheckCodec(in.Codec); err != nil {
		return apperr.Invalid("%v", err)
	}

	peer, pending, err := s.taken(ctx, in.Name, in.PartnerUURUHost)
	if err != nil {
		return err
	}
	if peer || pending {
		return apperr.NotAllowed("We are already peering or the name is invalid!")
	}

	err = database.NewIncomingRequestRepository(s.db).Create(ctx, &models.IncomingPeeringRequest{
		ID:                     in.ID,
		Name:                   in.Name,
		PartnerUURUHost:        in.PartnerUURUHost,
		PartnerIAXHost:         in.PartnerIAXHost,
		PartnerExtensionLength: in.PartnerExtensionLength,
		Secret:                 in.Secret,
		Codec:                  in.Codec,
	})
	if database.IsUniqueViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "peering request already exists")
	}
	if err != nil {
		return err
	}
	slog.Info("federation: received peering request", "name", in.Name, "partner", in.PartnerUURUHost)
	return nil
}

// RevokeIncomingRequest is called by the requester to withdraw its request.
func (s *Service) RevokeIncomingRequest(ctx context.Context, id, secret string) error {
	repo := database.NewIncomingRequestRepository(s.db)
	req, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrUnknownRequest
	}
	if !secretMatches(req.Secret, secret) {
		return ErrInvalidSecret
	}
	if err := repo.Delete(ctx, req.ID); err != nil {
		return err
	}
	slog.Info("federation: partner revoked peering request", "name", req.Name, "partner", req.PartnerUURUHost)
	return nil
}

// ListIncomingRequests returns the requests waiting for a decision.
func (s *Service) ListIncomingRequests(ctx context.Context, actor *models.User) ([]models.IncomingPeeringRequest, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return database.NewIncomingRequestRepository(s.db).List(ctx)
}

func (s *Service) incoming(ctx context.Context, id string) (*models.IncomingPeeringRequest, error) {
	req, err := database.NewIncomingRequestRepository(s.db).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, apperr.NotFound("Unknown request!")
	}
	return req, nil
}

// AcceptIncomingRequest confirms the request to the partner, then creates
// the peer with its trunk and removes the request.
func (s *Service) AcceptIncomingRequest(ctx context.Context, actor *models.User, id, prefix string) (*models.Peer, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if prefix == "" {
		return nil, apperr.Invalid("prefix is required")
	}
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	req, err := s.incoming(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := prefixTaken(ctx, s.db, prefix); err != nil {
		return nil, err
	}

	length := s.self.ExtensionLength
	err = s.partner.SetOutgoingStatus(ctx, req.PartnerUURUHost, req.ID, OutgoingStatus{
		Accept:          true,
		Secret:          req.Secret,
		ExtensionLength: &length,
		PartnerIAXHost:  s.self.IAXHost,
		PartnerUURUHost: s.self.UURUHost,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotAllowed, err,
			"Failed to tell "+req.PartnerUURUHost+" that the request was accepted")
	}

	peer := &models.Peer{
		ID:                     uuid.NewString(),
		Name:                   req.Name,
		Secret:                 req.Secret,
		Prefix:                 prefix,
		PartnerExtensionLength: req.PartnerExtensionLength,
		Codec:                  req.Codec,
		PartnerIAXHost:         req.PartnerIAXHost,
		PartnerUURUHost:        req.PartnerUURUHost,
	}
	err = s.materialize(ctx, peer, func(ptx *sql.Tx) error {
		return database.NewIncomingRequestRepository(ptx).Delete(ctx, req.ID)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("federation: accepted peering", "name", peer.Name, "partner", peer.PartnerUURUHost)
	return peer, nil
}

// DeclineIncomingRequest rejects a request. localOnly skips notifying the
// partner.
func (s *Service) DeclineIncomingRequest(ctx context.Context, actor *models.User, id string, localOnly bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	req, err := s.incoming(ctx, id)
	if err != nil {
		return err
	}
	if !localOnly {
		err := s.partner.SetOutgoingStatus(ctx, req.PartnerUURUHost, req.ID, OutgoingStatus{Secret: req.Secret})
		if err != nil {
			return apperr.Wrap(apperr.KindNotAllowed, err,
				"Failed to tell "+req.PartnerUURUHost+" that the request was declined")
		}
	}
	if err := database.NewIncomingRequestRepository(s.db).Delete(ctx, req.ID); err != nil {
		return err
	}
	slog.Info("federation: declined peering", "name", req.Name, "partner", req.PartnerUURUHost)
	return nil
}

// SetOutgoingStatus handles the partner's answer to one of our requests.
func (s *Service) SetOutgoingStatus(ctx context.Context, id string, status OutgoingStatus) error {
	if status.Accept {
		_, err := s.AcceptOutgoingRequest(ctx, id, status)
		return err
	}
	return s.DeclineOutgoingRequest(ctx, id, status.Secret)
}

// outgoing returns the request id after checking the presented secret.
func (s *Service) outgoing(ctx context.Context, id, secret string) (*models.OutgoingPeeringRequest, error) {
	req, err := database.NewOutgoingRequestRepository(s.db).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrUnknownRequest
	}
	if !secretMatches(req.Secret, secret) {
		return nil, ErrInvalidSecret
	}
	return req, nil
}

// AcceptOutgoingRequest is called by the partner after it accepted our
// request. The peer is created with the partner's connection parameters.
func (s *Service) AcceptOutgoingRequest(ctx context.Context, id string, status OutgoingStatus) (*models.Peer, error) {
	if status.ExtensionLength == nil || status.PartnerIAXHost == "" || status.PartnerUURUHost == "" {
		return nil, apperr.Invalid("Missing required fields")
	}
	req, err := s.outgoing(ctx, id, status.Secret)
	if err != nil {
		return nil, err
	}

	peer := &models.Peer{
		ID:                     uuid.NewString(),
		Name:                   req.Name,
		Secret:                 req.Secret,
		Prefix:                 req.Prefix,
		PartnerExtensionLength: *status.ExtensionLength,
		Codec:                  req.Codec,
		PartnerIAXHost:         status.PartnerIAXHost,
		PartnerUURUHost:        status.PartnerUURUHost,
	}
	err = s.materialize(ctx, peer, func(ptx *sql.Tx) error {
		return database.NewOutgoingRequestRepository(ptx).Delete(ctx, req.ID)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("federation: partner accepted peering", "name", peer.Name, "partner", peer.PartnerUURUHost)
	return peer, nil
}

// DeclineOutgoingRequest is called by the partner after it declined our
// request.
func (s *Service) DeclineOutgoingRequest(ctx context.Context, id, secret string) error {
	req, err := s.outgoing(ctx, id, secret)
	if err != nil {
		return err
	}
	if err := database.NewOutgoingRequestRepository(s.db).Delete(ctx, req.ID); err != nil {
		return err
	}
	slog.Info("federation: partner declined peering", "name", req.Name, "partner", req.PartnerUURUHost)
	return nil
}

// materialize stores the peer and its trunk and runs cleanup in the same
// dual transaction.
func (s *Service) materialize(ctx context.Context, peer *models.Peer, cleanup func(ptx *sql.Tx) error) error {
	return dualtx.Run(ctx, s.db, s.pbx, func(ptx, stx *sql.Tx) error {
		peers := database.NewPeerRepository(ptx)
		used, err := peers.ExistsPrefix(ctx, peer.Prefix)
		if err != nil {
			return err
		}
		if used {
			return ErrPrefixInUse
		}
		if err := peers.Create(ctx, peer); err != nil {
			if database.IsUniqueViolation(err) {
				return apperr.Wrap(apperr.KindConflict, err, "peer already exists")
			}
			return err
		}
		if err := s.pbx.CreateIAXPeer(ctx, stx, peer); err != nil {
			return err
		}
		return cleanup(ptx)
	})
}

// ListPeers returns all established peerings.
func (s *Service) ListPeers(ctx context.Context, actor *models.User) ([]models.Peer, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return database.NewPeerRepository(s.db).List(ctx)
}

// TeardownPeer ends a peering. Unless localOnly is set the partner is asked
// to remove its side first.
func (s *Service) TeardownPeer(ctx context.Context, actor *models.User, id string, localOnly bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	peer, err := database.NewPeerRepository(s.db).Get(ctx, id)
	if err != nil {
		return err
	}
	if peer == nil {
		return apperr.NotFound("Unknown peer!")
	}
	if !localOnly {
		err := s.partner.RequestTeardown(ctx, peer.PartnerUURUHost, TeardownRequest{Name: peer.Name, Secret: peer.Secret})
		if err != nil {
			return apperr.Wrap(apperr.KindNotAllowed, err, "Failed to request teardown at "+peer.PartnerUURUHost)
		}
	}
	if err := s.remove(ctx, peer); err != nil {
		return err
	}
	slog.Info("federation: tore down peering", "name", peer.Name, "partner", peer.PartnerUURUHost)
	return nil
}

// RequestPeerTeardown is called by the partner to end a peering.
func (s *Service) RequestPeerTeardown(ctx context.Context, name, secret string) error {
	peer, err := database.NewPeerRepository(s.db).GetByName(ctx, name)
	if err != nil {
		return err
	}
	if peer == nil || !secretMatches(peer.Secret, secret) {
		return ErrUnknownPeer
	}
	if err := s.remove(ctx, peer); err != nil {
		return err
	}
	slog.Info("federation: partner tore down peering", "name", peer.Name, "partner", peer.PartnerUURUHost)
	return nil
}

// remove deletes the trunk and the peer row. A trunk that is already gone
// does not block removing the row.
func (s *Service) remove(ctx context.Context, peer *models.Peer) error {
	return dualtx.Run(ctx, s.db, s.pbx, func(ptx, stx *sql.Tx) error {
		err := s.pbx.DeleteIAXPeer(ctx, stx, peer)
		if errors.Is(err, asterisk.ErrUnknownIAXPeer) {
			slog.Warn("federation: iax friend already missing", "peer", peer.Name)
		} else if err != nil {
			return err
		}
		return database.NewPeerRepository(ptx).Delete(ctx, peer.ID)
	})
}
