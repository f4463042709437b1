package database

import (
	"context"

	"github.com/uuru/uuru/internal/database/models"
)

// UserRepository manages user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

// ExtensionRepository manages user extensions.
type ExtensionRepository interface {
	Create(ctx context.Context, ext *models.Extension) error
	Get(ctx context.Context, ext string) (*models.Extension, error)
	GetByToken(ctx context.Context, token string) (*models.Extension, error)
	GetByExtraField(ctx context.Context, key, value string) (*models.Extension, error)
	GetMany(ctx context.Context, exts []string) ([]models.Extension, error)
	List(ctx context.Context) ([]models.Extension, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Extension, error)
	ListByTypes(ctx context.Context, types []string) ([]models.Extension, error)
	Search(ctx context.Context, query string, publicOnly bool) ([]models.Extension, error)
	CountByType(ctx context.Context) (map[string]int64, error)
	Update(ctx context.Context, ext *models.Extension) error
	Delete(ctx context.Context, ext string) error
}

// MediaRepository manages media assigned to extension slots.
type MediaRepository interface {
	Put(ctx context.Context, m *models.ExtensionMedia) error
	Get(ctx context.Context, ext, key string) (*models.ExtensionMedia, error)
	Assigned(ctx context.Context, ext, key string) (bool, error)
	Delete(ctx context.Context, ext, key string) error
}

// TemporaryExtensionRepository manages placeholder DECT extensions.
type TemporaryExtensionRepository interface {
	Create(ctx context.Context, t *models.TemporaryExtension) error
	Get(ctx context.Context, ext string) (*models.TemporaryExtension, error)
	GetByPPN(ctx context.Context, ppn int) (*models.TemporaryExtension, error)
	List(ctx context.Context) ([]models.TemporaryExtension, error)
	Delete(ctx context.Context, ext string) error
}

// PeerRepository manages established federation peers.
type PeerRepository interface {
	Create(ctx context.Context, p *models.Peer) error
	Get(ctx context.Context, id string) (*models.Peer, error)
	GetByName(ctx context.Context, name string) (*models.Peer, error)
	List(ctx context.Context) ([]models.Peer, error)
	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id string) error
	ExistsNameOrHost(ctx context.Context, name, host string) (bool, error)
	ExistsPrefix(ctx context.Context, prefix string) (bool, error)
}

// OutgoingRequestRepository manages peering requests sent to partners.
type OutgoingRequestRepository interface {
	Create(ctx context.Context, r *models.OutgoingPeeringRequest) error
	Get(ctx context.Context, id string) (*models.OutgoingPeeringRequest, error)
	List(ctx context.Context) ([]models.OutgoingPeeringRequest, error)
	Delete(ctx context.Context, id string) error
	ExistsNameOrHost(ctx context.Context, name, host string) (bool, error)
	ExistsPrefix(ctx context.Context, prefix string) (bool, error)
}

// IncomingRequestRepository manages peering requests received from partners.
type IncomingRequestRepository interface {
	Create(ctx context.Context, r *models.IncomingPeeringRequest) error
	Get(ctx context.Context, id string) (*models.IncomingPeeringRequest, error)
	List(ctx context.Context) ([]models.IncomingPeeringRequest, error)
	Delete(ctx context.Context, id string) error
	ExistsNameOrHost(ctx context.Context, name, host string) (bool, error)
}
