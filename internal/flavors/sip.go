package flavors

import (
	"context"

	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dialplan"
	"github.com/uuru/uuru/internal/flavor"
)

// SIP is a generic SIP phone. The orchestrator creates its PJSIP account;
// the flavor routes calls to the account's contacts, with the extension's
// music on hold when one is uploaded.
type SIP struct {
	deps Deps
}

// NewSIP returns the SIP flavor.
func NewSIP(d Deps) *SIP { return &SIP{deps: d} }

func (s *SIP) Metadata() flavor.Metadata {
	return flavor.Metadata{
		Name:         "SIP",
		PhoneTypes:   []string{"SIP"},
		DisplayIndex: 1000,
		Codec:        "g722",
		Media:        []flavor.MediaSlot{mohSlot},
	}
}

func (s *SIP) OnExtensionCreate(ctx context.Context, tx *flavor.Tx, _ *models.User, ext *models.Extension) error {
	return s.route(ctx, tx, ext)
}

func (s *SIP) OnExtensionUpdate(ctx context.Context, tx *flavor.Tx, _ *models.User, ext *models.Extension) error {
	return s.route(ctx, tx, ext)
}

func (s *SIP) OnExtensionDelete(ctx context.Context, tx *flavor.Tx, _ *models.User, ext *models.Extension) error {
	if err := s.deps.PBX.DeleteMusicOnHold(ctx, tx.PBX, ext.Extension); err != nil {
		return err
	}
	return s.deps.PBX.DeleteDialplan(ctx, tx.PBX, ext.Extension, dialplan.DefaultContext)
}

func (s *SIP) route(ctx context.Context, tx *flavor.Tx, ext *models.Extension) error {
	opts, err := syncMOH(ctx, s.deps.PBX, tx, ext.Extension)
	if err != nil {
		return err
	}
	return writeDial(ctx, s.deps.PBX, tx, ext.Extension, []string{dialplan.DialContacts(ext.Extension)}, opts)
}
