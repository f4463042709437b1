package flavors

import (
	"context"

	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dialplan"
	"github.com/uuru/uuru/internal/flavor"
)

// Conference turns an extension into a conference bridge room.
type Conference struct {
	deps Deps
}

// NewConference returns the Conference flavor.
func NewConference(d Deps) *Conference { return &Conference{deps: d} }

func (c *Conference) Metadata() flavor.Metadata {
	return flavor.Metadata{
		Name:               "Conference",
		PhoneTypes:         []string{"Conference"},
		IsSpecial:          true,
		PreventSIPCreation: true,
	}
}

func (c *Conference) OnExtensionCreate(ctx context.Context, tx *flavor.Tx, _ *models.User, ext *models.Extension) error {
	plan := dialplan.New(ext.Extension, dialplan.DefaultContext)
	for prio, app := range []dialplan.Application{
		dialplan.Answer{},
		dialplan.ConfBridge{Conference: ext.Extension},
		dialplan.Hangup{},
	} {
		if err := plan.AddAt(prio+1, app); err != nil {
			return err
		}
	}
	return c.deps.PBX.StoreDialplan(ctx, tx.PBX, plan)
}

func (c *Conference) OnExtensionDelete(ctx context.Context, tx *flavor.Tx, _ *models.User, ext *models.Extension) error {
	return c.deps.PBX.DeleteDialplan(ctx, tx.PBX, ext.Extension, dialplan.DefaultContext)
}
