package flavors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dialplan"
	"github.com/uuru/uuru/internal/flavor"
)

const callgroupType = "Callgroup"

// Callgroup rings several extensions at once. It has no SIP account of its
// own.
type Callgroup struct {
	deps Deps
}

// NewCallgroup returns the Callgroup flavor.
func NewCallgroup(d Deps) *Callgroup { return &Callgroup{deps: d} }

func (c *Callgroup) Metadata() flavor.Metadata {
	n := c.deps.Config.ExtensionDigits
	return flavor.Metadata{
		Name:               "Callgroup",
		PhoneTypes:         []string{callgroupType},
		DisplayIndex:       -1,
		PreventSIPCreation: true,
		Media:              []flavor.MediaSlot{mohSlot},
		ExtraFields: flavor.Schema{{
			Name:        "participants",
			Title:       "Participants",
			Description: "comma separated extensions",
			Required:    true,
			Pattern:     fmt.Sprintf(`^\d{%d}(\s*,\s*\d{%d})*$`, n, n),
		}},
	}
}

// Participants splits the participants field of a callgroup extension.
func Participants(ext *models.Extension) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(ext.ExtraField("participants"), ",") {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func (c *Callgroup) OnExtensionCreate(ctx context.Context, tx *flavor.Tx, user *models.User, ext *models.Extension) error {
	return c.write(ctx, tx, user, ext)
}

func (c *Callgroup) OnExtensionUpdate(ctx context.Context, tx *flavor.Tx, user *models.User, ext *models.Extension) error {
	return c.write(ctx, tx, user, ext)
}

func (c *Callgroup) OnExtensionDelete(ctx context.Context, tx *flavor.Tx, _ *models.User, ext *models.Extension) error {
	if err := c.deps.PBX.DeleteMusicOnHold(ctx, tx.PBX, ext.Extension); err != nil {
		return err
	}
	return c.deps.PBX.DeleteDialplan(ctx, tx.PBX, ext.Extension, dialplan.DefaultContext)
}

func (c *Callgroup) write(ctx context.Context, tx *flavor.Tx, user *models.User, ext *models.Extension) error {
	devices, err := c.devices(ctx, tx, user, ext)
	if err != nil {
		return err
	}
	opts, err := syncMOH(ctx, c.deps.PBX, tx, ext.Extension)
	if err != nil {
		return err
	}
	if err := writeDial(ctx, c.deps.PBX, tx, ext.Extension, devices, opts); err != nil {
		return err
	}
	slog.Info("callgroup: wrote dialplan", "extension", ext.Extension, "participants", len(devices))
	return nil
}

// devices checks the participant list and returns one dial target per
// participant.
func (c *Callgroup) devices(ctx context.Context, tx *flavor.Tx, user *models.User, ext *models.Extension) ([]string, error) {
	if ext.Type != callgroupType {
		return nil, apperr.NotAllowed("You cannot create a callgroup for this type of extension!")
	}
	participants := Participants(ext)
	if len(participants) == 0 {
		return nil, apperr.NotAllowed("No participants found!")
	}

	found, err := database.NewExtensionRepository(tx.Primary).GetMany(ctx, participants)
	if err != nil {
		return nil, err
	}
	if len(found) != len(participants) {
		return nil, apperr.NotAllowed("Unknown participants in list!")
	}
	if !user.IsAdmin() {
		for i := range found {
			if !found[i].OwnedBy(user) {
				return nil, apperr.NotAllowed("You may only create callgroups with extension you've created!")
			}
		}
	}

	devices := make([]string, len(participants))
	for i, p := range participants {
		devices[i] = dialplan.DialContacts(p)
	}
	return devices, nil
}
