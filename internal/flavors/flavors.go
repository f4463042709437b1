// Package flavors holds the phone integrations shipped with the service.
package flavors

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/uuru/uuru/internal/asterisk"
	"github.com/uuru/uuru/internal/config"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dialplan"
	"github.com/uuru/uuru/internal/flavor"
	"github.com/uuru/uuru/internal/omm"
)

// Deps are the collaborators the flavors share.
type Deps struct {
	Config *config.Config
	DB     *database.DB
	PBX    *asterisk.Store
	OMM    *omm.Client
}

// All returns one instance of every flavor.
func All(d Deps) []flavor.Flavor {
	return []flavor.Flavor{
		NewSIP(d),
		NewGrandstream(d),
		NewSnom(d),
		NewInnovaphone(d),
		NewIoT(d),
		NewDECT(d),
		NewCallgroup(d),
		NewConference(d),
		NewDummy(),
	}
}

// Enabled returns the flavors switched on in the configuration.
func Enabled(d Deps) []flavor.Flavor {
	var out []flavor.Flavor
	for _, f := range All(d) {
		if d.Config.FlavorEnabled(f.Metadata().Key()) {
			out = append(out, f)
		}
	}
	return out
}

var mohSlot = flavor.MediaSlot{
	Key:          asterisk.MOHSlot,
	Label:        "Ringback Tone / Music on Hold",
	ContentTypes: []string{"audio/mpeg"},
}

// syncMOH makes the music on hold class follow the media assignment and
// returns the Dial options referencing it.
func syncMOH(ctx context.Context, pbx *asterisk.Store, tx *flavor.Tx, ext string) ([]dialplan.DialOption, error) {
	assigned, err := database.NewMediaRepository(tx.Primary).Assigned(ctx, ext, asterisk.MOHSlot)
	if err != nil {
		return nil, err
	}
	exists, err := pbx.SyncMusicOnHold(ctx, tx.PBX, ext, assigned)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	class := asterisk.MOHClass(ext)
	return []dialplan.DialOption{{Code: 'm', Param: &class}}, nil
}

// writeDial replaces the dialplan of ext with a single Dial at priority 1.
func writeDial(ctx context.Context, pbx *asterisk.Store, tx *flavor.Tx, ext string, devices []string, opts []dialplan.DialOption) error {
	plan := dialplan.New(ext, dialplan.DefaultContext)
	if err := plan.AddAt(1, dialplan.Dial{Devices: devices, Options: opts}); err != nil {
		return err
	}
	return pbx.StoreDialplan(ctx, tx.PBX, plan)
}

// NormalizeMAC lowercases a MAC address and rewrites it to the dash
// separated form. Input that is not twelve hex digits is returned lowercased
// so the schema pattern rejects it.
func NormalizeMAC(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	hex := strings.NewReplacer(":", "", "-", "", ".", "").Replace(s)
	if len(hex) != 12 || strings.Trim(hex, "0123456789abcdef") != "" {
		return s
	}
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, hex[i:i+2])
	}
	return strings.Join(parts, "-")
}

var macField = flavor.Field{
	Name:        "mac",
	Title:       "MAC address",
	Description: "hardware address of the phone, e.g. 00-04-13-aa-bb-cc",
	Required:    true,
	Pattern:     `^([0-9a-f]{2}-){5}[0-9a-f]{2}$`,
	Normalize:   NormalizeMAC,
	Unique:      true,
}

// extensionByMAC resolves the provisioning target of a phone.
func extensionByMAC(ctx context.Context, db *database.DB, mac string) (*models.Extension, error) {
	ext, err := database.NewExtensionRepository(db).GetByExtraField(ctx, "mac", NormalizeMAC(mac))
	if err != nil {
		return nil, fmt.Errorf("looking up mac %s: %w", mac, err)
	}
	return ext, nil
}

func writeXML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/xml")
	w.Write(body)
}
