package flavors

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/uuru/uuru/internal/api/respond"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/flavor"
)

// Innovaphone provisions Innovaphone IP phones through their update
// server mechanism.
type Innovaphone struct {
	*SIP
}

// NewInnovaphone returns the Innovaphone flavor.
func NewInnovaphone(d Deps) *Innovaphone { return &Innovaphone{SIP: NewSIP(d)} }

func (i *Innovaphone) Metadata() flavor.Metadata {
	return flavor.Metadata{
		Name:        "Innovaphone",
		PhoneTypes:  []string{"Innovaphone 241", "Innovaphone 201a"},
		IsSpecial:   true,
		ExtraFields: flavor.Schema{macField},
		Media:       []flavor.MediaSlot{mohSlot},
	}
}

func (i *Innovaphone) Routes(r chi.Router) {
	r.Get("/update", i.handleUpdate)
	r.Get("/config", i.handleConfig)
}

func innovaphoneConfig(ext *models.Extension, server string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "config change PHONE0 /gk-addr %s /e164 %s /h323 %s /name %q /pwd %s /proto SIP\n",
		server, ext.Extension, ext.Extension, ext.Name, ext.Password)
	b.WriteString("config write\n")
	b.WriteString("config activate\n")
	return b.String()
}

// handleUpdate answers the phone's update poll with the command that fetches
// its configuration and resets it.
func (i *Innovaphone) handleUpdate(w http.ResponseWriter, r *http.Request) {
	mac := NormalizeMAC(r.URL.Query().Get("mac"))
	if !strings.Contains(mac, "-") {
		respond.Error(w, http.StatusBadRequest, "invalid mac")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "mod cmd UP0 cfg http://%s/api/v1/telephoning/innovaphone/config?mac=%s iresetn",
		i.deps.Config.WebHost, mac)
}

func (i *Innovaphone) handleConfig(w http.ResponseWriter, r *http.Request) {
	mac := NormalizeMAC(r.URL.Query().Get("mac"))
	ext, err := extensionByMAC(r.Context(), i.deps.DB, mac)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if ext == nil {
		respond.Error(w, http.StatusNotFound, "found no extension for that mac")
		return
	}
	slog.Info("innovaphone: sent provisioning data", "mac", mac, "extension", ext.Extension)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(innovaphoneConfig(ext, i.deps.Config.AsteriskHost)))
}
