package flavors

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/uuru/uuru/internal/api/respond"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/flavor"
)

// Grandstream provisions Grandstream phones over HTTP.
type Grandstream struct {
	*SIP
}

// NewGrandstream returns the Grandstream flavor.
func NewGrandstream(d Deps) *Grandstream { return &Grandstream{SIP: NewSIP(d)} }

func (g *Grandstream) Metadata() flavor.Metadata {
	return flavor.Metadata{
		Name:        "Grandstream",
		PhoneTypes:  []string{"Grandstream WP810", "Grandstream GXP2160"},
		IsSpecial:   true,
		Codec:       "g722",
		ExtraFields: flavor.Schema{macField},
		Media:       []flavor.MediaSlot{mohSlot},
	}
}

type gsParam struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type gsProvision struct {
	XMLName xml.Name `xml:"gs_provision"`
	Version string   `xml:"version,attr"`
	Config  struct {
		Version string    `xml:"version,attr"`
		Params  []gsParam `xml:",any"`
	} `xml:"config"`
}

type gsPhone struct {
	Type         string `xml:"type,attr"`
	Number       string `xml:"phonenumber"`
	AccountIndex int    `xml:"accountindex"`
}

type gsContact struct {
	LastName string  `xml:"LastName"`
	Phone    gsPhone `xml:"Phone"`
}

type gsAddressBook struct {
	XMLName  xml.Name    `xml:"AddressBook"`
	Contacts []gsContact `xml:"Contact"`
}

// grandstreamConfig renders the P-value account configuration of ext.
func grandstreamConfig(ext *models.Extension, server string) ([]byte, error) {
	var doc gsProvision
	doc.Version = "1"
	doc.Config.Version = "1"
	for _, p := range [][2]string{
		{"P271", "1"},          // account active
		{"P270", ext.Name},     // account name
		{"P47", server},        // sip server
		{"P35", ext.Extension}, // sip user id
		{"P36", ext.Extension}, // auth id
		{"P34", ext.Password},  // auth password
		{"P3", ext.Name},       // display name
		{"P1558", "0"},         // udp transport
	} {
		doc.Config.Params = append(doc.Config.Params, gsParam{XMLName: xml.Name{Local: p[0]}, Value: p[1]})
	}
	return marshalDoc(doc)
}

func grandstreamPhonebook(exts []models.Extension) ([]byte, error) {
	book := gsAddressBook{}
	for _, e := range exts {
		book.Contacts = append(book.Contacts, gsContact{
			LastName: e.Name,
			Phone:    gsPhone{Type: "Work", Number: e.Extension, AccountIndex: 1},
		})
	}
	return marshalDoc(book)
}

func marshalDoc(v any) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding provisioning document: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func (g *Grandstream) Routes(r chi.Router) {
	r.Get("/cfg{mac}.xml", g.handleConfig)
	r.Get("/phonebook.xml", g.handlePhonebook)
}

func (g *Grandstream) handleConfig(w http.ResponseWriter, r *http.Request) {
	mac := NormalizeMAC(chi.URLParam(r, "mac"))
	ext, err := extensionByMAC(r.Context(), g.deps.DB, mac)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if ext == nil {
		respond.Error(w, http.StatusNotFound, "no extension found for mac "+mac)
		return
	}
	body, err := grandstreamConfig(ext, g.deps.Config.AsteriskHost)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	slog.Info("grandstream: sent provisioning data", "mac", mac, "extension", ext.Extension)
	writeXML(w, body)
}

func (g *Grandstream) handlePhonebook(w http.ResponseWriter, r *http.Request) {
	exts, err := database.NewExtensionRepository(g.deps.DB).Search(r.Context(), "", true)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	body, err := grandstreamPhonebook(exts)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	writeXML(w, body)
}

// Snom provisions Snom desk phones.
type Snom struct {
	*SIP
}

// NewSnom returns the Snom flavor.
func NewSnom(d Deps) *Snom { return &Snom{SIP: NewSIP(d)} }

func (s *Snom) Metadata() flavor.Metadata {
	return flavor.Metadata{
		Name:        "Snom",
		PhoneTypes:  []string{"Snom 300"},
		IsSpecial:   true,
		Codec:       "g722",
		ExtraFields: flavor.Schema{macField},
		Media:       []flavor.MediaSlot{mohSlot},
	}
}

type snomSetting struct {
	XMLName xml.Name
	Idx     string `xml:"idx,attr,omitempty"`
	Perm    string `xml:"perm,attr"`
	Value   string `xml:",chardata"`
}

type snomSettings struct {
	XMLName xml.Name `xml:"settings"`
	Phone   struct {
		Settings []snomSetting `xml:",any"`
	} `xml:"phone-settings"`
}

func snomConfig(ext *models.Extension, server string) ([]byte, error) {
	doc := snomSettings{}
	for _, s := range [][2]string{
		{"user_active", "on"},
		{"user_realname", ext.Name},
		{"user_name", ext.Extension},
		{"user_host", server},
		{"user_pname", ext.Extension},
		{"user_pass", ext.Password},
	} {
		doc.Phone.Settings = append(doc.Phone.Settings, snomSetting{XMLName: xml.Name{Local: s[0]}, Idx: "1", Perm: "R", Value: s[1]})
	}
	return marshalDoc(doc)
}

func (s *Snom) Routes(r chi.Router) {
	r.Get("/snom-{mac}", s.handleConfig)
}

func (s *Snom) handleConfig(w http.ResponseWriter, r *http.Request) {
	mac := NormalizeMAC(strings.TrimSuffix(chi.URLParam(r, "mac"), ".xml"))
	ext, err := extensionByMAC(r.Context(), s.deps.DB, mac)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if ext == nil {
		respond.Error(w, http.StatusNotFound, "no extension found for mac "+mac)
		return
	}
	body, err := snomConfig(ext, s.deps.Config.AsteriskHost)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	slog.Info("snom: sent provisioning data", "mac", mac, "extension", ext.Extension)
	writeXML(w, body)
}
