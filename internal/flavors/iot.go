package flavors

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/uuru/uuru/internal/api/respond"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/flavor"
)

// IoT hands SIP credentials to headless devices that know a shared secret.
type IoT struct {
	*SIP
}

// NewIoT returns the IoT flavor.
func NewIoT(d Deps) *IoT { return &IoT{SIP: NewSIP(d)} }

func (i *IoT) Metadata() flavor.Metadata {
	return flavor.Metadata{
		Name:       "IoT",
		PhoneTypes: []string{"IoT"},
		IsSpecial:  true,
		ExtraFields: flavor.Schema{{
			Name:        "secret",
			Title:       "Secret",
			Description: "shared secret the device fetches its credentials with",
			Required:    true,
			Rules:       "min=8,max=128,printascii",
			Unique:      true,
		}},
	}
}

type iotCredentials struct {
	XMLName      xml.Name `json:"-" xml:"root"`
	Server       string   `json:"server" xml:"server"`
	Transport    string   `json:"transport" xml:"transport"`
	Extension    string   `json:"extension" xml:"extension"`
	Name         string   `json:"name" xml:"name"`
	Password     string   `json:"password" xml:"password"`
	Type         string   `json:"type" xml:"type"`
	Info         string   `json:"info" xml:"info"`
	LocationName string   `json:"location_name" xml:"location_name"`
	Public       bool     `json:"public" xml:"public"`
}

func newIoTCredentials(ext *models.Extension, server string) iotCredentials {
	return iotCredentials{
		Server:       server,
		Transport:    "udp",
		Extension:    ext.Extension,
		Name:         ext.Name,
		Password:     ext.Password,
		Type:         ext.Type,
		Info:         ext.Info,
		LocationName: ext.LocationName,
		Public:       ext.Public,
	}
}

func (c iotCredentials) csvRecords() [][]string {
	return [][]string{
		{"server", "transport", "extension", "name", "password", "type", "info", "location_name", "public"},
		{c.Server, c.Transport, c.Extension, c.Name, c.Password, c.Type, c.Info, c.LocationName, strconv.FormatBool(c.Public)},
	}
}

func (i *IoT) Routes(r chi.Router) {
	r.Get("/{secret}", i.handleCredentials)
}

func (i *IoT) handleCredentials(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" && format != "xml" {
		respond.Error(w, http.StatusBadRequest, "format must be one of json, csv, xml")
		return
	}

	ext, err := database.NewExtensionRepository(i.deps.DB).GetByExtraField(r.Context(), "secret", chi.URLParam(r, "secret"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if ext == nil || ext.Type != "IoT" {
		respond.Error(w, http.StatusNotFound, "Extension not found")
		return
	}
	creds := newIoTCredentials(ext, i.deps.Config.AsteriskHost)

	switch format {
	case "xml":
		body, err := marshalDoc(creds)
		if err != nil {
			respond.Err(w, r, err)
			return
		}
		writeXML(w, body)
	case "csv":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		cw := csv.NewWriter(w)
		cw.WriteAll(creds.csvRecords())
	default:
		// Devices parse the bare object, not the API envelope.
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(creds)
	}
}
