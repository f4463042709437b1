package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/uuru/uuru/internal/api/middleware"
	"github.com/uuru/uuru/internal/api/respond"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/extension"
)

// phonebookEntry is what anybody may see of an extension.
type phonebookEntry struct {
	Extension    string           `json:"extension"`
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	LocationName string           `json:"location_name"`
	Lat          *decimal.Decimal `json:"lat"`
	Lon          *decimal.Decimal `json:"lon"`
	Info         string           `json:"info"`
}

// extensionResponse is the owner's view including credentials.
type extensionResponse struct {
	phonebookEntry
	Public      bool              `json:"public"`
	Token       string            `json:"token"`
	Password    string            `json:"password"`
	ExtraFields map[string]string `json:"extra_fields"`
	Codec       string            `json:"codec,omitempty"`
	UserID      *int64            `json:"user_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toPhonebookEntry(e *models.Extension) phonebookEntry {
	return phonebookEntry{
		Extension:    e.Extension,
		Name:         e.Name,
		Type:         e.Type,
		LocationName: e.LocationName,
		Lat:          e.LatDegrees(),
		Lon:          e.LonDegrees(),
		Info:         e.Info,
	}
}

func toExtensionResponse(e *models.Extension) extensionResponse {
	extra := e.ExtraFields
	if extra == nil {
		extra = map[string]string{}
	}
	return extensionResponse{
		phonebookEntry: toPhonebookEntry(e),
		Public:         e.Public,
		Token:          e.Token,
		Password:       e.Password,
		ExtraFields:    extra,
		Codec:          e.Codec,
		UserID:         e.UserID,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func (s *Server) handleCreateExtension(w http.ResponseWriter, r *http.Request) {
	var in extension.CreateInput
	if msg := respond.Decode(r, &in); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	ext, err := s.Extensions.Create(r.Context(), middleware.UserFromContext(r.Context()), in)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, toExtensionResponse(ext))
}

func (s *Server) handleUpdateExtension(w http.ResponseWriter, r *http.Request) {
	var in extension.UpdateInput
	if msg := respond.Decode(r, &in); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	ext, err := s.Extensions.Update(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "ext"), in)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, toExtensionResponse(ext))
}

func (s *Server) handleDeleteExtension(w http.ResponseWriter, r *http.Request) {
	if err := s.Extensions.Delete(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "ext")); err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleExtensionInfo(w http.ResponseWriter, r *http.Request) {
	ext, err := s.Extensions.Get(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "ext"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, toExtensionResponse(ext))
}

func (s *Server) handleOwnExtensions(w http.ResponseWriter, r *http.Request) {
	exts, err := s.Extensions.ListOwn(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	out := make([]extensionResponse, len(exts))
	for i := range exts {
		out[i] = toExtensionResponse(&exts[i])
	}
	respond.JSON(w, http.StatusOK, out)
}

// handlePhonebook searches extensions. ?public=false lists non-public
// extensions too and is admin only.
func (s *Server) handlePhonebook(w http.ResponseWriter, r *http.Request) {
	publicOnly := true
	if v := r.URL.Query().Get("public"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "public must be a boolean")
			return
		}
		publicOnly = b
	}
	exts, err := s.Extensions.Phonebook(r.Context(), middleware.UserFromContext(r.Context()), r.URL.Query().Get("q"), publicOnly)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	out := make([]phonebookEntry, len(exts))
	for i := range exts {
		out[i] = toPhonebookEntry(&exts[i])
	}
	respond.JSON(w, http.StatusOK, out)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "ext")
	online, err := s.Extensions.Online(r.Context(), number)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"extension": number, "online": online})
}

// handleAssignMedia takes the file from the multipart field "file".
func (s *Server) handleAssignMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, extension.MaxMediaSize+1<<16)
	file, header, err := r.FormFile("file")
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, extension.MaxMediaSize+1))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "reading upload failed")
		return
	}

	err = s.Extensions.AssignMedia(r.Context(), middleware.UserFromContext(r.Context()),
		chi.URLParam(r, "ext"), chi.URLParam(r, "key"), extension.MediaInput{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

func (s *Server) handleRemoveMedia(w http.ResponseWriter, r *http.Request) {
	err := s.Extensions.RemoveMedia(r.Context(), middleware.UserFromContext(r.Context()),
		chi.URLParam(r, "ext"), chi.URLParam(r, "key"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleStreamMedia serves a media file to Asterisk.
func (s *Server) handleStreamMedia(w http.ResponseWriter, r *http.Request) {
	m, err := s.Extensions.Media(r.Context(), chi.URLParam(r, "ext"), chi.URLParam(r, "key"))
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	w.Header().Set("Content-Type", m.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(m.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(m.Data) //nolint:errcheck
}
