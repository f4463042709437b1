// Package extension creates, updates and deletes extensions in both the
// primary store and the PBX store. Each operation runs in one dual
// transaction together with the hooks of the extension's flavor.
package extension

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/asterisk"
	"github.com/uuru/uuru/internal/config"
	"github.com/uuru/uuru/internal/credentials"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dualtx"
	"github.com/uuru/uuru/internal/flavor"
)

// Errors returned by the service.
var (
	ErrNotFound  = apperr.NotFound("Extension not found")
	ErrNotOwner  = apperr.NotAllowed("You are not allowed to modify this extension!")
	ErrInUse     = apperr.Conflict("Extension already in use")
	ErrReserved  = apperr.NotAllowed("This extension is reserved!")
	ErrNameTaken = apperr.NotAllowed("This name is reserved!")
)

// CreateInput is a new extension as submitted by a user.
type CreateInput struct {
	Extension    string            `json:"extension"`
	Name         string            `json:"name"`
	Info         string            `json:"info"`
	Public       bool              `json:"public"`
	Type         string            `json:"type"`
	ExtraFields  map[string]string `json:"extra_fields"`
	LocationName string            `json:"location_name"`
	Lat          *decimal.Decimal  `json:"lat"`
	Lon          *decimal.Decimal  `json:"lon"`
	Codec        string            `json:"codec"`
}

// UpdateInput changes an extension. Nil fields are left alone; a nil
// ExtraFields keeps the stored fields.
type UpdateInput struct {
	Name         *string           `json:"name"`
	Info         *string           `json:"info"`
	Public       *bool             `json:"public"`
	Type         *string           `json:"type"`
	ExtraFields  map[string]string `json:"extra_fields"`
	LocationName *string           `json:"location_name"`
	Lat          *decimal.Decimal  `json:"lat"`
	Lon          *decimal.Decimal  `json:"lon"`
	Codec        *string           `json:"codec"`
}

// Service is the extension orchestrator.
type Service struct {
	cfg      *config.Config
	db       *database.DB
	pbx      *asterisk.Store
	registry *flavor.Registry
}

// NewService creates an extension service.
func NewService(cfg *config.Config, db *database.DB, pbx *asterisk.Store, registry *flavor.Registry) *Service {
	return &Service{cfg: cfg, db: db, pbx: pbx, registry: registry}
}

func (s *Service) checkNumber(ext string) error {
	if len(ext) != s.cfg.ExtensionDigits || strings.Trim(ext, "0123456789") != "" {
		return apperr.Invalid("extension must consist of %d digits", s.cfg.ExtensionDigits)
	}
	return nil
}

// checkReserved applies the reservation policy. Admins may use reserved
// numbers and names; the browser phone range is off limits for everybody.
func (s *Service) checkReserved(actor *models.User, ext, name string) error {
	n, _ := strconv.Atoi(ext)
	if s.cfg.EnableWebSIP && s.cfg.WebSIPExtensionRange.Contains(n) {
		return apperr.NotAllowed("This extension is reserved for browser phones!")
	}
	if actor.IsAdmin() {
		return nil
	}
	if s.cfg.ExtensionReserved(n) {
		return ErrReserved
	}
	if s.cfg.NameReserved(name) {
		return ErrNameTaken
	}
	return nil
}

func (s *Service) lookup(actor *models.User, phoneType string) (flavor.Flavor, error) {
	f, err := s.registry.Lookup(phoneType)
	if errors.Is(err, flavor.ErrUnknownType) {
		return nil, apperr.Invalid("Unknown phone type: %s", phoneType)
	}
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !s.registry.IsPublic(f) {
		return nil, apperr.NotAllowed("You are not allowed to create extensions of this type!")
	}
	return f, nil
}

func checkName(m flavor.Metadata, name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Invalid("name must not be empty")
	}
	if utf8.RuneCountInString(name) > m.NameLimit() {
		return apperr.Invalid("name must not be longer than %d characters", m.NameLimit())
	}
	return nil
}

func checkCodecOverride(codec string) error {
	if codec == "" {
		return nil
	}
	if err := flavor.CheckCodec(codec); err != nil {
		return apperr.Invalid("%v", err)
	}
	return nil
}

func (s *Service) account(m flavor.Metadata, ext *models.Extension) asterisk.Account {
	return asterisk.Account{
		ID:          ext.Extension,
		DisplayName: ext.Name,
		Password:    ext.Password,
		Codec:       flavor.ResolveCodec(m, ext.Type, ext.Codec, s.cfg.Codecs),
	}
}

func canModify(actor *models.User, ext *models.Extension) bool {
	return actor.IsAdmin() || ext.OwnedBy(actor)
}

// Create validates in, generates credentials and stores the extension
// together with its SIP account and flavor state.
func (s *Service) Create(ctx context.Context, actor *models.User, in CreateInput) (*models.Extension, error) {
	if actor == nil {
		return nil, apperr.NotAllowed("login required")
	}
	if err := s.checkNumber(in.Extension); err != nil {
		return nil, err
	}
	f, err := s.lookup(actor, in.Type)
	if err != nil {
		return nil, err
	}
	m := f.Metadata()
	if err := s.checkReserved(actor, in.Extension, in.Name); err != nil {
		return nil, err
	}
	extra, err := m.ExtraFields.Validate(in.ExtraFields)
	if err != nil {
		return nil, err
	}
	if err := checkName(m, in.Name); err != nil {
		return nil, err
	}
	lat, lon, err := location(in.Lat, in.Lon)
	if err != nil {
		return nil, err
	}
	if err := checkCodecOverride(in.Codec); err != nil {
		return nil, err
	}

	ext := &models.Extension{
		Extension:    in.Extension,
		Name:         in.Name,
		LocationName: in.LocationName,
		Lat:          lat,
		Lon:          lon,
		Public:       in.Public,
		Type:         in.Type,
		Token:        credentials.ExtensionToken(s.cfg.ExtensionTokenPrefix, s.cfg.ExtensionTokenLength),
		Password:     credentials.ExtensionPassword(s.cfg.ExtensionPasswordLength),
		Info:         in.Info,
		UserID:       &actor.ID,
		ExtraFields:  extra,
		Codec:        in.Codec,
	}

	err = dualtx.Run(ctx, s.db, s.pbx, func(ptx, stx *sql.Tx) error {
		if err := checkUnique(ctx, ptx, m, ext); err != nil {
			return err
		}
		if err := database.NewExtensionRepository(ptx).Create(ctx, ext); err != nil {
			if database.IsUniqueViolation(err) {
				return ErrInUse
			}
			return err
		}
		if !m.PreventSIPCreation {
			if err := s.pbx.CreateSIPAccount(ctx, stx, s.account(m, ext)); err != nil {
				return err
			}
		}
		return flavor.OnCreate(ctx, f, &flavor.Tx{Primary: ptx, PBX: stx}, actor, ext)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("extension: created", "extension", ext.Extension, "type", ext.Type, "user", actor.Username)
	return ext, nil
}

// checkUnique rejects unique extra field values held by another extension.
func checkUnique(ctx context.Context, q database.Querier, m flavor.Metadata, ext *models.Extension) error {
	repo := database.NewExtensionRepository(q)
	for _, f := range m.ExtraFields {
		v := ext.ExtraFields[f.Name]
		if !f.Unique || v == "" {
			continue
		}
		other, err := repo.GetByExtraField(ctx, f.Name, v)
		if err != nil {
			return err
		}
		if other != nil && other.Extension != ext.Extension {
			return apperr.Conflict("extra field %q is already used by extension %s", f.Name, other.Extension)
		}
	}
	return nil
}

// owned loads ext and checks that actor may modify it.
func (s *Service) owned(ctx context.Context, actor *models.User, number string) (*models.Extension, error) {
	ext, err := database.NewExtensionRepository(s.db).Get(ctx, number)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, ErrNotFound
	}
	if !canModify(actor, ext) {
		return nil, ErrNotOwner
	}
	return ext, nil
}

// Update applies in to the extension. A type change is allowed between
// flavors that agree on whether a SIP account exists; changing the flavor
// runs the old flavor's delete hook and the new flavor's create hook.
func (s *Service) Update(ctx context.Context, actor *models.User, number string, in UpdateInput) (*models.Extension, error) {
	ext, err := s.owned(ctx, actor, number)
	if err != nil {
		return nil, err
	}
	oldFlavor, err := s.registry.Lookup(ext.Type)
	if err != nil {
		return nil, apperr.Invalid("Unknown phone type: %s", ext.Type)
	}
	newFlavor := oldFlavor
	if in.Type != nil && *in.Type != ext.Type {
		if newFlavor, err = s.lookup(actor, *in.Type); err != nil {
			return nil, err
		}
		if newFlavor.Metadata().PreventSIPCreation != oldFlavor.Metadata().PreventSIPCreation {
			return nil, apperr.Invalid("cannot change type from %s to %s", ext.Type, *in.Type)
		}
		ext.Type = *in.Type
	}
	m := newFlavor.Metadata()

	if in.Name != nil && *in.Name != ext.Name {
		if !actor.IsAdmin() && s.cfg.NameReserved(*in.Name) {
			return nil, ErrNameTaken
		}
		ext.Name = *in.Name
	}
	if err := checkName(m, ext.Name); err != nil {
		return nil, err
	}
	if in.Info != nil {
		ext.Info = *in.Info
	}
	if in.Public != nil {
		ext.Public = *in.Public
	}
	if in.LocationName != nil {
		ext.LocationName = *in.LocationName
	}
	if in.Lat != nil || in.Lon != nil {
		if ext.Lat, ext.Lon, err = location(in.Lat, in.Lon); err != nil {
			return nil, err
		}
	}
	if in.Codec != nil {
		if err := checkCodecOverride(*in.Codec); err != nil {
			return nil, err
		}
		ext.Codec = *in.Codec
	}
	fields := ext.ExtraFields
	if in.ExtraFields != nil {
		fields = in.ExtraFields
	}
	if ext.ExtraFields, err = m.ExtraFields.Validate(fields); err != nil {
		return nil, err
	}

	err = dualtx.Run(ctx, s.db, s.pbx, func(ptx, stx *sql.Tx) error {
		if err := checkUnique(ctx, ptx, m, ext); err != nil {
			return err
		}
		if err := database.NewExtensionRepository(ptx).Update(ctx, ext); err != nil {
			return err
		}
		if !m.PreventSIPCreation {
			if err := s.pbx.UpdateSIPAccount(ctx, stx, s.account(m, ext)); err != nil {
				return err
			}
		}
		tx := &flavor.Tx{Primary: ptx, PBX: stx}
		if newFlavor != oldFlavor {
			if err := flavor.OnDelete(ctx, oldFlavor, tx, actor, ext); err != nil {
				return err
			}
			return flavor.OnCreate(ctx, newFlavor, tx, actor, ext)
		}
		return flavor.OnUpdate(ctx, newFlavor, tx, actor, ext)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("extension: updated", "extension", ext.Extension, "type", ext.Type)
	return ext, nil
}

// Delete removes the extension. The flavor's delete hook runs before the
// row is gone so it can still read the extension.
func (s *Service) Delete(ctx context.Context, actor *models.User, number string) error {
	ext, err := s.owned(ctx, actor, number)
	if err != nil {
		return err
	}
	f, err := s.registry.Lookup(ext.Type)
	if err != nil && !errors.Is(err, flavor.ErrUnknownType) {
		return err
	}

	err = dualtx.Run(ctx, s.db, s.pbx, func(ptx, stx *sql.Tx) error {
		if f != nil {
			if err := flavor.OnDelete(ctx, f, &flavor.Tx{Primary: ptx, PBX: stx}, actor, ext); err != nil {
				return err
			}
		}
		if f == nil || !f.Metadata().PreventSIPCreation {
			if err := s.pbx.DeleteSIPAccount(ctx, stx, ext.Extension); err != nil {
				return err
			}
		}
		return database.NewExtensionRepository(ptx).Delete(ctx, ext.Extension)
	})
	if err != nil {
		return err
	}
	slog.Info("extension: deleted", "extension", ext.Extension, "type", ext.Type)
	return nil
}

// Get returns an extension its owner or an admin may see.
func (s *Service) Get(ctx context.Context, actor *models.User, number string) (*models.Extension, error) {
	ext, err := database.NewExtensionRepository(s.db).Get(ctx, number)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, ErrNotFound
	}
	if !canModify(actor, ext) {
		return nil, apperr.NotAllowed("Forbidden!")
	}
	return ext, nil
}

// ListOwn returns the extensions of actor.
func (s *Service) ListOwn(ctx context.Context, actor *models.User) ([]models.Extension, error) {
	return database.NewExtensionRepository(s.db).ListByUser(ctx, actor.ID)
}

// Phonebook searches extensions. Only admins may include non-public ones.
func (s *Service) Phonebook(ctx context.Context, actor *models.User, query string, publicOnly bool) ([]models.Extension, error) {
	if !publicOnly && !actor.IsAdmin() {
		return nil, apperr.NotAllowed("You may not request non-public extension")
	}
	return database.NewExtensionRepository(s.db).Search(ctx, query, publicOnly)
}

// Online reports whether the extension has a live registration.
func (s *Service) Online(ctx context.Context, number string) (bool, error) {
	ext, err := database.NewExtensionRepository(s.db).Get(ctx, number)
	if err != nil {
		return false, err
	}
	if ext == nil {
		return false, apperr.NotFound("Extension not found!")
	}
	return s.pbx.IsOnline(ctx, number)
}
