package extension

import (
	"context"
	"database/sql"
	"log/slog"
	"slices"

	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dualtx"
	"github.com/uuru/uuru/internal/flavor"
)

// MaxMediaSize bounds uploaded media files.
const MaxMediaSize = 10 << 20

// MediaInput is an uploaded file.
type MediaInput struct {
	Name        string
	ContentType string
	Data        []byte
}

func (s *Service) mediaTarget(ctx context.Context, actor *models.User, number, key string) (*models.Extension, flavor.Flavor, error) {
	ext, err := s.owned(ctx, actor, number)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.registry.Lookup(ext.Type)
	if err != nil {
		return nil, nil, apperr.Invalid("Unknown phone type: %s", ext.Type)
	}
	if _, ok := f.Metadata().MediaSlot(key); !ok {
		return nil, nil, apperr.NotFound("%s extensions have no media slot %q", ext.Type, key)
	}
	return ext, f, nil
}

// AssignMedia stores a file in a media slot and lets the flavor pick it up,
// e.g. to switch on music on hold.
func (s *Service) AssignMedia(ctx context.Context, actor *models.User, number, key string, in MediaInput) error {
	ext, f, err := s.mediaTarget(ctx, actor, number, key)
	if err != nil {
		return err
	}
	slot, _ := f.Metadata().MediaSlot(key)
	if len(slot.ContentTypes) > 0 && !slices.Contains(slot.ContentTypes, in.ContentType) {
		return apperr.Invalid("content type %q not allowed for %s", in.ContentType, key)
	}
	if len(in.Data) == 0 {
		return apperr.Invalid("media file is empty")
	}
	if len(in.Data) > MaxMediaSize {
		return apperr.Invalid("media file exceeds %d bytes", MaxMediaSize)
	}

	err = dualtx.Run(ctx, s.db, s.pbx, func(ptx, stx *sql.Tx) error {
		err := database.NewMediaRepository(ptx).Put(ctx, &models.ExtensionMedia{
			Extension:   ext.Extension,
			MediaKey:    key,
			Name:        in.Name,
			ContentType: in.ContentType,
			Data:        in.Data,
		})
		if err != nil {
			return err
		}
		return flavor.OnUpdate(ctx, f, &flavor.Tx{Primary: ptx, PBX: stx}, actor, ext)
	})
	if err != nil {
		return err
	}
	slog.Info("extension: assigned media", "extension", ext.Extension, "key", key, "size", len(in.Data))
	return nil
}

// RemoveMedia clears a media slot.
func (s *Service) RemoveMedia(ctx context.Context, actor *models.User, number, key string) error {
	ext, f, err := s.mediaTarget(ctx, actor, number, key)
	if err != nil {
		return err
	}
	err = dualtx.Run(ctx, s.db, s.pbx, func(ptx, stx *sql.Tx) error {
		if err := database.NewMediaRepository(ptx).Delete(ctx, ext.Extension, key); err != nil {
			return err
		}
		return flavor.OnUpdate(ctx, f, &flavor.Tx{Primary: ptx, PBX: stx}, actor, ext)
	})
	if err != nil {
		return err
	}
	slog.Info("extension: removed media", "extension", ext.Extension, "key", key)
	return nil
}

// Media returns the file in a slot. It serves Asterisk and needs no user.
func (s *Service) Media(ctx context.Context, number, key string) (*models.ExtensionMedia, error) {
	m, err := database.NewMediaRepository(s.db).Get(ctx, number, key)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperr.NotFound("no media %q for extension %s", key, number)
	}
	return m, nil
}
