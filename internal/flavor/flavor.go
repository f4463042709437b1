// Package flavor defines the contract between the extension orchestrator and
// the per phone type integrations, and the registry that indexes them.
package flavor

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uuru/uuru/internal/database/models"
)

// DefaultMaxNameChars limits extension names of flavors that leave
// MaxNameChars unset.
const DefaultMaxNameChars = 40

// DefaultJobInterval applies when a flavor with a job leaves JobInterval unset.
const DefaultJobInterval = 60 * time.Second

// Tx carries the open transactions of both stores into a hook.
type Tx struct {
	Primary *sql.Tx
	PBX     *sql.Tx
}

// MediaSlot is a named media upload an extension of the flavor accepts.
type MediaSlot struct {
	Key          string
	Label        string
	Required     bool
	ContentTypes []string
}

// Metadata is the static description of a flavor.
type Metadata struct {
	Name         string
	PhoneTypes   []string
	DisplayIndex int
	ExtraFields  Schema

	// IsSpecial types may only be created by admins unless all types are
	// configured public.
	IsSpecial bool

	// Codec is the default for every phone type; TypeCodecs overrides it
	// per type.
	Codec      string
	TypeCodecs map[string]string

	// PreventSIPCreation skips the PJSIP account for virtual types.
	PreventSIPCreation bool

	JobInterval  time.Duration
	Media        []MediaSlot
	MaxNameChars int
}

// Key returns the lowercase name used in routes and configuration.
func (m Metadata) Key() string { return strings.ToLower(m.Name) }

// NameLimit returns the maximum extension name length.
func (m Metadata) NameLimit() int {
	if m.MaxNameChars > 0 {
		return m.MaxNameChars
	}
	return DefaultMaxNameChars
}

// MediaSlot returns the slot with key, if the flavor declares one.
func (m Metadata) MediaSlot(key string) (MediaSlot, bool) {
	for _, s := range m.Media {
		if s.Key == key {
			return s, true
		}
	}
	return MediaSlot{}, false
}

// Flavor is one phone integration. Hooks and extras are optional
// interfaces; a flavor implementing none of them only contributes metadata.
type Flavor interface {
	Metadata() Metadata
}

// CreateHook runs after the extension row and SIP account were written.
type CreateHook interface {
	OnExtensionCreate(ctx context.Context, tx *Tx, user *models.User, ext *models.Extension) error
}

// UpdateHook runs after the extension row was updated.
type UpdateHook interface {
	OnExtensionUpdate(ctx context.Context, tx *Tx, user *models.User, ext *models.Extension) error
}

// DeleteHook runs before the extension row is removed.
type DeleteHook interface {
	OnExtensionDelete(ctx context.Context, tx *Tx, user *models.User, ext *models.Extension) error
}

// RouteProvider adds HTTP routes below the flavor's telephoning prefix.
type RouteProvider interface {
	Routes(r chi.Router)
}

// Jobber runs periodic background work.
type Jobber interface {
	Job(ctx context.Context) error
}

// OnCreate calls the create hook of f if it has one.
func OnCreate(ctx context.Context, f Flavor, tx *Tx, user *models.User, ext *models.Extension) error {
	if h, ok := f.(CreateHook); ok {
		return h.OnExtensionCreate(ctx, tx, user, ext)
	}
	return nil
}

// OnUpdate calls the update hook of f if it has one.
func OnUpdate(ctx context.Context, f Flavor, tx *Tx, user *models.User, ext *models.Extension) error {
	if h, ok := f.(UpdateHook); ok {
		return h.OnExtensionUpdate(ctx, tx, user, ext)
	}
	return nil
}

// OnDelete calls the delete hook of f if it has one.
func OnDelete(ctx context.Context, f Flavor, tx *Tx, user *models.User, ext *models.Extension) error {
	if h, ok := f.(DeleteHook); ok {
		return h.OnExtensionDelete(ctx, tx, user, ext)
	}
	return nil
}
