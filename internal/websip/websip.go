// Package websip hands out short-lived SIP accounts to browser phones.
package websip

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/asterisk"
	"github.com/uuru/uuru/internal/config"
	"github.com/uuru/uuru/internal/credentials"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/flavor"
)

// Errors returned by the manager.
var (
	ErrNoFreeExtension  = apperr.Conflict("no free extension found in websip range")
	ErrUnknownExtension = apperr.NotFound("unknown websip extension")
	ErrWrongPassword    = apperr.NotAllowed("wrong password for extension")
)

// Extension is an active browser phone account.
type Extension struct {
	AOR         string    `json:"aor"`
	Extension   string    `json:"extension"`
	AuthUser    string    `json:"auth_user"`
	AuthPass    string    `json:"auth_pass"`
	DisplayName string    `json:"display_name"`
	WSHost      string    `json:"ws_host"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Manager tracks the active browser extensions. Accounts are created in
// the PBX store only; nothing is written to the primary store.
type Manager struct {
	pbx          *asterisk.Store
	low, high    int
	asteriskHost string
	wsHost       string
	ttl          time.Duration
	pwLen        int
	now          func() time.Time

	mu     sync.Mutex
	active map[string]*Extension
}

// NewManager returns a manager allocating from the configured range.
func NewManager(cfg *config.Config, pbx *asterisk.Store) *Manager {
	return &Manager{
		pbx:          pbx,
		low:          cfg.WebSIPExtensionRange.Low,
		high:         cfg.WebSIPExtensionRange.High,
		asteriskHost: cfg.AsteriskHost,
		wsHost:       cfg.WebSIPWSHost,
		ttl:          cfg.WebSIPSessionTTL,
		pwLen:        cfg.ExtensionPasswordLength,
		now:          time.Now,
		active:       make(map[string]*Extension),
	}
}

// Create allocates the first free extension of the range and creates a
// websocket enabled PJSIP account for it. user may be nil for anonymous
// browser phones. Accounts in the range that no active session owns are
// leftovers of an earlier process and get replaced.
func (m *Manager) Create(ctx context.Context, user *models.User) (*Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := "Anonymous"
	if user != nil {
		name = user.Username
	}
	for i := m.low; i <= m.high; i++ {
		ext := strconv.Itoa(i)
		if _, used := m.active[ext]; used {
			continue
		}
		e, err := m.create(ctx, ext, name)
		if apperr.Is(err, apperr.KindConflict) {
			slog.Warn("websip: removing leftover account", "extension", ext)
			if derr := m.pbx.DeleteSIPAccount(ctx, nil, ext); derr != nil {
				slog.Error("websip: failed to remove leftover account", "extension", ext, "error", derr)
				continue
			}
			e, err = m.create(ctx, ext, name)
		}
		if apperr.Is(err, apperr.KindConflict) {
			continue
		}
		if err != nil {
			slog.Error("websip: failed to create extension", "extension", ext, "error", err)
			return nil, err
		}
		m.active[ext] = e
		slog.Info("websip: created extension", "extension", ext, "name", e.DisplayName)
		return e, nil
	}
	return nil, ErrNoFreeExtension
}

func (m *Manager) create(ctx context.Context, ext, name string) (*Extension, error) {
	now := m.now()
	e := &Extension{
		AOR:         fmt.Sprintf("sip:%s@%s", ext, m.asteriskHost),
		Extension:   ext,
		AuthUser:    ext,
		AuthPass:    credentials.ExtensionPassword(m.pwLen),
		DisplayName: name + " (Web)",
		WSHost:      m.wsHost,
		CreatedAt:   now,
		LastSeen:    now,
	}
	err := m.pbx.CreateSIPAccount(ctx, nil, asterisk.Account{
		ID:          ext,
		DisplayName: e.DisplayName,
		Password:    e.AuthPass,
		Codec:       flavor.DefaultCodec,
		WebSIP:      true,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns a copy of the active extension ext.
func (m *Manager) Get(ext string) (Extension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[ext]
	if !ok {
		return Extension{}, ErrUnknownExtension
	}
	return *e, nil
}

// Active returns the number of active browser extensions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Touch marks ext as still in use so Reap keeps it.
func (m *Manager) Touch(ext string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[ext]
	if !ok {
		return ErrUnknownExtension
	}
	e.LastSeen = m.now()
	return nil
}

// Delete removes ext after checking the password handed out at creation.
func (m *Manager) Delete(ctx context.Context, ext, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[ext]
	if !ok {
		return ErrUnknownExtension
	}
	if subtle.ConstantTimeCompare([]byte(e.AuthPass), []byte(password)) != 1 {
		return ErrWrongPassword
	}
	return m.removeLocked(ctx, ext)
}

func (m *Manager) removeLocked(ctx context.Context, ext string) error {
	if err := m.pbx.DeleteSIPAccount(ctx, nil, ext); err != nil {
		slog.Error("websip: failed to delete extension", "extension", ext, "error", err)
		return err
	}
	delete(m.active, ext)
	slog.Info("websip: deleted extension", "extension", ext)
	return nil
}

// Reap removes every extension not seen within the session ttl. It runs
// as a periodic job.
func (m *Manager) Reap(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.ttl)
	var firstErr error
	for ext, e := range m.active {
		if e.LastSeen.After(cutoff) {
			continue
		}
		if err := m.removeLocked(ctx, ext); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Teardown removes all browser extensions. It is called on shutdown.
func (m *Manager) Teardown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for ext := range m.active {
		if err := m.removeLocked(ctx, ext); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		slog.Info("websip: teardown complete")
	}
	return firstErr
}
