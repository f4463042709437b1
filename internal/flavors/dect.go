package flavors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uuru/uuru/internal/api/respond"
	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/asterisk"
	"github.com/uuru/uuru/internal/credentials"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dualtx"
	"github.com/uuru/uuru/internal/flavor"
	"github.com/uuru/uuru/internal/omm"
)

const (
	dectTmpContext = "pjsip_dect_tmp"
	dectTmpName    = "DECT TMP"
	dectCodec      = "alaw"
)

// DECT integrates handsets managed by a Mitel OMM. Unbound handsets get a
// temporary extension; dialing in with the token of a real extension moves
// the handset over to it.
type DECT struct {
	*SIP
	omm ommClient

	// mu keeps multi-step OMM sequences from interleaving.
	mu sync.Mutex
}

// ommClient is the part of *omm.Client the flavor uses.
type ommClient interface {
	SubscriptionMode(ctx context.Context) (string, error)
	SetSubscriptionMode(ctx context.Context, mode string) error
	UnboundDevices(ctx context.Context) ([]omm.Device, error)
	CreateUser(ctx context.Context, num string) (omm.User, error)
	SetUserSIPAuth(ctx context.Context, uid int, authID, password string) error
	SetUserName(ctx context.Context, uid int, name string) error
	AttachUserDevice(ctx context.Context, uid, ppn int) error
	DetachUserDevice(ctx context.Context, uid, ppn int) error
	DetachUserDeviceByUser(ctx context.Context, uid int) error
	DeleteUser(ctx context.Context, uid int) error
	FindUserByNumber(ctx context.Context, num string) (omm.User, error)
}

// NewDECT returns the DECT flavor. A nil OMM client is built from the
// configuration.
func NewDECT(d Deps) *DECT {
	if d.OMM == nil && d.Config != nil {
		d.OMM = omm.New(omm.Config{
			Host:       d.Config.OMMHost,
			Port:       d.Config.OMMPort,
			User:       d.Config.OMMUser,
			Password:   d.Config.OMMPassword,
			VerifyCert: d.Config.OMMVerifyCert,
		})
	}
	return &DECT{SIP: NewSIP(d), omm: d.OMM}
}

func (d *DECT) Metadata() flavor.Metadata {
	return flavor.Metadata{
		Name:         "DECT",
		PhoneTypes:   []string{"DECT"},
		DisplayIndex: 1001,
		Codec:        dectCodec,
		JobInterval:  10 * time.Second,
		Media:        []flavor.MediaSlot{mohSlot},
	}
}

// Job enables subscriptions and hands every unbound handset a temporary
// extension. A temporary extension whose handset shows up unbound again is
// stale and gets replaced. Failing devices do not hold up the others.
func (d *DECT) Job(ctx context.Context) error {
	if err := d.enableSubscription(ctx); err != nil {
		return err
	}
	devices, err := d.omm.UnboundDevices(ctx)
	if err != nil {
		return err
	}
	temps := database.NewTemporaryExtensionRepository(d.deps.DB)
	var errs []error
	for _, dev := range devices {
		existing, err := temps.GetByPPN(ctx, dev.PPN)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if existing != nil {
			slog.Warn("dect: replacing stale temporary extension", "ppn", dev.PPN, "extension", existing.Extension)
			if err := d.dropStale(ctx, existing); err != nil {
				errs = append(errs, fmt.Errorf("removing stale extension of device %d: %w", dev.PPN, err))
				continue
			}
		}
		if err := d.provisionTemporary(ctx, dev.PPN); err != nil {
			errs = append(errs, fmt.Errorf("provisioning device %d: %w", dev.PPN, err))
		}
	}
	return errors.Join(errs...)
}

// dropStale removes a temporary extension whose handset is no longer bound
// to its OMM user.
func (d *DECT) dropStale(ctx context.Context, tmp *models.TemporaryExtension) error {
	d.mu.Lock()
	err := d.omm.DeleteUser(ctx, tmp.UID)
	d.mu.Unlock()
	if err != nil {
		slog.Warn("dect: could not delete stale omm user", "uid", tmp.UID, "error", err)
	}
	return d.removeTemporary(ctx, tmp.Extension)
}

// removeTemporary deletes a temporary extension from both stores.
func (d *DECT) removeTemporary(ctx context.Context, ext string) error {
	return dualtx.Run(ctx, d.deps.DB, d.deps.PBX, func(ptx, stx *sql.Tx) error {
		if err := database.NewTemporaryExtensionRepository(ptx).Delete(ctx, ext); err != nil {
			return err
		}
		return d.deps.PBX.DeleteSIPAccount(ctx, stx, ext)
	})
}

func (d *DECT) enableSubscription(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mode, err := d.omm.SubscriptionMode(ctx)
	if err != nil {
		return err
	}
	if mode == "Configured" {
		return nil
	}
	slog.Info("dect: enabling subscription mode", "previous", mode)
	return d.omm.SetSubscriptionMode(ctx, "Configured")
}

func (d *DECT) provisionTemporary(ctx context.Context, ppn int) error {
	tmp := &models.TemporaryExtension{
		Extension: credentials.TemporaryExtension(d.deps.Config.ExtensionDigits),
		Password:  credentials.ExtensionPassword(d.deps.Config.ExtensionPasswordLength),
		PPN:       ppn,
	}
	slog.Info("dect: new unbound device", "ppn", ppn, "extension", tmp.Extension)

	uid, err := d.configureUser(ctx, tmp.Extension, tmp.Extension, tmp.Password, ppn)
	if err != nil {
		return err
	}
	tmp.UID = uid

	err = dualtx.Run(ctx, d.deps.DB, d.deps.PBX, func(ptx, stx *sql.Tx) error {
		if err := database.NewTemporaryExtensionRepository(ptx).Create(ctx, tmp); err != nil {
			return err
		}
		return d.deps.PBX.CreateSIPAccount(ctx, stx, asterisk.Account{
			ID:          tmp.Extension,
			DisplayName: dectTmpName,
			Password:    tmp.Password,
			Codec:       dectCodec,
			Context:     dectTmpContext,
		})
	})
	if err != nil {
		// Unbind the handset again so the next run retries it.
		if rerr := d.releaseUser(ctx, uid, ppn); rerr != nil {
			return errors.Join(err, fmt.Errorf("releasing omm user %d: %w", uid, rerr))
		}
		return err
	}
	return nil
}

// configureUser creates an OMM user with SIP credentials and binds it to the
// handset ppn. On failure the half-configured user is deleted again.
func (d *DECT) configureUser(ctx context.Context, name, ext, password string, ppn int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, err := d.omm.CreateUser(ctx, ext)
	if err != nil {
		return 0, err
	}
	err = d.omm.SetUserSIPAuth(ctx, user.UID, ext, password)
	if err == nil {
		err = d.omm.SetUserName(ctx, user.UID, name)
	}
	if err == nil {
		err = d.omm.AttachUserDevice(ctx, user.UID, ppn)
	}
	if err != nil {
		if derr := d.omm.DeleteUser(ctx, user.UID); derr != nil {
			return 0, errors.Join(err, fmt.Errorf("deleting omm user %d: %w", user.UID, derr))
		}
		return 0, err
	}
	return user.UID, nil
}

func (d *DECT) releaseUser(ctx context.Context, uid, ppn int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.omm.DetachUserDevice(ctx, uid, ppn); err != nil {
		return err
	}
	return d.omm.DeleteUser(ctx, uid)
}

type dectRegistration struct {
	TmpExtension string `json:"tmp_extension"`
	Token        string `json:"token"`
}

func (d *DECT) Routes(r chi.Router) {
	r.Post("/", d.handleRegistration)
}

// handleRegistration is called from the temporary dialplan context when a
// handset dials a token.
func (d *DECT) handleRegistration(w http.ResponseWriter, r *http.Request) {
	var req dectRegistration
	if msg := respond.Decode(r, &req); msg != "" {
		respond.Error(w, http.StatusBadRequest, msg)
		return
	}
	slog.Info("dect: registration attempt", "tmp_extension", req.TmpExtension)

	if err := d.Register(r.Context(), req.TmpExtension, req.Token); err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// Registration failures.
var (
	ErrUnknownToken     = apperr.NotFound("could not find matching extension for token")
	ErrUnknownTemporary = apperr.NotFound("could not identify temporary extension from caller")
)

// Register moves the handset holding tmpExt over to the extension issued
// token and removes the temporary extension.
func (d *DECT) Register(ctx context.Context, tmpExt, token string) error {
	ext, err := database.NewExtensionRepository(d.deps.DB).GetByToken(ctx, token)
	if err != nil {
		return err
	}
	if ext == nil {
		return ErrUnknownToken
	}
	tmp, err := database.NewTemporaryExtensionRepository(d.deps.DB).Get(ctx, tmpExt)
	if err != nil {
		return err
	}
	if tmp == nil {
		return ErrUnknownTemporary
	}

	if err := d.releaseUser(ctx, tmp.UID, tmp.PPN); err != nil {
		return err
	}
	if _, err := d.configureUser(ctx, ext.Name, ext.Extension, ext.Password, tmp.PPN); err != nil {
		// The handset is unbound now; drop the temporary extension so the
		// next job run provisions a fresh one.
		if rerr := d.removeTemporary(ctx, tmp.Extension); rerr != nil {
			return errors.Join(err, fmt.Errorf("removing temporary extension %s: %w", tmp.Extension, rerr))
		}
		return err
	}

	if err := d.removeTemporary(ctx, tmp.Extension); err != nil {
		return err
	}
	slog.Info("dect: registered device", "ppn", tmp.PPN, "extension", ext.Extension)
	return nil
}

func (d *DECT) OnExtensionUpdate(ctx context.Context, tx *flavor.Tx, user *models.User, ext *models.Extension) error {
	if err := d.SIP.OnExtensionUpdate(ctx, tx, user, ext); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, err := d.omm.FindUserByNumber(ctx, ext.Extension)
	if errors.Is(err, omm.ErrUserNotFound) {
		// Handset not registered yet.
		return nil
	}
	if err != nil {
		return err
	}
	return d.omm.SetUserName(ctx, u.UID, ext.Name)
}

func (d *DECT) OnExtensionDelete(ctx context.Context, tx *flavor.Tx, user *models.User, ext *models.Extension) error {
	if err := d.SIP.OnExtensionDelete(ctx, tx, user, ext); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, err := d.omm.FindUserByNumber(ctx, ext.Extension)
	if errors.Is(err, omm.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := d.omm.DetachUserDeviceByUser(ctx, u.UID); err != nil {
		return err
	}
	return d.omm.DeleteUser(ctx, u.UID)
}
