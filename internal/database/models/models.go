package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is an account that owns extensions.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// GeoScale is the fixed-point factor lat/lon are stored with.
const GeoScale = 10_000_000

// Extension is a phone number registered by a user.
type Extension struct {
	Extension    string
	Name         string
	LocationName string
	Lat          *int64 // degrees * GeoScale
	Lon          *int64 // degrees * GeoScale
	Public       bool
	Type         string
	Token        string
	Password     string
	Info         string
	UserID       *int64
	ExtraFields  map[string]string
	Codec        string // per-extension codec override, empty for none
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExtraField returns the extra field value for key, or "".
func (e *Extension) ExtraField(key string) string {
	if e.ExtraFields == nil {
		return ""
	}
	return e.ExtraFields[key]
}

// OwnedBy reports whether the extension belongs to the user.
func (e *Extension) OwnedBy(u *User) bool {
	return u != nil && e.UserID != nil && *e.UserID == u.ID
}

// LatDegrees returns the latitude in degrees, or nil.
func (e *Extension) LatDegrees() *decimal.Decimal { return fromFixed(e.Lat) }

// LonDegrees returns the longitude in degrees, or nil.
func (e *Extension) LonDegrees() *decimal.Decimal { return fromFixed(e.Lon) }

func fromFixed(v *int64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.New(*v, -7)
	return &d
}

// ExtensionMedia is a file assigned to an extension under a slot key,
// e.g. "moh" for music on hold.
type ExtensionMedia struct {
	Extension   string
	MediaKey    string
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// TemporaryExtension is a placeholder extension handed to an unbound DECT
// handset until its owner registers it.
type TemporaryExtension struct {
	Extension string
	Password  string
	UID       int // OMM user id
	PPN       int // OMM device id
	CreatedAt time.Time
}

// Peer is an established federation with another instance.
type Peer struct {
	ID                     string
	Name                   string
	Secret                 string
	Prefix                 string
	PartnerExtensionLength int
	Codec                  string
	PartnerIAXHost         string
	PartnerUURUHost        string
	CreatedAt              time.Time
}

// OutgoingPeeringRequest is a peering this instance asked a partner for.
type OutgoingPeeringRequest struct {
	ID              string
	Name            string
	PartnerUURUHost string
	Prefix          string
	Secret          string
	Codec           string
	CreatedAt       time.Time
}

// IncomingPeeringRequest is a peering a partner asked this instance for.
// ID is chosen by the partner and only used for correlation.
type IncomingPeeringRequest struct {
	ID                     string
	Name                   string
	PartnerUURUHost        string
	PartnerIAXHost         string
	PartnerExtensionLength int
	Secret                 string
	Codec                  string
	CreatedAt              time.Time
}
