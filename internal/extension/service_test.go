package extension

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/asterisk"
	"github.com/uuru/uuru/internal/config"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dialplan"
	"github.com/uuru/uuru/internal/flavor"
	"github.com/uuru/uuru/internal/flavors"
)

type fixture struct {
	svc   *Service
	db    *database.DB
	pbx   *asterisk.Store
	admin *models.User
	alice *models.User
	bob   *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pbxDB, err := sql.Open("sqlite", "file:"+t.TempDir()+"/asterisk.db")
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	pbxDB.SetMaxOpenConns(1)
	pbx := asterisk.New(pbxDB, asterisk.DriverSQLite, "http://127.0.0.1:8000/api/v1")
	t.Cleanup(func() { pbx.Close() })
	if err := pbx.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}

	cfg := &config.Config{
		WebHost:                 "127.0.0.1:8000",
		AsteriskHost:            "pbx.example",
		ExtensionDigits:         4,
		ExtensionPasswordLength: 20,
		ExtensionTokenPrefix:    "01990",
		ExtensionTokenLength:    8,
		ReservedExtensions:      []config.Reservation{{Low: 1100, High: 1199}, {Low: 5000, High: 5000}},
		ReservedNamePrefixes:    []string{"Admin"},
		EnableWebSIP:            true,
		WebSIPExtensionRange:    config.Reservation{Low: 9900, High: 9999},
		Codecs:                  map[string]string{"Snom 300": "alaw"},
	}
	deps := flavors.Deps{Config: cfg, DB: db, PBX: pbx}
	reg, err := flavor.NewRegistry(false,
		flavors.NewSIP(deps),
		flavors.NewSnom(deps),
		flavors.NewIoT(deps),
		flavors.NewCallgroup(deps),
		flavors.NewConference(deps),
		flavors.NewDummy(),
	)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	f := &fixture{svc: NewService(cfg, db, pbx, reg), db: db, pbx: pbx}
	users := database.NewUserRepository(db)
	f.admin = &models.User{Username: "root", PasswordHash: "x", Role: models.RoleAdmin}
	f.alice = &models.User{Username: "alice", PasswordHash: "x", Role: models.RoleUser}
	f.bob = &models.User{Username: "bob", PasswordHash: "x", Role: models.RoleUser}
	for _, u := range []*models.User{f.admin, f.alice, f.bob} {
		if err := users.Create(ctx, u); err != nil {
			t.Fatalf("creating user %s: %v", u.Username, err)
		}
	}
	return f
}

func (f *fixture) endpoint(t *testing.T, ext string) *asterisk.Endpoint {
	t.Helper()
	ep, err := f.pbx.Endpoint(context.Background(), nil, ext)
	if err != nil {
		t.Fatalf("Endpoint() error: %v", err)
	}
	return ep
}

func (f *fixture) plan(t *testing.T, ext string) *dialplan.Dialplan {
	t.Helper()
	plan, err := f.pbx.LoadDialplan(context.Background(), nil, ext, dialplan.DefaultContext)
	if err != nil {
		t.Fatalf("LoadDialplan() error: %v", err)
	}
	return plan
}

func TestCreateSIPExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ext, err := f.svc.Create(ctx, f.alice, CreateInput{Extension: "1000", Name: "Alice", Type: "SIP", Public: true})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if len(ext.Password) != 20 || !strings.HasPrefix(ext.Token, "01990") || len(ext.Token) != 13 {
		t.Errorf("credentials = %q / %q", ext.Password, ext.Token)
	}
	if ext.UserID == nil || *ext.UserID != f.alice.ID {
		t.Errorf("owner = %v, want %d", ext.UserID, f.alice.ID)
	}

	ep := f.endpoint(t, "1000")
	if ep == nil || ep.Allow != "g722" || ep.CallerID != "Alice <1000>" {
		t.Errorf("endpoint = %+v", ep)
	}
	if f.plan(t, "1000").Len() != 1 {
		t.Error("no dialplan written")
	}

	_, err = f.svc.Create(ctx, f.bob, CreateInput{Extension: "1000", Name: "Bob", Type: "SIP"})
	if err != ErrInUse {
		t.Fatalf("duplicate Create() = %v, want ErrInUse", err)
	}
	if ep := f.endpoint(t, "1000"); ep.CallerID != "Alice <1000>" {
		t.Errorf("endpoint changed by failed create: %+v", ep)
	}
}

func TestCreateUsesConfiguredCodec(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.admin, CreateInput{Extension: "2000", Name: "Desk", Type: "Snom 300",
		ExtraFields: map[string]string{"mac": "00:04:13:AA:BB:CC"}})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if ep := f.endpoint(t, "2000"); ep.Allow != "alaw" {
		t.Errorf("allow = %q, want alaw", ep.Allow)
	}

	ext, err := f.svc.Create(ctx, f.admin, CreateInput{Extension: "2001", Name: "Override", Type: "SIP", Codec: "ulaw"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if ep := f.endpoint(t, "2001"); ep.Allow != "ulaw" || ext.Codec != "ulaw" {
		t.Errorf("allow = %q, want ulaw", ep.Allow)
	}
}

func TestUniqueExtraFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snom := func(ext, mac string) (*models.Extension, error) {
		return f.svc.Create(ctx, f.admin, CreateInput{Extension: ext, Name: "Desk " + ext, Type: "Snom 300",
			ExtraFields: map[string]string{"mac": mac}})
	}

	if _, err := snom("2000", "00:04:13:AA:BB:CC"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := snom("2001", "000413aabbcc"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("Create() with a taken mac = %v, want conflict", err)
	}
	if ext, _ := database.NewExtensionRepository(f.db).Get(ctx, "2001"); ext != nil {
		t.Error("extension with a duplicate mac was stored")
	}
	if f.endpoint(t, "2001") != nil {
		t.Error("endpoint created for a duplicate mac")
	}

	// Keeping its own value is fine.
	name := "Front desk"
	if _, err := f.svc.Update(ctx, f.admin, "2000", UpdateInput{Name: &name,
		ExtraFields: map[string]string{"mac": "00-04-13-aa-bb-cc"}}); err != nil {
		t.Fatalf("Update() keeping mac error: %v", err)
	}

	if _, err := snom("2001", "00-04-13-aa-bb-cd"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	_, err := f.svc.Update(ctx, f.admin, "2001", UpdateInput{ExtraFields: map[string]string{"mac": "00-04-13-aa-bb-cc"}})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("Update() to a taken mac = %v, want conflict", err)
	}
	ext, err := database.NewExtensionRepository(f.db).Get(ctx, "2001")
	if err != nil || ext == nil {
		t.Fatalf("Get() = %v, %v", ext, err)
	}
	if ext.ExtraFields["mac"] != "00-04-13-aa-bb-cd" {
		t.Errorf("mac = %q, want the old value", ext.ExtraFields["mac"])
	}

	iot := CreateInput{Extension: "2100", Name: "Sensor", Type: "IoT", ExtraFields: map[string]string{"secret": "sensor-secret"}}
	if _, err := f.svc.Create(ctx, f.admin, iot); err != nil {
		t.Fatalf("Create(IoT) error: %v", err)
	}
	iot.Extension = "2101"
	if _, err := f.svc.Create(ctx, f.admin, iot); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("Create(IoT) with a taken secret = %v, want conflict", err)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lat := decimal.RequireFromString("91")
	lon := decimal.RequireFromString("13.4")

	tests := []struct {
		name  string
		actor *models.User
		in    CreateInput
		kind  apperr.Kind
	}{
		{"short number", f.alice, CreateInput{Extension: "100", Name: "x", Type: "SIP"}, apperr.KindInvalid},
		{"letters", f.alice, CreateInput{Extension: "10a0", Name: "x", Type: "SIP"}, apperr.KindInvalid},
		{"unknown type", f.alice, CreateInput{Extension: "1000", Name: "x", Type: "Fax"}, apperr.KindInvalid},
		{"special type", f.alice, CreateInput{Extension: "1000", Name: "x", Type: "Conference"}, apperr.KindNotAllowed},
		{"reserved range", f.alice, CreateInput{Extension: "1150", Name: "x", Type: "SIP"}, apperr.KindNotAllowed},
		{"reserved single", f.alice, CreateInput{Extension: "5000", Name: "x", Type: "SIP"}, apperr.KindNotAllowed},
		{"reserved name", f.alice, CreateInput{Extension: "1000", Name: "Admin Desk", Type: "SIP"}, apperr.KindNotAllowed},
		{"websip range", f.admin, CreateInput{Extension: "9950", Name: "x", Type: "SIP"}, apperr.KindNotAllowed},
		{"empty name", f.alice, CreateInput{Extension: "1000", Name: " ", Type: "SIP"}, apperr.KindInvalid},
		{"long name", f.alice, CreateInput{Extension: "1000", Name: strings.Repeat("n", 41), Type: "SIP"}, apperr.KindInvalid},
		{"lat range", f.alice, CreateInput{Extension: "1000", Name: "x", Type: "SIP", Lat: &lat, Lon: &lon}, apperr.KindInvalid},
		{"lat alone", f.alice, CreateInput{Extension: "1000", Name: "x", Type: "SIP", Lon: &lon}, apperr.KindInvalid},
		{"unknown field", f.alice, CreateInput{Extension: "1000", Name: "x", Type: "SIP", ExtraFields: map[string]string{"x": "y"}}, apperr.KindInvalid},
		{"bad codec", f.alice, CreateInput{Extension: "1000", Name: "x", Type: "SIP", Codec: "opus"}, apperr.KindInvalid},
		{"anonymous", nil, CreateInput{Extension: "1000", Name: "x", Type: "SIP"}, apperr.KindNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.actor, tt.in)
			if err == nil || apperr.KindOf(err) != tt.kind {
				t.Fatalf("Create() error = %v, want kind %v", err, tt.kind)
			}
		})
	}

	for _, ext := range []string{"1150", "5000"} {
		if _, err := f.svc.Create(ctx, f.admin, CreateInput{Extension: ext, Name: "Admin " + ext, Type: "SIP"}); err != nil {
			t.Errorf("admin Create(%s) error: %v", ext, err)
		}
	}
}

func TestCreateStoresLocation(t *testing.T) {
	f := newFixture(t)
	lat := decimal.RequireFromString("52.5200066")
	lon := decimal.RequireFromString("-13.40495")
	ext, err := f.svc.Create(context.Background(), f.alice, CreateInput{
		Extension: "1000", Name: "x", Type: "SIP", Lat: &lat, Lon: &lon, LocationName: "Camp",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if *ext.Lat != 525200066 || *ext.Lon != -134049500 {
		t.Errorf("lat/lon = %d/%d", *ext.Lat, *ext.Lon)
	}
	if !ext.LatDegrees().Equal(lat) {
		t.Errorf("LatDegrees() = %s", ext.LatDegrees())
	}
}

func TestCreateWithoutSIPAccount(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Create(context.Background(), f.admin, CreateInput{Extension: "4000", Name: "Room", Type: "Conference"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if f.endpoint(t, "4000") != nil {
		t.Error("conference got a SIP account")
	}
	if f.plan(t, "4000").Len() != 3 {
		t.Error("conference dialplan missing")
	}
}

func TestHookFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.alice, CreateInput{Extension: "2000", Name: "team", Type: "Callgroup",
		ExtraFields: map[string]string{"participants": "1234"}})
	if !apperr.Is(err, apperr.KindNotAllowed) {
		t.Fatalf("Create() = %v, want not allowed", err)
	}
	if ext, _ := database.NewExtensionRepository(f.db).Get(ctx, "2000"); ext != nil {
		t.Error("extension row survived a failing hook")
	}
}

func TestPBXConflictLeavesNoExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.pbx.CreateSIPAccount(ctx, nil, asterisk.Account{ID: "3000", DisplayName: "stray", Password: "1", Codec: "g722"}); err != nil {
		t.Fatalf("CreateSIPAccount() error: %v", err)
	}

	_, err := f.svc.Create(ctx, f.alice, CreateInput{Extension: "3000", Name: "Carol", Type: "SIP"})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("Create() = %v, want conflict", err)
	}
	ext, err := database.NewExtensionRepository(f.db).Get(ctx, "3000")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ext != nil {
		t.Error("extension row committed although the PBX account failed")
	}
	if ep := f.endpoint(t, "3000"); ep == nil || ep.CallerID != "stray <3000>" {
		t.Errorf("existing endpoint changed: %+v", ep)
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, f.alice, CreateInput{Extension: "1000", Name: "Alice", Type: "SIP"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	name := "Alice B"
	public := true
	ext, err := f.svc.Update(ctx, f.alice, "1000", UpdateInput{Name: &name, Public: &public})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if !ext.Public || ext.Name != name {
		t.Errorf("updated = %+v", ext)
	}
	if ep := f.endpoint(t, "1000"); ep.CallerID != "Alice B <1000>" {
		t.Errorf("callerid = %q", ep.CallerID)
	}

	if _, err := f.svc.Update(ctx, f.bob, "1000", UpdateInput{Name: &name}); err != ErrNotOwner {
		t.Errorf("foreign Update() = %v, want ErrNotOwner", err)
	}
	if _, err := f.svc.Update(ctx, f.admin, "1000", UpdateInput{Name: &name}); err != nil {
		t.Errorf("admin Update() error: %v", err)
	}
	if _, err := f.svc.Update(ctx, f.alice, "1999", UpdateInput{}); err != ErrNotFound {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}

	dummy := "Dummy"
	if _, err := f.svc.Update(ctx, f.admin, "1000", UpdateInput{Type: &dummy}); !apperr.Is(err, apperr.KindInvalid) {
		t.Errorf("type change across SIP policy = %v, want invalid", err)
	}
	reserved := "Admin"
	if _, err := f.svc.Update(ctx, f.alice, "1000", UpdateInput{Name: &reserved}); err != ErrNameTaken {
		t.Errorf("reserved rename = %v, want ErrNameTaken", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, f.alice, CreateInput{Extension: "1000", Name: "Alice", Type: "SIP"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := f.svc.Delete(ctx, f.bob, "1000"); err != ErrNotOwner {
		t.Fatalf("foreign Delete() = %v, want ErrNotOwner", err)
	}
	if err := f.svc.Delete(ctx, f.alice, "1000"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if f.endpoint(t, "1000") != nil {
		t.Error("endpoint survived delete")
	}
	if f.plan(t, "1000").Len() != 0 {
		t.Error("dialplan survived delete")
	}
	if _, err := f.svc.Get(ctx, f.alice, "1000"); err != ErrNotFound {
		t.Errorf("Get() after delete = %v", err)
	}
}

func TestReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, in := range []CreateInput{
		{Extension: "1000", Name: "Alice", Type: "SIP", Public: true},
		{Extension: "1001", Name: "Hidden", Type: "SIP"},
	} {
		if _, err := f.svc.Create(ctx, f.alice, in); err != nil {
			t.Fatalf("Create(%s) error: %v", in.Extension, err)
		}
	}

	own, err := f.svc.ListOwn(ctx, f.alice)
	if err != nil || len(own) != 2 {
		t.Fatalf("ListOwn() = %d, %v", len(own), err)
	}
	if _, err := f.svc.Get(ctx, f.bob, "1001"); !apperr.Is(err, apperr.KindNotAllowed) {
		t.Errorf("foreign Get() = %v", err)
	}

	book, err := f.svc.Phonebook(ctx, f.bob, "", true)
	if err != nil || len(book) != 1 || book[0].Extension != "1000" {
		t.Errorf("public phonebook = %v, %v", book, err)
	}
	if _, err := f.svc.Phonebook(ctx, f.bob, "", false); !apperr.Is(err, apperr.KindNotAllowed) {
		t.Errorf("full phonebook for user = %v", err)
	}
	if all, _ := f.svc.Phonebook(ctx, f.admin, "", false); len(all) != 2 {
		t.Errorf("admin phonebook = %d entries", len(all))
	}

	if online, err := f.svc.Online(ctx, "1000"); err != nil || online {
		t.Errorf("Online() = %v, %v", online, err)
	}
	if _, err := f.svc.Online(ctx, "1999"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Online(missing) = %v", err)
	}
}

func TestMediaFollowsMusicOnHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Create(ctx, f.alice, CreateInput{Extension: "1000", Name: "Alice", Type: "SIP"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	err := f.svc.AssignMedia(ctx, f.alice, "1000", "moh", MediaInput{Name: "song.mp3", ContentType: "audio/wav", Data: []byte("x")})
	if !apperr.Is(err, apperr.KindInvalid) {
		t.Fatalf("wrong content type = %v", err)
	}
	if err := f.svc.AssignMedia(ctx, f.alice, "1000", "ringtone", MediaInput{ContentType: "audio/mpeg", Data: []byte("x")}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("unknown slot = %v", err)
	}

	if err := f.svc.AssignMedia(ctx, f.alice, "1000", "moh", MediaInput{Name: "song.mp3", ContentType: "audio/mpeg", Data: []byte("ID3")}); err != nil {
		t.Fatalf("AssignMedia() error: %v", err)
	}
	dial := f.plan(t, "1000").Entries[1].(dialplan.Dial)
	if p, ok := dial.Option('m'); !ok || *p != "moh_1000" {
		t.Errorf("dial after assign = %+v", dial)
	}
	m, err := f.svc.Media(ctx, "1000", "moh")
	if err != nil || string(m.Data) != "ID3" {
		t.Errorf("Media() = %v, %v", m, err)
	}

	if err := f.svc.RemoveMedia(ctx, f.alice, "1000", "moh"); err != nil {
		t.Fatalf("RemoveMedia() error: %v", err)
	}
	dial = f.plan(t, "1000").Entries[1].(dialplan.Dial)
	if _, ok := dial.Option('m'); ok {
		t.Errorf("dial after remove = %+v", dial)
	}
	if _, err := f.svc.Media(ctx, "1000", "moh"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Media() after remove = %v", err)
	}
}
