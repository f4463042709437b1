package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/uuru/uuru/internal/database/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "uuru.db")); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	tables := []string{
		"schema_migrations", "users", "extensions", "extension_media",
		"temporary_extensions", "peers", "outgoing_peering_requests",
		"incoming_peering_requests",
	}
	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}

	var migrationCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&migrationCount); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if migrationCount != 1 {
		t.Errorf("migration count = %d, want 1", migrationCount)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		db, err := Open(dir)
		if err != nil {
			t.Fatalf("Open() #%d error: %v", i, err)
		}
		db.Close()
	}
}

func TestExtensionRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	users := NewUserRepository(db)
	owner := &models.User{Username: "alice", PasswordHash: "x"}
	if err := users.Create(ctx, owner); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	lat := int64(525200000)
	repo := NewExtensionRepository(db)
	ext := &models.Extension{
		Extension:   "1000",
		Name:        "Alice Desk",
		Lat:         &lat,
		Public:      true,
		Type:        "SIP",
		Token:       "0199012345678",
		Password:    "12345678901234567890",
		UserID:      &owner.ID,
		ExtraFields: map[string]string{"mac": "aa-bb-cc-dd-ee-ff"},
	}
	if err := repo.Create(ctx, ext); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.Get(ctx, "1000")
	if err != nil || got == nil {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if got.Lat == nil || *got.Lat != lat || got.Lon != nil {
		t.Errorf("geo = %v/%v", got.Lat, got.Lon)
	}
	if !got.Public || got.ExtraField("mac") != "aa-bb-cc-dd-ee-ff" || !got.OwnedBy(owner) {
		t.Errorf("unexpected extension: %+v", got)
	}
	if deg := got.LatDegrees(); deg == nil || deg.String() != "52.52" {
		t.Errorf("LatDegrees() = %v, want 52.52", deg)
	}

	err = repo.Create(ctx, &models.Extension{Extension: "1000", Name: "dup", Type: "SIP"})
	if !IsUniqueViolation(err) {
		t.Fatalf("duplicate Create() error = %v, want unique violation", err)
	}

	missing, err := repo.Get(ctx, "9999")
	if err != nil || missing != nil {
		t.Fatalf("Get(missing) = %v, %v", missing, err)
	}

	byMAC, err := repo.GetByExtraField(ctx, "mac", "aa-bb-cc-dd-ee-ff")
	if err != nil || byMAC == nil || byMAC.Extension != "1000" {
		t.Fatalf("GetByExtraField() = %v, %v", byMAC, err)
	}
	byToken, err := repo.GetByToken(ctx, "0199012345678")
	if err != nil || byToken == nil {
		t.Fatalf("GetByToken() = %v, %v", byToken, err)
	}
	if none, _ := repo.GetByToken(ctx, ""); none != nil {
		t.Errorf("GetByToken(\"\") = %+v, want nil", none)
	}

	many, err := repo.GetMany(ctx, []string{"1000", "9999"})
	if err != nil || len(many) != 1 {
		t.Fatalf("GetMany() = %v, %v", many, err)
	}

	got.Name = "Alice Phone"
	got.Public = false
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if res, _ := repo.Search(ctx, "Phone", true); len(res) != 0 {
		t.Errorf("public search found private extension")
	}
	if res, _ := repo.Search(ctx, "Phone", false); len(res) != 1 {
		t.Errorf("search found %d extensions, want 1", len(res))
	}
	if counts, err := repo.CountByType(ctx); err != nil || counts["SIP"] != 1 {
		t.Errorf("CountByType() = %v, %v", counts, err)
	}

	if err := repo.Delete(ctx, "1000"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if own, _ := repo.ListByUser(ctx, owner.ID); len(own) != 0 {
		t.Errorf("ListByUser() after delete = %v", own)
	}
}

func TestMediaRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := NewExtensionRepository(db).Create(ctx, &models.Extension{Extension: "1000", Name: "a", Type: "SIP"}); err != nil {
		t.Fatalf("creating extension: %v", err)
	}

	repo := NewMediaRepository(db)
	m := &models.ExtensionMedia{Extension: "1000", MediaKey: "moh", ContentType: "audio/mpeg", Data: []byte("ID3")}
	if err := repo.Put(ctx, m); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	m.Data = []byte("ID3v2")
	if err := repo.Put(ctx, m); err != nil {
		t.Fatalf("second Put() error: %v", err)
	}

	got, err := repo.Get(ctx, "1000", "moh")
	if err != nil || got == nil || string(got.Data) != "ID3v2" {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if ok, _ := repo.Assigned(ctx, "1000", "moh"); !ok {
		t.Error("Assigned() = false, want true")
	}
	if err := repo.Delete(ctx, "1000", "moh"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if ok, _ := repo.Assigned(ctx, "1000", "moh"); ok {
		t.Error("Assigned() after delete = true")
	}
}

func TestPeerExistsNameOrHost(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	repo := NewPeerRepository(db)
	p := &models.Peer{
		ID: "p1", Name: "north", Secret: "s", Prefix: "8", PartnerExtensionLength: 4,
		Codec: "g722", PartnerIAXHost: "iax.north", PartnerUURUHost: "north:8000",
	}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	tests := []struct {
		name, host string
		want       bool
	}{
		{"north", "other:8000", true},
		{"south", "north:8000", true},
		{"south", "south:8000", false},
	}
	for _, tt := range tests {
		got, err := repo.ExistsNameOrHost(ctx, tt.name, tt.host)
		if err != nil {
			t.Fatalf("ExistsNameOrHost() error: %v", err)
		}
		if got != tt.want {
			t.Errorf("ExistsNameOrHost(%q, %q) = %v, want %v", tt.name, tt.host, got, tt.want)
		}
	}

	if found, _ := repo.GetByName(ctx, "north"); found == nil || found.PartnerUURUHost == "" {
		t.Errorf("GetByName(north) = %+v", found)
	}
	if found, _ := repo.GetByName(ctx, "south"); found != nil {
		t.Error("GetByName matched an unknown peer")
	}
	if n, err := repo.Count(ctx); err != nil || n != 1 {
		t.Errorf("Count() = %d, %v", n, err)
	}
}
