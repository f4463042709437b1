package asterisk

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dialplan"
)

const testMediaBase = "http://127.0.0.1:8000/api/v1"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/asterisk.db?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	db.SetMaxOpenConns(1)
	s := New(db, DriverSQLite, testMediaBase)
	t.Cleanup(func() { s.Close() })

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}
	return s
}

func TestCreateSIPAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acc := Account{ID: "1000", DisplayName: "Alice", Password: "secretsecret", Codec: "g722", WebSIP: true}
	if err := s.CreateSIPAccount(ctx, nil, acc); err != nil {
		t.Fatalf("CreateSIPAccount() error: %v", err)
	}

	e, err := s.Endpoint(ctx, nil, "1000")
	if err != nil {
		t.Fatalf("Endpoint() error: %v", err)
	}
	if e == nil {
		t.Fatal("Endpoint() = nil, want endpoint")
	}
	if e.Context != dialplan.DefaultContext {
		t.Errorf("Context = %q, want %q", e.Context, dialplan.DefaultContext)
	}
	if e.CallerID != "Alice <1000>" {
		t.Errorf("CallerID = %q, want %q", e.CallerID, "Alice <1000>")
	}
	if e.Allow != "g722" || !e.WebRTC {
		t.Errorf("Allow = %q WebRTC = %v, want g722 true", e.Allow, e.WebRTC)
	}

	err = s.CreateSIPAccount(ctx, nil, acc)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("duplicate CreateSIPAccount() error = %v, want conflict", err)
	}
}

func TestUpdateSIPAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpdateSIPAccount(ctx, nil, Account{ID: "1000", DisplayName: "x"}); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("UpdateSIPAccount() on missing endpoint error = %v, want ErrNoEndpoint", err)
	}

	if err := s.CreateSIPAccount(ctx, nil, Account{ID: "1000", DisplayName: "Alice", Password: "pw", Codec: "g722"}); err != nil {
		t.Fatalf("CreateSIPAccount() error: %v", err)
	}
	if err := s.UpdateSIPAccount(ctx, nil, Account{ID: "1000", DisplayName: "Bob"}); err != nil {
		t.Fatalf("UpdateSIPAccount() error: %v", err)
	}
	e, _ := s.Endpoint(ctx, nil, "1000")
	if e.CallerID != "Bob <1000>" || e.Allow != "g722" {
		t.Errorf("endpoint = %+v, want callerid Bob and unchanged codec", e)
	}
}

func TestDeleteSIPAccountIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateSIPAccount(ctx, nil, Account{ID: "1000", DisplayName: "A", Password: "pw"}); err != nil {
		t.Fatalf("CreateSIPAccount() error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.DeleteSIPAccount(ctx, nil, "1000"); err != nil {
			t.Fatalf("DeleteSIPAccount() #%d error: %v", i, err)
		}
	}
	if e, _ := s.Endpoint(ctx, nil, "1000"); e != nil {
		t.Fatalf("Endpoint() after delete = %+v, want nil", e)
	}
}

func TestSIPAccountRollsBackWithTx(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error: %v", err)
	}
	if err := s.CreateSIPAccount(ctx, tx, Account{ID: "1000", DisplayName: "A", Password: "pw"}); err != nil {
		t.Fatalf("CreateSIPAccount() error: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error: %v", err)
	}
	if e, _ := s.Endpoint(ctx, nil, "1000"); e != nil {
		t.Fatalf("Endpoint() after rollback = %+v, want nil", e)
	}
}

func TestSyncMusicOnHold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exists, err := s.SyncMusicOnHold(ctx, nil, "1000", true)
	if err != nil || !exists {
		t.Fatalf("SyncMusicOnHold(true) = %v, %v", exists, err)
	}
	// A second sync must not insert a duplicate class.
	if _, err := s.SyncMusicOnHold(ctx, nil, "1000", true); err != nil {
		t.Fatalf("repeated SyncMusicOnHold(true) error: %v", err)
	}

	m, err := s.MusicOnHold(ctx, nil, "1000")
	if err != nil || m == nil {
		t.Fatalf("MusicOnHold() = %v, %v", m, err)
	}
	if m.Name != "moh_1000" || m.Mode != "custom" {
		t.Errorf("class = %+v", m)
	}
	wantURL := testMediaBase + "/media/byextension/1000/moh"
	if !strings.HasSuffix(m.Application, wantURL) || !strings.HasPrefix(m.Application, "/usr/bin/mpg123") {
		t.Errorf("Application = %q, want mpg123 streaming %s", m.Application, wantURL)
	}

	exists, err = s.SyncMusicOnHold(ctx, nil, "1000", false)
	if err != nil || exists {
		t.Fatalf("SyncMusicOnHold(false) = %v, %v", exists, err)
	}
	if m, _ := s.MusicOnHold(ctx, nil, "1000"); m != nil {
		t.Fatalf("MusicOnHold() after removal = %+v, want nil", m)
	}
}

func TestIAXPeerLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Peer{
		Name:                   "berlin",
		Secret:                 "s3cret",
		Prefix:                 "8",
		PartnerExtensionLength: 4,
		Codec:                  "g722",
		PartnerIAXHost:         "10.0.0.2",
	}
	if err := s.CreateIAXPeer(ctx, nil, p); err != nil {
		t.Fatalf("CreateIAXPeer() error: %v", err)
	}

	plan, err := s.LoadDialplan(ctx, nil, "_8XXXX", dialplan.DefaultContext)
	if err != nil {
		t.Fatalf("LoadDialplan() error: %v", err)
	}
	d, ok := plan.Entries[1].(dialplan.Dial)
	if !ok {
		t.Fatalf("priority 1 = %T, want Dial", plan.Entries[1])
	}
	if len(d.Devices) != 1 || d.Devices[0] != "IAX2/berlin/${EXTEN:-4}" {
		t.Errorf("Devices = %v", d.Devices)
	}

	wrong := *p
	wrong.Secret = "nope"
	if err := s.DeleteIAXPeer(ctx, nil, &wrong); !errors.Is(err, ErrUnknownIAXPeer) {
		t.Fatalf("DeleteIAXPeer() with wrong secret error = %v, want ErrUnknownIAXPeer", err)
	}

	if err := s.DeleteIAXPeer(ctx, nil, p); err != nil {
		t.Fatalf("DeleteIAXPeer() error: %v", err)
	}
	plan, _ = s.LoadDialplan(ctx, nil, "_8XXXX", dialplan.DefaultContext)
	if plan.Len() != 0 {
		t.Fatalf("dialplan after delete has %d entries", plan.Len())
	}
}

func TestConcurrentStoreDialplan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := dialplan.New("1000", "")
			d.Add(dialplan.Answer{})
			d.Add(dialplan.Dial{Devices: []string{dialplan.DialContacts("1000")}})
			errs <- s.StoreDialplan(ctx, nil, d)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("StoreDialplan() error: %v", err)
		}
	}

	plan, err := s.LoadDialplan(ctx, nil, "1000", "")
	if err != nil {
		t.Fatalf("LoadDialplan() error: %v", err)
	}
	if plan.Len() != 2 {
		t.Fatalf("entries = %d, want 2", plan.Len())
	}
}

func TestContacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Unix()
	for _, c := range []struct {
		id      string
		expires int64
	}{
		{"1000;@a", now + 300},
		{"1000;@b", now - 10},
	} {
		if _, err := s.DB().Exec(
			`INSERT INTO ps_contacts (id, uri, endpoint, expiration_time, user_agent) VALUES ($1, $2, $3, $4, $5)`,
			c.id, "sip:1000@10.0.0.5", "1000", c.expires, "snom",
		); err != nil {
			t.Fatalf("inserting contact: %v", err)
		}
	}

	contacts, err := s.Contacts(ctx, "1000")
	if err != nil {
		t.Fatalf("Contacts() error: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ID != "1000;@a" {
		t.Fatalf("Contacts() = %+v, want only the live contact", contacts)
	}
	if online, _ := s.IsOnline(ctx, "2000"); online {
		t.Error("IsOnline(2000) = true, want false")
	}
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlock()
	if len(k.locks) != 0 {
		t.Fatalf("locks = %d, want 0", len(k.locks))
	}
}
