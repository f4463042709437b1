package federation

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/asterisk"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/dialplan"
)

var admin = &models.User{ID: 1, Username: "root", Role: models.RoleAdmin}

type instance struct {
	svc *Service
	db  *database.DB
	pbx *asterisk.Store
	url string
}

// newInstance starts a federation API backed by its own stores.
func newInstance(t *testing.T) *instance {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	pbxDB, err := sql.Open("sqlite", "file:"+t.TempDir()+"/asterisk.db?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	pbxDB.SetMaxOpenConns(1)
	pbx := asterisk.New(pbxDB, asterisk.DriverSQLite, "http://127.0.0.1/api/v1")
	t.Cleanup(func() { pbx.Close() })
	if err := pbx.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}

	r := chi.NewRouter()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	svc := NewService(db, pbx, NewClient(), Identity{
		UURUHost:        srv.URL,
		IAXHost:         "iax." + srv.Listener.Addr().String(),
		ExtensionLength: 4,
	})
	r.Route("/api/v1/federation", svc.PartnerRoutes)
	return &instance{svc: svc, db: db, pbx: pbx, url: srv.URL}
}

func (in *instance) counts(t *testing.T) (outgoing, incoming, peers int) {
	t.Helper()
	ctx := context.Background()
	o, err := in.svc.ListOutgoingRequests(ctx, admin)
	if err != nil {
		t.Fatalf("ListOutgoingRequests() error: %v", err)
	}
	i, err := in.svc.ListIncomingRequests(ctx, admin)
	if err != nil {
		t.Fatalf("ListIncomingRequests() error: %v", err)
	}
	p, err := in.svc.ListPeers(ctx, admin)
	if err != nil {
		t.Fatalf("ListPeers() error: %v", err)
	}
	return len(o), len(i), len(p)
}

func TestPeeringLifecycle(t *testing.T) {
	a, b := newInstance(t), newInstance(t)
	ctx := context.Background()

	req, err := a.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "ab", PartnerUURUHost: b.url, Prefix: "8"})
	if err != nil {
		t.Fatalf("CreateOutgoingRequest() error: %v", err)
	}
	if req.Codec != "g722" || len(req.Secret) != 32 {
		t.Errorf("request = %+v", req)
	}
	incoming, _ := b.svc.ListIncomingRequests(ctx, admin)
	if len(incoming) != 1 || incoming[0].ID != req.ID || incoming[0].PartnerUURUHost != a.url {
		t.Fatalf("incoming at b = %+v", incoming)
	}

	peerB, err := b.svc.AcceptIncomingRequest(ctx, admin, req.ID, "9")
	if err != nil {
		t.Fatalf("AcceptIncomingRequest() error: %v", err)
	}
	if o, i, p := a.counts(t); o != 0 || i != 0 || p != 1 {
		t.Errorf("a: outgoing=%d incoming=%d peers=%d", o, i, p)
	}
	if o, i, p := b.counts(t); o != 0 || i != 0 || p != 1 {
		t.Errorf("b: outgoing=%d incoming=%d peers=%d", o, i, p)
	}

	plan, err := b.pbx.LoadDialplan(ctx, nil, "_9XXXX", dialplan.DefaultContext)
	if err != nil || plan.Len() != 1 {
		t.Fatalf("b dialplan = %v, %v", plan, err)
	}
	if app, data := plan.Entries[1].Assemble(); app != "Dial" || data != "IAX2/ab/${EXTEN:-4}" {
		t.Errorf("b dial = %s(%s)", app, data)
	}
	peersA, _ := a.svc.ListPeers(ctx, admin)
	if peersA[0].Prefix != "8" || peersA[0].PartnerUURUHost != b.url || peersA[0].Secret != peerB.Secret {
		t.Errorf("peer at a = %+v", peersA[0])
	}
	if plan, _ := a.pbx.LoadDialplan(ctx, nil, "_8XXXX", dialplan.DefaultContext); plan.Len() != 1 {
		t.Error("a has no dialplan for its peer")
	}

	if err := a.svc.TeardownPeer(ctx, admin, peersA[0].ID, false); err != nil {
		t.Fatalf("TeardownPeer() error: %v", err)
	}
	if _, _, p := a.counts(t); p != 0 {
		t.Error("peer survived teardown at a")
	}
	if _, _, p := b.counts(t); p != 0 {
		t.Error("peer survived teardown at b")
	}
	if plan, _ := b.pbx.LoadDialplan(ctx, nil, "_9XXXX", dialplan.DefaultContext); plan.Len() != 0 {
		t.Error("b kept the trunk dialplan")
	}
}

func TestSecretEnforcement(t *testing.T) {
	a, b := newInstance(t), newInstance(t)
	ctx := context.Background()

	req, err := a.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "ab", PartnerUURUHost: b.url, Prefix: "8"})
	if err != nil {
		t.Fatalf("CreateOutgoingRequest() error: %v", err)
	}

	if err := b.svc.RevokeIncomingRequest(ctx, req.ID, "wrong"); err != ErrInvalidSecret {
		t.Fatalf("RevokeIncomingRequest(wrong) = %v, want ErrInvalidSecret", err)
	}
	length := 4
	_, err = a.svc.AcceptOutgoingRequest(ctx, req.ID, OutgoingStatus{
		Accept: true, Secret: "wrong", ExtensionLength: &length,
		PartnerIAXHost: "iax.b", PartnerUURUHost: b.url,
	})
	if err != ErrInvalidSecret {
		t.Fatalf("AcceptOutgoingRequest(wrong) = %v, want ErrInvalidSecret", err)
	}
	if err := a.svc.RequestPeerTeardown(ctx, "ab", "wrong"); err != ErrUnknownPeer {
		t.Fatalf("RequestPeerTeardown(wrong) = %v, want ErrUnknownPeer", err)
	}

	if o, _, p := a.counts(t); o != 1 || p != 0 {
		t.Errorf("a: outgoing=%d peers=%d", o, p)
	}
	if _, i, p := b.counts(t); i != 1 || p != 0 {
		t.Errorf("b: incoming=%d peers=%d", i, p)
	}

	// Revoking with the right secret goes through the partner API.
	if err := a.svc.RevokeOutgoingRequest(ctx, admin, req.ID, false); err != nil {
		t.Fatalf("RevokeOutgoingRequest() error: %v", err)
	}
	if o, _, _ := a.counts(t); o != 0 {
		t.Error("outgoing request survived revoke")
	}
	if _, i, _ := b.counts(t); i != 0 {
		t.Error("incoming request survived revoke")
	}
}

func TestDecline(t *testing.T) {
	a, b := newInstance(t), newInstance(t)
	ctx := context.Background()

	req, err := a.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "ab", PartnerUURUHost: b.url, Prefix: "8", Codec: "alaw"})
	if err != nil {
		t.Fatalf("CreateOutgoingRequest() error: %v", err)
	}
	if err := b.svc.DeclineIncomingRequest(ctx, admin, req.ID, false); err != nil {
		t.Fatalf("DeclineIncomingRequest() error: %v", err)
	}
	if o, _, p := a.counts(t); o != 0 || p != 0 {
		t.Errorf("a: outgoing=%d peers=%d", o, p)
	}
	if _, i, _ := b.counts(t); i != 0 {
		t.Error("incoming request survived decline")
	}
}

func TestCreateOutgoingRequestRejections(t *testing.T) {
	a, b := newInstance(t), newInstance(t)
	ctx := context.Background()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer failing.Close()

	_, err := a.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "x", PartnerUURUHost: failing.URL, Prefix: "8"})
	if !apperr.Is(err, apperr.KindNotAllowed) {
		t.Fatalf("partner failure = %v, want not allowed", err)
	}
	if o, _, _ := a.counts(t); o != 0 {
		t.Error("request persisted after partner failure")
	}

	user := &models.User{ID: 2, Role: models.RoleUser}
	if _, err := a.svc.CreateOutgoingRequest(ctx, user, OutgoingInput{Name: "ab", PartnerUURUHost: b.url, Prefix: "8"}); err != ErrAdminOnly {
		t.Errorf("non-admin = %v, want ErrAdminOnly", err)
	}
	if _, err := a.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "ab", PartnerUURUHost: b.url, Prefix: "8a"}); !apperr.Is(err, apperr.KindInvalid) {
		t.Errorf("bad prefix = %v, want invalid", err)
	}
	if _, err := a.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "ab", PartnerUURUHost: b.url, Prefix: "8", Codec: "opus"}); !apperr.Is(err, apperr.KindInvalid) {
		t.Errorf("bad codec = %v, want invalid", err)
	}

	if _, err := a.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "ab", PartnerUURUHost: b.url, Prefix: "8"}); err != nil {
		t.Fatalf("CreateOutgoingRequest() error: %v", err)
	}
	_, err = a.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "other", PartnerUURUHost: b.url, Prefix: "7"})
	if apperr.Message(err) != "Peering with this instance is already requested!" {
		t.Errorf("duplicate host = %v", err)
	}
}

func TestPrefixMustBeUnique(t *testing.T) {
	a, b, c, d := newInstance(t), newInstance(t), newInstance(t), newInstance(t)
	ctx := context.Background()

	req, err := a.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "ab", PartnerUURUHost: b.url, Prefix: "8"})
	if err != nil {
		t.Fatalf("CreateOutgoingRequest() error: %v", err)
	}
	if _, err := b.svc.AcceptIncomingRequest(ctx, admin, req.ID, "9"); err != nil {
		t.Fatalf("AcceptIncomingRequest() error: %v", err)
	}

	// a already routes 8 to b.
	if _, err := a.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "ac", PartnerUURUHost: c.url, Prefix: "8"}); err != ErrPrefixInUse {
		t.Fatalf("reused peer prefix = %v, want ErrPrefixInUse", err)
	}
	if _, i, _ := c.counts(t); i != 0 {
		t.Error("partner contacted despite a taken prefix")
	}

	// b has a pending request using 6.
	if _, err := b.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "bd", PartnerUURUHost: d.url, Prefix: "6"}); err != nil {
		t.Fatalf("CreateOutgoingRequest() error: %v", err)
	}
	fromC, err := c.svc.CreateOutgoingRequest(ctx, admin, OutgoingInput{Name: "cb", PartnerUURUHost: b.url, Prefix: "5"})
	if err != nil {
		t.Fatalf("CreateOutgoingRequest() error: %v", err)
	}
	for _, prefix := range []string{"9", "6"} {
		if _, err := b.svc.AcceptIncomingRequest(ctx, admin, fromC.ID, prefix); !apperr.Is(err, apperr.KindConflict) {
			t.Errorf("AcceptIncomingRequest(prefix %s) = %v, want conflict", prefix, err)
		}
	}
	if o, _, p := c.counts(t); o != 1 || p != 0 {
		t.Errorf("c: outgoing=%d peers=%d, want the request still pending", o, p)
	}
	first := loadPlan(t, b, "_9XXXX")
	if first.Len() != 1 {
		t.Fatal("route of the first peer lost")
	}
	if app, data := first.Entries[1].Assemble(); app != "Dial" || data != "IAX2/ab/${EXTEN:-4}" {
		t.Errorf("route of the first peer = %s(%s)", app, data)
	}

	if _, err := b.svc.AcceptIncomingRequest(ctx, admin, fromC.ID, "7"); err != nil {
		t.Fatalf("AcceptIncomingRequest(free prefix) error: %v", err)
	}
	if _, _, p := b.counts(t); p != 2 {
		t.Errorf("b peers = %d, want 2", p)
	}
}

func loadPlan(t *testing.T, in *instance, ext string) *dialplan.Dialplan {
	t.Helper()
	p, err := in.pbx.LoadDialplan(context.Background(), nil, ext, dialplan.DefaultContext)
	if err != nil {
		t.Fatalf("LoadDialplan(%s) error: %v", ext, err)
	}
	return p
}

func TestClientWireFormat(t *testing.T) {
	type call struct {
		method, path, query string
		body                map[string]any
	}
	var got []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			json.Unmarshal(raw, &c.body)
		}
		got = append(got, c)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	ctx := context.Background()
	if err := c.RevokeIncomingRequest(ctx, srv.URL+"/", "id-1", "s e"); err != nil {
		t.Fatalf("RevokeIncomingRequest() error: %v", err)
	}
	if err := c.SetOutgoingStatus(ctx, srv.URL, "id-1", OutgoingStatus{Secret: "s"}); err != nil {
		t.Fatalf("SetOutgoingStatus() error: %v", err)
	}
	if err := c.RequestTeardown(ctx, srv.URL, TeardownRequest{Name: "ab", Secret: "s"}); err != nil {
		t.Fatalf("RequestTeardown() error: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("calls = %d, want 3", len(got))
	}
	if got[0].method != http.MethodDelete || got[0].path != "/api/v1/federation/incoming/request/id-1" || got[0].query != "secret=s+e" {
		t.Errorf("revoke call = %+v", got[0])
	}
	if got[1].method != http.MethodPut || got[1].body["accept"] != false {
		t.Errorf("status call = %+v", got[1])
	}
	if _, ok := got[1].body["extension_length"]; ok {
		t.Error("decline sent extension_length")
	}
	if got[2].path != "/api/v1/federation/peer/teardown" || got[2].body["name"] != "ab" {
		t.Errorf("teardown call = %+v", got[2])
	}
}

func TestBaseURL(t *testing.T) {
	tests := map[string]string{
		"uuru.example:8000":     "http://uuru.example:8000/api/v1/federation",
		"https://uuru.example/": "https://uuru.example/api/v1/federation",
		"http://10.0.0.1:8000":  "http://10.0.0.1:8000/api/v1/federation",
	}
	for in, want := range tests {
		if got := BaseURL(in); got != want {
			t.Errorf("BaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
