package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/rollcall/internal/attendance"
	"github.com/nerrad567/rollcall/internal/audit"
	"github.com/nerrad567/rollcall/internal/directory"
	"github.com/nerrad567/rollcall/internal/dispatch"
	"github.com/nerrad567/rollcall/internal/infrastructure/config"
	"github.com/nerrad567/rollcall/internal/infrastructure/database"
	"github.com/nerrad567/rollcall/internal/infrastructure/logging"
	"github.com/nerrad567/rollcall/internal/reader"
	"github.com/nerrad567/rollcall/internal/scan"
	"github.com/nerrad567/rollcall/migrations"
)

var wsTestConfig = config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

type fakeReader struct {
	mu         sync.Mutex
	state      reader.ConnectionState
	device     string
	connectErr error
	ports      []reader.PortInfo
}

func (f *fakeReader) Stats() reader.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return reader.Stats{State: f.state, Device: f.device, Line: "9600 8N1"}
}

func (f *fakeReader) Detect() reader.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeReader) Connect(_ context.Context, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = reader.StateScanning
	f.device = device
	return nil
}

func (f *fakeReader) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = reader.StateOffline
	return nil
}

func (f *fakeReader) Ports() ([]reader.PortInfo, error) {
	return f.ports, nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	reader  *fakeReader
	store   *directory.SQLiteStore
	cache   *directory.SnapshotCache
	audit   *audit.SQLiteRepository
	modes   []string
}

var ada = directory.PersonRecord{PersonID: "S-1001", DisplayName: "Ada Lovelace", CredentialID: "045A2E92"}

// newTestEnv wires the real scan pipeline over in-memory SQLite.
func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	norm, err := scan.NewNormalizer(config.NormalizerConfig{MinLength: 8, MaxLength: 16})
	if err != nil {
		t.Fatalf("NewNormalizer() error = %v", err)
	}
	store := directory.NewSQLiteStore(db.DB)
	store.SetCredentialRule(norm.Credential)
	if err := store.Upsert(ctx, ada); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	cache := directory.NewSnapshotCache()
	if err := cache.Refresh(ctx, store); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	ledger := attendance.NewSQLiteLedger(db.DB)
	d := dispatch.New(norm, directory.NewResolver(cache, nil, nil, time.Second), attendance.NewMachine(ledger), attendance.ModeCheckIn)

	env := &testEnv{
		reader: &fakeReader{state: reader.StateReady},
		store:  store,
		cache:  cache,
		audit:  audit.NewSQLiteRepository(db.DB),
	}

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:     wsTestConfig,
		Logger: testLogger(),
		Scans:  d,
		Reader: env.reader,
		Ports:  env.reader,
		Ledger: ledger,
		People: store,
		Cache:  cache,
		Audit:  env.audit,
		Health: map[string]HealthChecker{"database": db},
		OnModeChange: func(from, to attendance.Mode) {
			env.modes = append(env.modes, string(from)+"->"+string(to))
		},
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "192.0.2.10:51234"
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("broker unreachable") }

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without scan service should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Health["mqtt"] = failingCheck{}
	})

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := decode[struct {
		Status     string                     `json:"status"`
		Components map[string]ComponentHealth `json:"components"`
	}](t, w)
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Components["mqtt"].Error != "broker unreachable" || body.Components["database"].Status != "ok" {
		t.Errorf("components = %+v", body.Components)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if len(w.Header().Get("X-Request-ID")) != requestIDBytes*2 {
		t.Errorf("generated X-Request-ID = %q", w.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://kiosk.local"}
	})

	tests := []struct {
		origin    string
		wantAllow string
	}{
		{"http://kiosk.local", "http://kiosk.local"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/scans", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("%s: status = %d, want 204", tt.origin, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
			t.Errorf("%s: Allow-Origin = %q, want %q", tt.origin, got, tt.wantAllow)
		}
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodGet, "/api/v1/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSubmitScan_CheckInThenDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/scans", `{"id":"045a2e92"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("first scan status = %d, want 201 (body %s)", w.Code, w.Body)
	}
	out := decode[dispatch.Outcome](t, w)
	if out.Kind != dispatch.KindAccepted || out.Record == nil || out.Record.Type != attendance.TypeCheckIn {
		t.Errorf("outcome = %+v", out)
	}
	if out.Message != "Ada Lovelace checked in" {
		t.Errorf("Message = %q", out.Message)
	}

	w = env.do(t, http.MethodPost, "/api/v1/scans", `{"id":"045A2E92"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("second scan status = %d, want 409", w.Code)
	}
	if out := decode[dispatch.Outcome](t, w); out.Kind != dispatch.KindAlreadyCheckedIn {
		t.Errorf("Kind = %q, want %q", out.Kind, dispatch.KindAlreadyCheckedIn)
	}
}

func TestSubmitScan_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKind dispatch.Kind
	}{
		{"unknown credential", `{"id":"DEADBEEF"}`, http.StatusNotFound, dispatch.KindNotFound},
		{"not hex", `{"id":"hello world"}`, http.StatusUnprocessableEntity, dispatch.KindInvalidFormat},
		{"empty", `{"id":""}`, http.StatusUnprocessableEntity, dispatch.KindInvalidFormat},
	}

	env := newTestEnv(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/scans", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if out := decode[dispatch.Outcome](t, w); out.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", out.Kind, tt.wantKind)
			}
		})
	}
}

func TestSubmitScan_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodPost, "/api/v1/scans", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmitScan_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	})

	for i := range 2 {
		if w := env.do(t, http.MethodPost, "/api/v1/scans", `{"id":"DEADBEEF"}`); w.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited too early", i)
		}
	}

	w := env.do(t, http.MethodPost, "/api/v1/scans", `{"id":"DEADBEEF"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra == "" || ra == "0" {
		t.Errorf("Retry-After = %q", ra)
	}

	// Other routes are not limited.
	if w := env.do(t, http.MethodGet, "/api/v1/mode", ""); w.Code != http.StatusOK {
		t.Errorf("mode status = %d, want 200", w.Code)
	}
}

func TestMode(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/mode", "")
	if got := decode[ModeRequest](t, w).Mode; got != attendance.ModeCheckIn {
		t.Errorf("initial mode = %q, want check-in", got)
	}

	w = env.do(t, http.MethodPut, "/api/v1/mode", `{"mode":"toggle"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", w.Code)
	}
	if got := decode[ModeRequest](t, w).Mode; got != attendance.ModeToggle {
		t.Errorf("mode = %q, want toggle", got)
	}

	// Same mode again is not a change.
	env.do(t, http.MethodPut, "/api/v1/mode", `{"mode":"toggle"}`)

	if w := env.do(t, http.MethodPut, "/api/v1/mode", `{"mode":"sideways"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid mode status = %d, want 400", w.Code)
	}

	if len(env.modes) != 1 || env.modes[0] != "check-in->toggle" {
		t.Errorf("mode callbacks = %v", env.modes)
	}
}

func TestReader_StatusAndLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/reader", "")
	if got := decode[reader.Stats](t, w); got.State != reader.StateReady {
		t.Errorf("state = %v, want ready", got.State)
	}

	w = env.do(t, http.MethodPost, "/api/v1/reader/connect", `{"device":"/dev/ttyUSB0"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("connect status = %d, want 200", w.Code)
	}
	if got := decode[reader.Stats](t, w); got.State != reader.StateScanning || got.Device != "/dev/ttyUSB0" {
		t.Errorf("after connect = %+v", got)
	}

	w = env.do(t, http.MethodPost, "/api/v1/reader/disconnect", "")
	if got := decode[reader.Stats](t, w); got.State != reader.StateOffline {
		t.Errorf("after disconnect state = %v, want offline", got.State)
	}
}

func TestReader_ConnectWithoutBody(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodPost, "/api/v1/reader/connect", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestReader_ConnectErrors(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
	}{
		{reader.ErrAlreadyScanning, http.StatusConflict},
		{reader.ErrNoDevice, http.StatusBadRequest},
		{reader.ErrUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: permission denied", reader.ErrDevice), http.StatusBadGateway},
		{errors.New("weird"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.reader.connectErr = tt.err
			if w := env.do(t, http.MethodPost, "/api/v1/reader/connect", `{}`); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestReader_Ports(t *testing.T) {
	env := newTestEnv(t, nil)
	env.reader.ports = []reader.PortInfo{{Name: "/dev/ttyACM0", USB: true, VID: "1FC9"}}

	w := env.do(t, http.MethodGet, "/api/v1/reader/ports", "")
	body := decode[struct {
		Ports []reader.PortInfo `json:"ports"`
		Count int               `json:"count"`
	}](t, w)
	if body.Count != 1 || body.Ports[0].Name != "/dev/ttyACM0" {
		t.Errorf("ports = %+v", body)
	}
}

func TestOptionalServicesAnswer503(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Reader = nil
		d.Ports = nil
		d.Ledger = nil
		d.People = nil
		d.Audit = nil
	})

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/reader"},
		{http.MethodGet, "/api/v1/reader/ports"},
		{http.MethodPost, "/api/v1/reader/connect"},
		{http.MethodGet, "/api/v1/people/S-1001"},
		{http.MethodGet, "/api/v1/people/S-1001/status"},
		{http.MethodGet, "/api/v1/attendance"},
		{http.MethodGet, "/api/v1/audit"},
	}
	for _, p := range paths {
		if w := env.do(t, p.method, p.path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s status = %d, want 503", p.method, p.path, w.Code)
		}
	}
}

func TestEnrolPerson_ThenScan(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.drainAuditLog(ctx)

	w := env.do(t, http.MethodPut, "/api/v1/people/S-2002",
		`{"display_name":"Grace Hopper","credential_id":"c0ffee00","aliases":["GH-1"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("enrol status = %d, want 200 (body %s)", w.Code, w.Body)
	}
	if p := decode[directory.PersonRecord](t, w); p.CredentialID != "C0FFEE00" {
		t.Errorf("stored credential = %q, want canonical C0FFEE00", p.CredentialID)
	}

	// The cache was refreshed, so the new credential resolves immediately.
	w = env.do(t, http.MethodPost, "/api/v1/scans", `{"id":"C0FFEE00"}`)
	if w.Code != http.StatusCreated {
		t.Errorf("scan after enrol status = %d, want 201", w.Code)
	}

	deadline := time.Now().Add(time.Second)
	for {
		res, err := env.audit.List(context.Background(), audit.Filter{Action: audit.ActionPersonEnrolled})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total == 1 {
			if res.Logs[0].EntityID != "S-2002" {
				t.Errorf("audit entity = %q", res.Logs[0].EntityID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("enrolment not audited")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnrolPerson_SeparatedCredential(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPut, "/api/v1/people/S-2003", `{"display_name":"Alan Turing","credential_id":"c0:ff:ee:01"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("enrol status = %d, want 200 (body %s)", w.Code, w.Body)
	}
	if p := decode[directory.PersonRecord](t, w); p.CredentialID != "C0FFEE01" {
		t.Errorf("stored credential = %q, want C0FFEE01", p.CredentialID)
	}

	w = env.do(t, http.MethodPost, "/api/v1/scans", `{"id":"C0-FF-EE-01"}`)
	if w.Code != http.StatusCreated {
		t.Errorf("scan status = %d, want 201 (body %s)", w.Code, w.Body)
	}
}

type fakeMirror struct {
	mu        sync.Mutex
	published []directory.PersonRecord
	err       error
}

func (m *fakeMirror) Publish(_ context.Context, p directory.PersonRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, p)
	return m.err
}

func TestEnrolPerson_MirrorsToRemote(t *testing.T) {
	tests := []struct {
		name      string
		mirrorErr error
	}{
		{"mirror accepts", nil},
		{"mirror down keeps local enrolment", errors.New("redis: connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mirror := &fakeMirror{err: tt.mirrorErr}
			env := newTestEnv(t, func(d *Deps) { d.Mirror = mirror })

			w := env.do(t, http.MethodPut, "/api/v1/people/S-4004", `{"display_name":"Barbara Liskov","credential_id":"ba:5e:ba:11"}`)
			if w.Code != http.StatusOK {
				t.Fatalf("enrol status = %d, want 200 (body %s)", w.Code, w.Body)
			}

			mirror.mu.Lock()
			published := append([]directory.PersonRecord(nil), mirror.published...)
			mirror.mu.Unlock()
			if len(published) != 1 {
				t.Fatalf("published = %d records, want 1", len(published))
			}
			if published[0].PersonID != "S-4004" || published[0].CredentialID != "BA5EBA11" {
				t.Errorf("published = %+v, want S-4004 with canonical BA5EBA11", published[0])
			}

			// The local directory serves the card either way.
			if w := env.do(t, http.MethodPost, "/api/v1/scans", `{"id":"BA5EBA11"}`); w.Code != http.StatusCreated {
				t.Errorf("scan status = %d, want 201", w.Code)
			}
		})
	}
}

func TestEnrolPerson_NoCredentialNotMirrored(t *testing.T) {
	mirror := &fakeMirror{}
	env := newTestEnv(t, func(d *Deps) { d.Mirror = mirror })

	if w := env.do(t, http.MethodPut, "/api/v1/people/S-5005", `{"display_name":"Visitor"}`); w.Code != http.StatusOK {
		t.Fatalf("enrol status = %d, want 200 (body %s)", w.Code, w.Body)
	}
	if len(mirror.published) != 0 {
		t.Errorf("published = %v, want nothing for a person without a credential", mirror.published)
	}
}

func TestEnrolPerson_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"missing name", `{"credential_id":"AABBCCDD"}`, http.StatusBadRequest},
		{"credential taken", `{"display_name":"Eve","credential_id":"045A2E92"}`, http.StatusConflict},
		{"credential taken with separators", `{"display_name":"Eve","credential_id":"04:5a:2e:92"}`, http.StatusConflict},
		{"credential not hex", `{"display_name":"Eve","credential_id":"visitor"}`, http.StatusBadRequest},
		{"credential too short", `{"display_name":"Eve","credential_id":"04:5a"}`, http.StatusBadRequest},
		{"bad json", `{"display_name":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPut, "/api/v1/people/S-3003", tt.body); w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body)
			}
		})
	}
}

func TestGetPerson(t *testing.T) {
	env := newTestEnv(t, nil)

	if w := env.do(t, http.MethodGet, "/api/v1/people/S-1001", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/people/S-9999", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}
}

func TestPersonStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/people/S-1001/status", "")
	st := decode[PersonStatus](t, w)
	if st.Status != attendance.StatusUnknown || st.Latest != nil {
		t.Errorf("before any scan = %+v", st)
	}
	if st.Person == nil || st.Person.DisplayName != "Ada Lovelace" {
		t.Errorf("Person = %+v", st.Person)
	}

	env.do(t, http.MethodPost, "/api/v1/scans", `{"id":"045A2E92"}`)

	w = env.do(t, http.MethodGet, "/api/v1/people/S-1001/status", "")
	st = decode[PersonStatus](t, w)
	if st.Status != attendance.StatusCheckedIn || st.Latest == nil {
		t.Errorf("after check-in = %+v", st)
	}
}

func TestListAttendance(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		// Toggle so repeated scans alternate.
		d.Scans.SetMode(attendance.ModeToggle) //nolint:errcheck // valid mode
	})

	for range 3 {
		env.do(t, http.MethodPost, "/api/v1/scans", `{"id":"045A2E92"}`)
	}

	w := env.do(t, http.MethodGet, "/api/v1/attendance?person_id=S-1001&limit=2", "")
	body := decode[struct {
		Records []attendance.Record `json:"records"`
		Count   int                 `json:"count"`
	}](t, w)
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	if body.Records[0].Type != attendance.TypeCheckIn || body.Records[1].Type != attendance.TypeCheckOut {
		t.Errorf("newest first = %v, %v", body.Records[0].Type, body.Records[1].Type)
	}

	for _, q := range []string{"limit=abc", "since=yesterday"} {
		if w := env.do(t, http.MethodGet, "/api/v1/attendance?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, w.Code)
		}
	}

	w = env.do(t, http.MethodGet, "/api/v1/attendance?person_id=S-404", "")
	if body := decode[map[string]any](t, w); body["count"] != float64(0) {
		t.Errorf("unknown person = %v", body)
	}
}

func TestListAuditLogs(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, a := range []string{audit.ActionScanRejected, audit.ActionReaderError, audit.ActionScanRejected} {
		if err := env.audit.Create(ctx, &audit.AuditLog{Action: a, EntityType: audit.EntityCredential, Source: "device"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/audit?action=scan_rejected&limit=10", "")
	res := decode[audit.ListResult](t, w)
	if res.Total != 2 || len(res.Logs) != 2 || res.Limit != 10 {
		t.Errorf("result = %+v", res)
	}
}

func TestSystemMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/scans", `{"id":"045A2E92"}`)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	m := decode[SystemMetrics](t, w)
	if m.Scans.Handled != 1 || m.Scans.Mode != attendance.ModeCheckIn {
		t.Errorf("scans = %+v", m.Scans)
	}
	if m.Reader == nil || m.Directory == nil || m.Directory.CachedPeople != 1 {
		t.Errorf("reader = %+v directory = %+v", m.Reader, m.Directory)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime goroutines not reported")
	}
}

func TestPrometheusRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("without handler status = %d, want 404", w.Code)
	}

	env = newTestEnv(t, func(d *Deps) {
		d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "rollcall_up 1\n") //nolint:errcheck // test handler
		})
	})
	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "rollcall_up") {
		t.Errorf("status = %d body = %q", w.Code, w.Body)
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(wsTestConfig, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	subscribed := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"scan.outcome": {}},
	}
	wildcard := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{WSAllChannels: {}},
	}
	other := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"reader.state": {}},
	}
	for _, c := range []*WSClient{subscribed, wildcard, other} {
		hub.Register(c)
	}

	hub.Broadcast("scan.outcome", map[string]any{"kind": "accepted"})

	for name, c := range map[string]*WSClient{"subscribed": subscribed, "wildcard": wildcard} {
		select {
		case msg := <-c.send:
			var wsMsg WSMessage
			if err := json.Unmarshal(msg, &wsMsg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if wsMsg.EventType != "scan.outcome" {
				t.Errorf("%s event_type = %q, want scan.outcome", name, wsMsg.EventType)
			}
		case <-time.After(time.Second):
			t.Errorf("%s: timed out waiting for broadcast", name)
		}
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(wsTestConfig, testLogger())

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestWebSocket_LiveEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?channels=reader.state,scan.outcome"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline

	// Current reader state arrives first.
	var snapshot WSMessage
	if err := ws.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.EventType != "reader.state" {
		t.Errorf("first event = %q, want reader.state", snapshot.EventType)
	}

	env.srv.Hub().Broadcast("scan.outcome", map[string]string{"kind": "accepted"})

	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != "scan.outcome" {
		t.Errorf("event = %+v", event)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong WSMessage
	if err := ws.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
