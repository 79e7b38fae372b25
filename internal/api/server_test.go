package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ridgelink/apgw-core/internal/command"
	"github.com/ridgelink/apgw-core/internal/infrastructure/config"
	"github.com/ridgelink/apgw-core/internal/infrastructure/logging"
	"github.com/ridgelink/apgw-core/internal/inventory"
	"github.com/ridgelink/apgw-core/internal/session"
)

const testSerial = "24f5a207a130"

const testSchema = `
CREATE TABLE devices (
    serial_number   TEXT PRIMARY KEY,
    capabilities    TEXT NOT NULL DEFAULT '{}',
    firmware        TEXT NOT NULL DEFAULT '',
    compatible      TEXT NOT NULL DEFAULT '',
    config_revision INTEGER NOT NULL DEFAULT 0,
    pending_revision INTEGER NOT NULL DEFAULT 0,
    last_seen       TEXT,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);
CREATE TABLE commands (
    uuid              TEXT PRIMARY KEY,
    serial_number     TEXT NOT NULL,
    command           TEXT NOT NULL,
    details           TEXT NOT NULL DEFAULT '{}',
    status            TEXT NOT NULL DEFAULT 'pending',
    submitted_by      TEXT NOT NULL DEFAULT '',
    submitted         TEXT NOT NULL,
    executed          TEXT,
    completed         TEXT,
    results           TEXT,
    error_text        TEXT NOT NULL DEFAULT '',
    execution_time_ms REAL NOT NULL DEFAULT 0
);
CREATE TABLE statistics (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    serial_number TEXT NOT NULL,
    revision      INTEGER NOT NULL DEFAULT 0,
    data          TEXT NOT NULL,
    recorded      TEXT NOT NULL
);
CREATE TABLE healthchecks (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    serial_number TEXT NOT NULL,
    revision      INTEGER NOT NULL DEFAULT 0,
    sanity        INTEGER NOT NULL DEFAULT 0,
    data          TEXT NOT NULL,
    recorded      TEXT NOT NULL
);
`

type fakeTracker struct {
	running map[string]bool
}

func (f *fakeTracker) IsCommandRunning(uuid string) bool { return f.running[uuid] }
func (f *fakeTracker) CommandRunningForDevice(uint64) (string, string, bool) {
	return "", "", false
}
func (f *fakeTracker) OutstandingCount() int { return len(f.running) }

type apiHarness struct {
	server   *Server
	registry *session.Registry
	devices  inventory.Repository
	commands command.Repository
	tracker  *fakeTracker
	ts       *httptest.Server
	token    string
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	h := &apiHarness{
		registry: session.NewRegistry(session.MismatchPolicy{}),
		devices:  inventory.NewSQLiteRepository(db),
		commands: command.NewSQLiteRepository(db),
		tracker:  &fakeTracker{running: make(map[string]bool)},
	}

	srv, err := New(Deps{
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: "test-secret", AccessTokenTTL: 15},
		},
		Logger:   logging.Default(),
		Registry: h.registry,
		Devices:  h.devices,
		Commands: h.commands,
		Tracker:  h.tracker,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.server = srv

	h.ts = httptest.NewServer(srv.buildRouter())
	t.Cleanup(h.ts.Close)
	h.token = h.login(t)

	return h
}

func (h *apiHarness) login(t *testing.T) string {
	t.Helper()
	resp, err := http.Post(h.ts.URL+"/api/v1/auth/login", "application/json",
		bytes.NewBufferString(`{"username":"admin","password":"admin"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}

	var body loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return body.AccessToken
}

func (h *apiHarness) request(t *testing.T, method, path string, body []byte) *http.Response {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		reader = bytes.NewBuffer(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, h.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealthNoAuth(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.ts.URL + "/api/v1/devices")
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRejectsBadToken(t *testing.T) {
	h := newAPIHarness(t)
	h.token = "not-a-token"

	resp := h.request(t, http.MethodGet, "/api/v1/devices", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestListDevices(t *testing.T) {
	h := newAPIHarness(t)

	err := h.devices.Create(context.Background(), &inventory.Device{
		SerialNumber: testSerial,
		Firmware:     "r1.0",
	})
	if err != nil {
		t.Fatalf("seeding device: %v", err)
	}

	resp := h.request(t, http.MethodGet, "/api/v1/devices", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Devices []inventory.Device `json:"devices"`
		Count   int                `json:"count"`
	}
	decodeBody(t, resp, &body)
	if body.Count != 1 || len(body.Devices) != 1 {
		t.Fatalf("count = %d, devices = %d, want 1 each", body.Count, len(body.Devices))
	}
	if body.Devices[0].SerialNumber != testSerial {
		t.Errorf("serial = %q, want %q", body.Devices[0].SerialNumber, testSerial)
	}
}

func TestDeviceStatusLiveSession(t *testing.T) {
	h := newAPIHarness(t)

	serial := session.SerialToInt(testSerial)
	h.registry.StartSession(7)
	if err := h.registry.BindDeviceIdentity(7, serial, nil); err != nil {
		t.Fatalf("binding session: %v", err)
	}
	h.registry.SetConfigRevision(serial, 42)
	h.registry.SetAssociations(serial, 3, 5)

	resp := h.request(t, http.MethodGet, "/api/v1/device/"+testSerial+"/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var status deviceStatus
	decodeBody(t, resp, &status)
	if !status.Connected {
		t.Error("expected connected status")
	}
	if status.ConfigRevision != 42 {
		t.Errorf("revision = %d, want 42", status.ConfigRevision)
	}
	if status.Associations2G != 3 || status.Associations5G != 5 {
		t.Errorf("associations = (%d, %d), want (3, 5)",
			status.Associations2G, status.Associations5G)
	}
}

func TestDeviceStatusDisconnected(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodGet, "/api/v1/device/"+testSerial+"/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var status deviceStatus
	decodeBody(t, resp, &status)
	if status.Connected {
		t.Error("expected disconnected status")
	}
}

func TestSubmitCommandLifecycle(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodPost, "/api/v1/device/"+testSerial+"/command",
		[]byte(`{"command":"reboot","payload":{"when":0}}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", resp.StatusCode)
	}

	var created command.Command
	decodeBody(t, resp, &created)
	if created.UUID == "" {
		t.Fatal("expected generated UUID")
	}
	if created.Status != command.StatusPending {
		t.Errorf("status = %q, want pending", created.Status)
	}
	if created.SubmittedBy != "admin" {
		t.Errorf("submittedBy = %q, want admin", created.SubmittedBy)
	}

	resp = h.request(t, http.MethodGet, "/api/v1/command/"+created.UUID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	resp = h.request(t, http.MethodGet,
		fmt.Sprintf("/api/v1/commands?serialNumber=%s&limit=10", testSerial), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var listed struct {
		Commands []command.Command `json:"commands"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Commands) != 1 {
		t.Fatalf("listed %d commands, want 1", len(listed.Commands))
	}

	resp = h.request(t, http.MethodDelete, "/api/v1/command/"+created.UUID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	resp = h.request(t, http.MethodGet, "/api/v1/command/"+created.UUID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitConfigureRecordsPendingRevision(t *testing.T) {
	h := newAPIHarness(t)

	err := h.devices.Create(context.Background(), &inventory.Device{
		SerialNumber:   testSerial,
		ConfigRevision: 5,
	})
	if err != nil {
		t.Fatalf("seeding device: %v", err)
	}

	resp := h.request(t, http.MethodPost, "/api/v1/device/"+testSerial+"/command",
		[]byte(`{"command":"configure","payload":{"uuid":12,"config":{"uuid":12}}}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", resp.StatusCode)
	}

	device, err := h.devices.Get(context.Background(), testSerial)
	if err != nil {
		t.Fatalf("fetching device: %v", err)
	}
	if device.PendingRevision != 12 {
		t.Errorf("pending revision = %d, want 12", device.PendingRevision)
	}

	// A state report at the pushed revision must resolve the upgrade.
	effective, upgraded, err := h.devices.ResolveUpgrade(context.Background(), testSerial, 12)
	if err != nil {
		t.Fatalf("ResolveUpgrade: %v", err)
	}
	if !upgraded || effective != 12 {
		t.Errorf("ResolveUpgrade = (%d, %v), want (12, true)", effective, upgraded)
	}
}

func TestSubmitConfigureValidation(t *testing.T) {
	h := newAPIHarness(t)

	// Missing revision in the payload.
	err := h.devices.Create(context.Background(), &inventory.Device{SerialNumber: testSerial})
	if err != nil {
		t.Fatalf("seeding device: %v", err)
	}
	resp := h.request(t, http.MethodPost, "/api/v1/device/"+testSerial+"/command",
		[]byte(`{"command":"configure","payload":{}}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing revision status = %d, want 400", resp.StatusCode)
	}

	// Unregistered device.
	resp = h.request(t, http.MethodPost, "/api/v1/device/24f5a207a131/command",
		[]byte(`{"command":"configure","payload":{"uuid":3}}`))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unregistered device status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitCommandValidation(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodPost, "/api/v1/device/bogus/command",
		[]byte(`{"command":"reboot"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid serial status = %d, want 400", resp.StatusCode)
	}

	resp = h.request(t, http.MethodPost, "/api/v1/device/"+testSerial+"/command",
		[]byte(`{"payload":{}}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing command status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteRunningCommandConflict(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodPost, "/api/v1/device/"+testSerial+"/command",
		[]byte(`{"command":"trace"}`))
	var created command.Command
	decodeBody(t, resp, &created)

	h.tracker.running[created.UUID] = true

	resp = h.request(t, http.MethodDelete, "/api/v1/command/"+created.UUID, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("delete in-flight status = %d, want 409", resp.StatusCode)
	}
}

func TestTelemetryLifecycle(t *testing.T) {
	h := newAPIHarness(t)

	serial := session.SerialToInt(testSerial)
	h.registry.StartSession(9)
	if err := h.registry.BindDeviceIdentity(9, serial, nil); err != nil {
		t.Fatalf("binding session: %v", err)
	}

	resp := h.request(t, http.MethodPost, "/api/v1/device/"+testSerial+"/telemetry",
		[]byte(`{"interval":30,"lifetime":600,"stream":true}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Notify telemetryChannelView `json:"notify"`
		Stream telemetryChannelView `json:"stream"`
	}
	decodeBody(t, resp, &body)
	if !body.Stream.Active || body.Stream.Interval != 30 {
		t.Errorf("stream = %+v, want active with interval 30", body.Stream)
	}
	if body.Notify.Active {
		t.Errorf("notify = %+v, want inactive", body.Notify)
	}
	if !h.registry.TelemetryActive(serial, session.ChannelStream) {
		t.Error("expected stream channel active in registry")
	}

	resp = h.request(t, http.MethodPost, "/api/v1/device/"+testSerial+"/telemetry",
		[]byte(`{"interval":0}`))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("stop status = %d, want 204", resp.StatusCode)
	}
	if h.registry.TelemetryActive(serial, session.ChannelStream) {
		t.Error("expected stream channel stopped")
	}
}

func TestTelemetryRequiresLiveSession(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodPost, "/api/v1/device/"+testSerial+"/telemetry",
		[]byte(`{"interval":30}`))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCommandNotFound(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodGet, "/api/v1/command/no-such-uuid", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
