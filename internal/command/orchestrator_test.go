package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ridgelink/apgw-core/internal/session"
)

// mockLink is an in-memory device link capturing sent frames.
type mockLink struct {
	mu        sync.Mutex
	connected map[uint64]bool
	sent      []sentFrame
	failSend  bool
}

type sentFrame struct {
	serialNumber uint64
	payload      []byte
}

func newMockLink() *mockLink {
	return &mockLink{connected: make(map[uint64]bool)}
}

func (m *mockLink) IsConnected(serialNumber uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected[serialNumber]
}

func (m *mockLink) Send(serialNumber uint64, payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend || !m.connected[serialNumber] {
		return false
	}
	m.sent = append(m.sent, sentFrame{serialNumber: serialNumber, payload: payload})
	return true
}

func (m *mockLink) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockLink) lastFrame() (sentFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentFrame{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// mockRepository is an in-memory Repository for orchestrator and scheduler
// tests.
type mockRepository struct {
	mu       sync.Mutex
	commands map[string]*Command
}

func newMockRepository() *mockRepository {
	return &mockRepository{commands: make(map[string]*Command)}
}

func (m *mockRepository) Add(_ context.Context, cmd *Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.commands[cmd.UUID]; exists {
		return ErrCommandExists
	}
	clone := *cmd
	m.commands[cmd.UUID] = &clone
	return nil
}

func (m *mockRepository) Get(_ context.Context, uuid string) (*Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[uuid]
	if !ok {
		return nil, ErrCommandNotFound
	}
	clone := *cmd
	return &clone, nil
}

func (m *mockRepository) Delete(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.commands, uuid)
	return nil
}

func (m *mockRepository) List(_ context.Context, serialNumber string, offset, limit int) ([]Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Command
	for _, cmd := range m.commands {
		if cmd.SerialNumber == serialNumber {
			out = append(out, *cmd)
		}
	}
	return out, nil
}

func (m *mockRepository) ReadyToExecute(_ context.Context, offset, limit int) ([]Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Command
	for _, cmd := range m.commands {
		if cmd.Status == StatusPending {
			out = append(out, *cmd)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepository) setStatus(uuid string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[uuid]
	if !ok {
		return ErrCommandNotFound
	}
	cmd.Status = status
	return nil
}

func (m *mockRepository) MarkExecuted(_ context.Context, uuid string) error {
	return m.setStatus(uuid, StatusExecuted)
}

func (m *mockRepository) MarkExpired(_ context.Context, uuid string) error {
	return m.setStatus(uuid, StatusExpired)
}

func (m *mockRepository) MarkTimedOut(_ context.Context, uuid string) error {
	return m.setStatus(uuid, StatusTimedOut)
}

func (m *mockRepository) Complete(_ context.Context, uuid string, results json.RawMessage, latency time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[uuid]
	if !ok {
		return ErrCommandNotFound
	}
	cmd.Status = StatusCompleted
	cmd.Results = results
	cmd.ExecutionTimeMS = float64(latency.Milliseconds())
	now := time.Now().UTC()
	cmd.Completed = &now
	return nil
}

func (m *mockRepository) SetResult(_ context.Context, uuid string, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[uuid]
	if !ok {
		return ErrCommandNotFound
	}
	cmd.Results = json.RawMessage(result)
	return nil
}

func (m *mockRepository) PurgeExpired(_ context.Context, olderThan time.Time) error {
	return m.purge(StatusExpired, olderThan)
}

func (m *mockRepository) PurgeTimedOut(_ context.Context, olderThan time.Time) error {
	return m.purge(StatusTimedOut, olderThan)
}

func (m *mockRepository) purge(status Status, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uuid, cmd := range m.commands {
		if cmd.Status == status && cmd.Submitted.Before(olderThan) {
			delete(m.commands, uuid)
		}
	}
	return nil
}

func (m *mockRepository) status(t *testing.T, uuid string) Status {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd, ok := m.commands[uuid]
	if !ok {
		t.Fatalf("command %s not found", uuid)
	}
	return cmd.Status
}

const testSerial = "24f5a207a130"

func testSerialInt(t *testing.T) uint64 {
	t.Helper()
	n := session.SerialToInt(testSerial)
	if n == 0 {
		t.Fatal("invalid test serial")
	}
	return n
}

func newTestOrchestrator(t *testing.T, link *mockLink, repo *mockRepository) *Orchestrator {
	t.Helper()
	orch := NewOrchestrator(link, repo, time.Minute, time.Minute)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)
	return orch
}

func TestSubmitTracked(t *testing.T) {
	link := newMockLink()
	repo := newMockRepository()
	serial := testSerialInt(t)
	link.connected[serial] = true

	orch := newTestOrchestrator(t, link, repo)

	repo.Add(context.Background(), &Command{
		UUID:         "cmd-1",
		SerialNumber: testSerial,
		Command:      "reboot",
		Status:       StatusExecuted,
		Submitted:    time.Now().UTC(),
	})

	future, sent, err := orch.Submit(serial, "reboot", json.RawMessage(`{"serial":"24f5a207a130"}`), "cmd-1", false, false)
	if err != nil || !sent {
		t.Fatalf("Submit() = (sent %v, err %v), want sent", sent, err)
	}
	if future == nil {
		t.Fatal("expected a future for tracked submission")
	}

	frame, ok := link.lastFrame()
	if !ok {
		t.Fatal("no frame sent")
	}
	var req Request
	if err := json.Unmarshal(frame.payload, &req); err != nil {
		t.Fatalf("sent frame is not valid JSON: %v", err)
	}
	if req.JSONRPC != JSONRPCVersion {
		t.Errorf("jsonrpc = %q, want %q", req.JSONRPC, JSONRPCVersion)
	}
	if req.Method != "reboot" {
		t.Errorf("method = %q, want reboot", req.Method)
	}
	if req.ID <= NoCorrelationID {
		t.Errorf("rpc id = %d, want > %d", req.ID, NoCorrelationID)
	}

	if !orch.IsCommandRunning("cmd-1") {
		t.Error("command should be tracked after submit")
	}

	orch.HandleResponse(Response{
		SerialNumber: serial,
		ID:           req.ID,
		Payload:      json.RawMessage(`{"status":{"error":0}}`),
	})

	select {
	case payload, ok := <-future:
		if !ok {
			t.Fatal("future closed without a payload")
		}
		if string(payload) != `{"status":{"error":0}}` {
			t.Errorf("unexpected payload: %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for future")
	}

	waitFor(t, func() bool { return !orch.IsCommandRunning("cmd-1") })
	if got := repo.status(t, "cmd-1"); got != StatusCompleted {
		t.Errorf("status = %q, want %q", got, StatusCompleted)
	}
}

func TestSubmitOneWay(t *testing.T) {
	link := newMockLink()
	repo := newMockRepository()
	serial := testSerialInt(t)
	link.connected[serial] = true

	orch := newTestOrchestrator(t, link, repo)

	future, sent, err := orch.Submit(serial, "telemetry", nil, "cmd-ow", true, false)
	if err != nil || !sent {
		t.Fatalf("Submit() = (sent %v, err %v), want sent", sent, err)
	}
	if future != nil {
		t.Error("one-way submission must not return a future")
	}
	if orch.OutstandingCount() != 0 {
		t.Error("one-way submission must not be tracked")
	}

	frame, _ := link.lastFrame()
	var req Request
	if err := json.Unmarshal(frame.payload, &req); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if req.ID != NoCorrelationID {
		t.Errorf("one-way rpc id = %d, want %d", req.ID, NoCorrelationID)
	}
}

func TestSubmitDiskOnly(t *testing.T) {
	link := newMockLink()
	repo := newMockRepository()
	serial := testSerialInt(t)
	link.connected[serial] = true

	orch := newTestOrchestrator(t, link, repo)

	future, sent, err := orch.Submit(serial, "configure", json.RawMessage(`{}`), "cmd-disk", false, true)
	if err != nil || !sent {
		t.Fatalf("Submit() = (sent %v, err %v), want sent", sent, err)
	}
	if future != nil {
		t.Error("disk-only submission must not return a future")
	}
	if !orch.IsCommandRunning("cmd-disk") {
		t.Error("disk-only submission must be tracked for the busy check")
	}

	uuid, name, busy := orch.CommandRunningForDevice(serial)
	if !busy || uuid != "cmd-disk" || name != "configure" {
		t.Errorf("CommandRunningForDevice = (%q, %q, %v)", uuid, name, busy)
	}
}

func TestSubmitDisconnected(t *testing.T) {
	link := newMockLink()
	repo := newMockRepository()
	serial := testSerialInt(t)

	orch := newTestOrchestrator(t, link, repo)

	future, sent, err := orch.Submit(serial, "reboot", nil, "cmd-off", false, false)
	if err != nil {
		t.Fatalf("Submit() error = %v, want nil for a transport failure", err)
	}
	if sent {
		t.Error("send to disconnected device must fail")
	}
	if future != nil {
		t.Error("failed send must not return a future")
	}
	if orch.OutstandingCount() != 0 {
		t.Error("failed send must not be tracked")
	}
}

func TestSubmitUnencodablePayload(t *testing.T) {
	link := newMockLink()
	repo := newMockRepository()
	serial := testSerialInt(t)
	link.connected[serial] = true

	orch := newTestOrchestrator(t, link, repo)

	future, sent, err := orch.Submit(serial, "configure", json.RawMessage(`{invalid json`), "cmd-bad", false, true)
	if !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("Submit() error = %v, want ErrInvalidCommand", err)
	}
	if sent || future != nil {
		t.Errorf("Submit() = (future %v, sent %v), want neither", future, sent)
	}
	if link.sentCount() != 0 {
		t.Error("no frame must be sent for an unencodable payload")
	}
	if orch.OutstandingCount() != 0 {
		t.Error("unencodable submission must not be tracked")
	}
}

func TestResponseSerialMismatchDropped(t *testing.T) {
	link := newMockLink()
	repo := newMockRepository()
	serial := testSerialInt(t)
	link.connected[serial] = true

	orch := newTestOrchestrator(t, link, repo)
	repo.Add(context.Background(), &Command{
		UUID: "cmd-2", SerialNumber: testSerial, Command: "reboot",
		Status: StatusExecuted, Submitted: time.Now().UTC(),
	})

	future, sent, err := orch.Submit(serial, "reboot", nil, "cmd-2", false, false)
	if err != nil || !sent {
		t.Fatalf("Submit() = (sent %v, err %v), want sent", sent, err)
	}

	frame, _ := link.lastFrame()
	var req Request
	json.Unmarshal(frame.payload, &req)

	// Same correlation id, wrong device. Must be discarded.
	orch.HandleResponse(Response{
		SerialNumber: serial + 1,
		ID:           req.ID,
		Payload:      json.RawMessage(`{}`),
	})

	select {
	case <-future:
		t.Fatal("future must not resolve for a mismatched serial")
	case <-time.After(100 * time.Millisecond):
	}
	if !orch.IsCommandRunning("cmd-2") {
		t.Error("entry must survive a mismatched response")
	}
}

func TestResponseUnknownIDIgnored(t *testing.T) {
	link := newMockLink()
	repo := newMockRepository()
	orch := newTestOrchestrator(t, link, repo)

	orch.HandleResponse(Response{SerialNumber: 1, ID: 999, Payload: json.RawMessage(`{}`)})
	orch.HandleResponse(Response{SerialNumber: 1, ID: NoCorrelationID, Payload: json.RawMessage(`{}`)})

	// Nothing to assert beyond "no panic, nothing tracked".
	waitFor(t, func() bool { return orch.OutstandingCount() == 0 })
}

func TestJanitorEvictsStaleEntries(t *testing.T) {
	link := newMockLink()
	repo := newMockRepository()
	serial := testSerialInt(t)
	link.connected[serial] = true

	orch := NewOrchestrator(link, repo, 50*time.Millisecond, time.Minute)
	orch.Start(context.Background())
	defer orch.Stop()

	repo.Add(context.Background(), &Command{
		UUID: "cmd-stale", SerialNumber: testSerial, Command: "reboot",
		Status: StatusExecuted, Submitted: time.Now().UTC(),
	})

	future, sent, err := orch.Submit(serial, "reboot", nil, "cmd-stale", false, false)
	if err != nil || !sent {
		t.Fatalf("Submit() = (sent %v, err %v), want sent", sent, err)
	}

	time.Sleep(80 * time.Millisecond)
	orch.sweepOutstanding()

	select {
	case _, ok := <-future:
		if ok {
			t.Error("abandoned future should close without a payload")
		}
	case <-time.After(time.Second):
		t.Fatal("future not closed by janitor")
	}
	if orch.IsCommandRunning("cmd-stale") {
		t.Error("janitor must evict the stale entry")
	}
	if got := repo.status(t, "cmd-stale"); got != StatusTimedOut {
		t.Errorf("status = %q, want %q after janitor eviction", got, StatusTimedOut)
	}
}

func TestStopResolvesOutstanding(t *testing.T) {
	link := newMockLink()
	repo := newMockRepository()
	serial := testSerialInt(t)
	link.connected[serial] = true

	orch := NewOrchestrator(link, repo, time.Minute, time.Minute)
	orch.Start(context.Background())

	future, sent, err := orch.Submit(serial, "reboot", nil, "cmd-stop", false, false)
	if err != nil || !sent {
		t.Fatalf("Submit() = (sent %v, err %v), want sent", sent, err)
	}

	orch.Stop()

	select {
	case _, ok := <-future:
		if ok {
			t.Error("future should close without a payload on shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("future not closed on shutdown")
	}
}

func TestNextRPCIDMonotonic(t *testing.T) {
	orch := NewOrchestrator(newMockLink(), newMockRepository(), time.Minute, time.Minute)

	prev := orch.NextRPCID()
	if prev <= NoCorrelationID {
		t.Fatalf("first id = %d, want > %d", prev, NoCorrelationID)
	}
	for i := 0; i < 100; i++ {
		id := orch.NextRPCID()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
