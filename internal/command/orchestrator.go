package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ridgelink/apgw-core/internal/metrics"
	"github.com/ridgelink/apgw-core/internal/session"
)

// DeviceLink is the slice of the session registry the orchestrator needs:
// reachability checks and raw frame sends.
type DeviceLink interface {
	IsConnected(serialNumber uint64) bool
	Send(serialNumber uint64, payload []byte) bool
}

// Logger is the minimal logging interface used by the orchestrator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Future resolves to the device's response payload. The channel is closed
// without a value when the command is abandoned (janitor timeout or
// shutdown), so receivers must check the ok flag.
type Future <-chan json.RawMessage

// outstanding is one sent-but-unanswered command awaiting correlation.
type outstanding struct {
	id           uint64
	serialNumber uint64
	command      string
	uuid         string
	submitted    time.Time
	result       chan json.RawMessage // nil for disk-only submissions
}

// responseQueueSize bounds the inbound response queue. Transport readers
// never block on a full queue; overflow responses are dropped and the
// scheduler's retry path recovers the command.
const responseQueueSize = 256

// Orchestrator correlates outbound commands with inbound responses and
// fulfills a one-shot future per tracked command.
//
// A single consumer goroutine drains the response queue, so responses are
// processed strictly in arrival order: the first response for a correlation
// id wins, later duplicates are discarded as already completed.
type Orchestrator struct {
	link   DeviceLink
	store  Repository
	logger Logger

	mu          sync.Mutex
	outstanding map[uint64]*outstanding
	nextID      uint64

	responses chan Response
	done      chan struct{}
	wg        sync.WaitGroup

	responseTimeout time.Duration
	janitorInterval time.Duration
}

// NewOrchestrator creates a command orchestrator. The device link and store
// are injected; the orchestrator owns no global state.
func NewOrchestrator(link DeviceLink, store Repository, responseTimeout, janitorInterval time.Duration) *Orchestrator {
	return &Orchestrator{
		link:            link,
		store:           store,
		logger:          noopLogger{},
		outstanding:     make(map[uint64]*outstanding),
		nextID:          NoCorrelationID + 1,
		responses:       make(chan Response, responseQueueSize),
		done:            make(chan struct{}),
		responseTimeout: responseTimeout,
		janitorInterval: janitorInterval,
	}
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.logger = logger
}

// Start launches the response consumer and the janitor sweep. It returns
// immediately; Stop shuts both down.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(2)
	go o.consumeResponses(ctx)
	go o.runJanitor(ctx)
}

// Stop signals the background goroutines and waits for them to exit. Any
// still-outstanding futures are resolved as abandoned.
func (o *Orchestrator) Stop() {
	close(o.done)
	o.wg.Wait()

	o.mu.Lock()
	for id, entry := range o.outstanding {
		if entry.result != nil {
			close(entry.result)
		}
		delete(o.outstanding, id)
	}
	o.mu.Unlock()
}

// NextRPCID returns a fresh correlation id. Ids are unique per orchestrator
// instance and monotonically increasing, starting above the reserved
// no-correlation sentinel.
func (o *Orchestrator) NextRPCID() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	return id
}

// Submit encodes and sends a command to a device.
//
// When oneWay is true the envelope carries the reserved no-correlation id
// and nothing is tracked. When diskOnly is true the command is tracked for
// the in-flight invariant but no future is created (the durable record is
// the caller's handle). Otherwise a Future is returned that resolves when a
// matching response arrives, or closes when the janitor abandons the entry.
//
// The sent flag is false when the device is not connected or the transport
// write failed; the durable record should then stay pending for retry. A
// non-nil error means the command itself cannot be encoded and no retry
// will ever succeed.
func (o *Orchestrator) Submit(serialNumber uint64, commandName string, params json.RawMessage, uuid string, oneWay, diskOnly bool) (Future, bool, error) {
	rpcID := NoCorrelationID
	if !oneWay {
		rpcID = o.NextRPCID()
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	envelope, err := json.Marshal(Request{
		JSONRPC: JSONRPCVersion,
		ID:      rpcID,
		Method:  commandName,
		Params:  params,
	})
	if err != nil {
		o.logger.Error("failed to encode command envelope",
			"uuid", uuid, "command", commandName, "error", err)
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	entry := &outstanding{
		id:           rpcID,
		serialNumber: serialNumber,
		command:      commandName,
		uuid:         uuid,
		submitted:    time.Now().UTC(),
	}
	if !oneWay && !diskOnly {
		entry.result = make(chan json.RawMessage, 1)
	}

	o.logger.Debug("sending command",
		"uuid", uuid, "rpc_id", rpcID, "command", commandName,
		"serial", session.IntToSerial(serialNumber))

	if !o.link.Send(serialNumber, envelope) {
		o.logger.Warn("failed to send command",
			"uuid", uuid, "rpc_id", rpcID,
			"serial", session.IntToSerial(serialNumber))
		return nil, false, nil
	}

	if !oneWay {
		o.mu.Lock()
		o.outstanding[rpcID] = entry
		tracked := len(o.outstanding)
		o.mu.Unlock()
		metrics.SetOutstandingCommands(tracked)
	}

	if entry.result == nil {
		return nil, true, nil
	}
	return entry.result, true, nil
}

// HandleResponse enqueues an inbound correlated response for the consumer
// goroutine. It never blocks the transport reader: when the queue is full
// the response is dropped and the command eventually times out.
func (o *Orchestrator) HandleResponse(resp Response) {
	select {
	case o.responses <- resp:
	default:
		o.logger.Warn("response queue full, dropping response",
			"serial", session.IntToSerial(resp.SerialNumber),
			"rpc_id", resp.ID)
	}
}

// IsCommandRunning reports whether a command UUID currently has an
// outstanding entry.
func (o *Orchestrator) IsCommandRunning(uuid string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, entry := range o.outstanding {
		if entry.uuid == uuid {
			return true
		}
	}
	return false
}

// CommandRunningForDevice reports whether any command is outstanding for
// the device, returning its UUID and name when one is.
func (o *Orchestrator) CommandRunningForDevice(serialNumber uint64) (uuid, commandName string, running bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, entry := range o.outstanding {
		if entry.serialNumber == serialNumber {
			return entry.uuid, entry.command, true
		}
	}
	return "", "", false
}

// OutstandingCount returns the number of tracked commands.
func (o *Orchestrator) OutstandingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.outstanding)
}

// consumeResponses drains the response queue in arrival order.
func (o *Orchestrator) consumeResponses(ctx context.Context) {
	defer o.wg.Done()

	for {
		select {
		case <-o.done:
			return
		case <-ctx.Done():
			return
		case resp := <-o.responses:
			o.processResponse(ctx, resp)
		}
	}
}

// processResponse matches one response against the outstanding table.
// Unknown or mismatched correlation ids are discarded: they belong to
// already-completed commands or to a duplicate delivery.
func (o *Orchestrator) processResponse(ctx context.Context, resp Response) {
	if resp.ID <= NoCorrelationID {
		o.logger.Debug("response without correlation id, ignoring",
			"serial", session.IntToSerial(resp.SerialNumber))
		return
	}

	o.mu.Lock()
	entry, ok := o.outstanding[resp.ID]
	if !ok || entry.serialNumber != resp.SerialNumber {
		o.mu.Unlock()
		o.logger.Debug("rpc already completed",
			"serial", session.IntToSerial(resp.SerialNumber),
			"rpc_id", resp.ID)
		return
	}
	delete(o.outstanding, resp.ID)
	remaining := len(o.outstanding)
	o.mu.Unlock()

	metrics.SetOutstandingCommands(remaining)

	latency := time.Since(entry.submitted)
	metrics.IncCommandResult("completed")
	metrics.ObserveCommandLatency(latency)
	if err := o.store.Complete(ctx, entry.uuid, resp.Payload, latency); err != nil {
		o.logger.Error("failed to record command completion",
			"uuid", entry.uuid, "error", err)
	}

	if entry.result != nil {
		entry.result <- resp.Payload
		close(entry.result)
	}

	o.logger.Debug("received rpc answer",
		"serial", session.IntToSerial(resp.SerialNumber),
		"rpc_id", resp.ID,
		"command", entry.command,
		"latency_ms", latency.Milliseconds())
}

// runJanitor periodically evicts outstanding commands that exceeded the
// response deadline. The durable record is not touched here; the in-memory
// table is freed and any waiting future resolves as abandoned.
func (o *Orchestrator) runJanitor(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepOutstanding()
		}
	}
}

// sweepOutstanding evicts entries older than the response timeout. Evicted
// commands are marked timed-out durably; their futures resolve as abandoned.
func (o *Orchestrator) sweepOutstanding() {
	now := time.Now().UTC()

	var evicted []*outstanding

	o.mu.Lock()
	for id, entry := range o.outstanding {
		if now.Sub(entry.submitted) <= o.responseTimeout {
			continue
		}
		if entry.result != nil {
			close(entry.result)
		}
		delete(o.outstanding, id)
		evicted = append(evicted, entry)
	}
	remaining := len(o.outstanding)
	o.mu.Unlock()

	metrics.SetOutstandingCommands(remaining)

	for _, entry := range evicted {
		metrics.IncCommandResult("timedout")
		o.logger.Debug("command timed out",
			"uuid", entry.uuid,
			"command", entry.command,
			"serial", session.IntToSerial(entry.serialNumber))
		if err := o.store.MarkTimedOut(context.Background(), entry.uuid); err != nil {
			o.logger.Error("failed to mark command timed out",
				"uuid", entry.uuid, "error", err)
		}
	}

	o.logger.Info("outstanding requests", "count", remaining)
}
