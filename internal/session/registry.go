package session

import (
	"sync"
	"time"
)

// link pairs a bound session with the transport sender for its connection.
type link struct {
	session *Session
	sender  Sender
}

// Registry tracks live device sessions.
//
// Two indexes are maintained under a single lock: connection id to session,
// and serial number to (session, sender). At most one session is addressable
// by a given serial number at any instant.
type Registry struct {
	mu        sync.Mutex
	sessions  map[uint64]*Session
	bySerial  map[uint64]link
	policy    MismatchPolicy
	logger    Logger

	// Rolling aggregates maintained by Sweep.
	connectedDevices  uint64
	connectingDevices uint64
	avgConnectionSecs uint64
}

// NewRegistry creates an empty session registry with the given
// identity-mismatch policy.
func NewRegistry(policy MismatchPolicy) *Registry {
	return &Registry{
		sessions: make(map[uint64]*Session),
		bySerial: make(map[uint64]link),
		policy:   policy,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// StartSession creates an empty session bound to a fresh connection id.
// The session has no device identity until BindDeviceIdentity is called.
func (r *Registry) StartSession(connectionID uint64) *Session {
	s := &Session{
		ConnectionID: connectionID,
		State: ConnectionState{
			Started: time.Now().UTC(),
		},
	}

	r.mu.Lock()
	r.sessions[connectionID] = s
	r.mu.Unlock()

	return s
}

// BindDeviceIdentity binds a device serial number to an existing session and
// registers the serial-number index entry. The session is marked connected,
// last-contact is set to now, and the certificate verdict resets to
// not-checked until the transport records one.
//
// If another live session already claims the serial number, the mismatch
// policy decides: replace the old session (counted, up to the configured
// depth) or reject with ErrMismatchRejected.
func (r *Registry) BindDeviceIdentity(connectionID, serialNumber uint64, sender Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return ErrSessionNotFound
	}

	prior := 0
	if old, exists := r.bySerial[serialNumber]; exists && old.session.ConnectionID != connectionID {
		prior = old.session.mismatches
		if !r.policy.Tolerates(prior) {
			r.logger.Warn("serial number already bound, rejecting connection",
				"serial", IntToSerial(serialNumber),
				"existing_connection", old.session.ConnectionID,
				"new_connection", connectionID,
				"mismatches", prior,
			)
			return ErrMismatchRejected
		}
		prior++
		old.session.State.Connected = false
		delete(r.sessions, old.session.ConnectionID)
		r.logger.Info("replacing session for reconnecting device",
			"serial", IntToSerial(serialNumber),
			"old_connection", old.session.ConnectionID,
			"new_connection", connectionID,
			"mismatches", prior,
		)
	}

	now := time.Now().UTC()
	s.SerialNumber = serialNumber
	s.State.Connected = true
	s.State.LastContact = now
	s.State.Certificate = CertNotChecked
	s.mismatches = prior
	r.bySerial[serialNumber] = link{session: s, sender: sender}

	return nil
}

// EndSession removes the connection-id index entry and, if it still points
// at this same connection, the serial-number entry. Ending a session that is
// already gone is a no-op.
func (r *Registry) EndSession(connectionID, serialNumber uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, connectionID)

	if l, ok := r.bySerial[serialNumber]; ok && l.session.ConnectionID == connectionID {
		l.session.State.Connected = false
		delete(r.bySerial, serialNumber)
	}
}

// IsConnected reports whether a live, connected session exists for the
// serial number.
func (r *Registry) IsConnected(serialNumber uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.bySerial[serialNumber]
	return ok && l.session.State.Connected
}

// Send pushes a raw frame to the device if a live session exists. The send
// itself happens outside the registry lock.
func (r *Registry) Send(serialNumber uint64, payload []byte) bool {
	r.mu.Lock()
	l, ok := r.bySerial[serialNumber]
	r.mu.Unlock()

	if !ok || l.sender == nil || !l.session.State.Connected {
		return false
	}

	if err := l.sender.WriteFrame(payload); err != nil {
		r.logger.Debug("frame send failed",
			"serial", IntToSerial(serialNumber),
			"error", err,
		)
		return false
	}
	return true
}

// Touch records device activity, updating the session's last-contact time.
func (r *Registry) Touch(serialNumber uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.bySerial[serialNumber]; ok {
		l.session.State.LastContact = time.Now().UTC()
	}
}

// GetState returns a snapshot of the session state for a serial number.
func (r *Registry) GetState(serialNumber uint64) (ConnectionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.bySerial[serialNumber]
	if !ok {
		return ConnectionState{}, false
	}
	return l.session.State, true
}

// SetState replaces the session state snapshot for a serial number.
func (r *Registry) SetState(serialNumber uint64, state ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.bySerial[serialNumber]; ok {
		l.session.State = state
	}
}

// GetStatistics returns the most recent raw statistics payload reported by
// the device.
func (r *Registry) GetStatistics(serialNumber uint64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.bySerial[serialNumber]
	if !ok {
		return "", false
	}
	return l.session.LastStats, true
}

// SetStatistics records the most recent raw statistics payload and bumps
// last-contact.
func (r *Registry) SetStatistics(serialNumber uint64, stats string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.bySerial[serialNumber]; ok {
		l.session.LastStats = stats
		l.session.State.LastContact = time.Now().UTC()
	}
}

// GetHealthcheck returns the most recent healthcheck snapshot.
func (r *Registry) GetHealthcheck(serialNumber uint64) (Healthcheck, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.bySerial[serialNumber]
	if !ok {
		return Healthcheck{}, false
	}
	return l.session.LastHealthcheck, true
}

// SetHealthcheck records the most recent healthcheck snapshot and bumps
// last-contact.
func (r *Registry) SetHealthcheck(serialNumber uint64, check Healthcheck) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.bySerial[serialNumber]; ok {
		l.session.LastHealthcheck = check
		l.session.State.LastContact = time.Now().UTC()
	}
}

// SetCertificateValidation records the certificate verdict for a session.
func (r *Registry) SetCertificateValidation(serialNumber uint64, verdict CertificateValidation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.bySerial[serialNumber]; ok {
		l.session.State.Certificate = verdict
	}
}

// SetConfigRevision records the configuration revision last reported by the
// device.
func (r *Registry) SetConfigRevision(serialNumber, revision uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.bySerial[serialNumber]; ok {
		l.session.State.ConfigRevision = revision
	}
}

// SetAssociations records the summarised per-band association counts derived
// from the latest state report.
func (r *Registry) SetAssociations(serialNumber uint64, assoc2G, assoc5G int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.bySerial[serialNumber]; ok {
		l.session.State.Associations2G = assoc2G
		l.session.State.Associations5G = assoc5G
	}
}

// SetTelemetryReporting starts or refreshes the telemetry cadence for one
// channel. Lifetime bounds how long the cadence stays active.
func (r *Registry) SetTelemetryReporting(serialNumber uint64, channel TelemetryChannel, interval, lifetime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.bySerial[serialNumber]; ok {
		l.session.telemetry[channel] = TelemetryReporting{
			Interval: interval,
			Until:    time.Now().UTC().Add(lifetime),
		}
	}
}

// StopTelemetryReporting clears the telemetry cadence for one channel.
func (r *Registry) StopTelemetryReporting(serialNumber uint64, channel TelemetryChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.bySerial[serialNumber]; ok {
		l.session.telemetry[channel] = TelemetryReporting{}
	}
}

// TelemetryActive reports whether the given channel currently has an active
// cadence for the device, incrementing its packet counter when it does.
func (r *Registry) TelemetryActive(serialNumber uint64, channel TelemetryChannel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.bySerial[serialNumber]
	if !ok {
		return false
	}
	if !l.session.telemetry[channel].Active(time.Now().UTC()) {
		return false
	}
	l.session.telemetry[channel].Packets++
	return true
}

// TelemetryParameters returns the cadence snapshots for both channels.
func (r *Registry) TelemetryParameters(serialNumber uint64) (notify, stream TelemetryReporting, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, found := r.bySerial[serialNumber]
	if !found {
		return TelemetryReporting{}, TelemetryReporting{}, false
	}
	return l.session.telemetry[ChannelNotify], l.session.telemetry[ChannelStream], true
}

// SessionCount returns the number of live sessions (bound or not).
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ConnectedCount returns the number of sessions bound to a device identity.
func (r *Registry) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySerial)
}

// Sweep evicts sessions whose last contact exceeds staleAfter and refreshes
// the rolling connection aggregates. It returns the serial numbers of the
// evicted sessions so callers can emit disconnect notifications.
func (r *Registry) Sweep(staleAfter time.Duration) []uint64 {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []uint64
	var connected, connecting uint64
	var totalSecs uint64

	for id, s := range r.sessions {
		if s.SerialNumber == 0 {
			// Accepted but not yet identified.
			if now.Sub(s.State.Started) > staleAfter {
				delete(r.sessions, id)
				continue
			}
			connecting++
			continue
		}

		if now.Sub(s.State.LastContact) > staleAfter {
			s.State.Connected = false
			delete(r.sessions, id)
			if l, ok := r.bySerial[s.SerialNumber]; ok && l.session.ConnectionID == id {
				delete(r.bySerial, s.SerialNumber)
			}
			evicted = append(evicted, s.SerialNumber)
			r.logger.Info("evicting stale session",
				"serial", IntToSerial(s.SerialNumber),
				"connection", id,
				"last_contact", s.State.LastContact,
			)
			continue
		}

		connected++
		totalSecs += uint64(now.Sub(s.State.Started) / time.Second)
	}

	r.connectedDevices = connected
	r.connectingDevices = connecting
	if connected > 0 {
		r.avgConnectionSecs = totalSecs / connected
	} else {
		r.avgConnectionSecs = 0
	}

	return evicted
}

// AverageDeviceStatistics returns the rolling connection aggregates
// maintained by Sweep.
func (r *Registry) AverageDeviceStatistics() (connections, averageConnectionSecs, connecting uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectedDevices, r.avgConnectionSecs, r.connectingDevices
}
