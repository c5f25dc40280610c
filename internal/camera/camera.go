// Package camera implements the acquisition state machine that obtains and
// owns the live proctoring video feed. It drives an abstract MediaProvider
// (the browser/device media surface) and recovers every acquisition failure
// into a typed status plus a candidate-facing message; no failure escapes as
// an uncaught fault.
//
// Ownership of the stream is exclusive: the machine holds at most one live
// handle, and TransferStream hands responsibility for eventual release to an
// external consumer (typically the video-preview surface, whose lifetime
// outlives the acquisition logic).
package camera

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Status is the machine's lifecycle state.
type Status string

const (
	// StatusPending — machine created, nothing probed yet.
	StatusPending Status = "pending"
	// StatusPrompt — permission not yet decided; a request would prompt.
	StatusPrompt Status = "prompt"
	// StatusGranted — the only status in which a stream handle may exist.
	StatusGranted Status = "granted"
	// StatusDenied — user or policy refusal. Sticky until RetryPermission.
	StatusDenied Status = "denied"
	// StatusUnavailable — no camera hardware or media API. Sticky until
	// RetryPermission.
	StatusUnavailable Status = "unavailable"
	// StatusError — unclassified failure.
	StatusError Status = "error"
)

// State is the synchronously readable snapshot of the machine.
type State struct {
	Status Status `json:"status"`

	// Stream is the owned handle; nil unless Status is granted, and nil
	// again after StopStream or TransferStream.
	Stream Stream `json:"-"`

	// Err is the last candidate-facing failure description; cleared on a
	// successful transition to granted.
	Err string `json:"error,omitempty"`

	// Device describes the selected video input, if one was enumerated.
	Device *DeviceInfo `json:"device,omitempty"`

	// Checking and Requesting mark an in-flight probe or acquisition.
	// Transient; never persisted.
	Checking   bool `json:"isChecking"`
	Requesting bool `json:"isRequesting"`
}

// Machine owns the camera permission lifecycle for one session.
type Machine struct {
	provider MediaProvider
	logger   *zap.Logger

	mu          sync.Mutex
	state       State
	subs        map[int]func(State)
	nextSub     int
	watchCancel func()
}

// New creates a Machine in the pending state. logger may be nil.
func New(provider MediaProvider, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		provider: provider,
		logger:   logger,
		state:    State{Status: StatusPending},
		subs:     make(map[int]func(State)),
	}
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() State {
	st := m.state
	if st.Device != nil {
		d := *st.Device
		st.Device = &d
	}
	return st
}

// Subscribe registers fn to be called after every state change. The returned
// cancel unregisters it.
func (m *Machine) Subscribe(fn func(State)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// update applies mutate under the lock and notifies subscribers with the
// resulting snapshot outside it.
func (m *Machine) update(mutate func(*State)) State {
	m.mu.Lock()
	mutate(&m.state)
	snap := m.snapshotLocked()
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
	return snap
}

// CheckPermission is the non-intrusive probe: it never triggers a prompt.
// It verifies that a camera-capable surface with at least one video input
// exists, reads the native permission state when the provider can answer
// without prompting, and subscribes to native change notifications so
// external revocation is reflected without another explicit check. Providers
// without a query capability default to prompt optimistically (a known gap
// on some mobile runtimes). Any unexpected failure is mapped to StatusError;
// the resulting status is always returned, never an error.
func (m *Machine) CheckPermission(ctx context.Context) Status {
	m.update(func(s *State) { s.Checking = true })

	devices, err := m.provider.EnumerateDevices(ctx)
	if err != nil || len(devices) == 0 {
		if err != nil {
			m.logger.Warn("camera: device enumeration failed", zap.Error(err))
		}
		return m.update(func(s *State) {
			s.Checking = false
			s.Status = StatusUnavailable
			s.Err = userMessage(CauseDeviceUnavailable)
		}).Status
	}
	device := devices[0]

	q, ok := m.provider.(PermissionQuerier)
	if !ok {
		return m.update(func(s *State) {
			s.Checking = false
			s.Status = StatusPrompt
			s.Device = &device
		}).Status
	}

	perm, err := q.QueryCameraPermission(ctx)
	if err != nil {
		m.logger.Warn("camera: permission query failed", zap.Error(err))
		return m.update(func(s *State) {
			s.Checking = false
			s.Status = StatusError
			s.Err = userMessage(CauseTransient)
			s.Device = &device
		}).Status
	}

	m.ensureWatch(q)

	return m.update(func(s *State) {
		s.Checking = false
		s.Device = &device
		switch perm {
		case PermissionGranted:
			s.Status = StatusGranted
			s.Err = ""
		case PermissionDenied:
			s.Status = StatusDenied
			s.Err = userMessage(CausePermissionDenied)
		default:
			s.Status = StatusPrompt
		}
	}).Status
}

// ensureWatch registers the native change listener once.
func (m *Machine) ensureWatch(q PermissionQuerier) {
	m.mu.Lock()
	registered := m.watchCancel != nil
	m.mu.Unlock()
	if registered {
		return
	}
	cancel, err := q.WatchCameraPermission(m.onPermissionChange)
	if err != nil {
		m.logger.Warn("camera: permission watch unavailable", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.watchCancel = cancel
	m.mu.Unlock()
}

// onPermissionChange handles a native permission flip (e.g. the user revokes
// camera access in browser chrome mid-session). Revocation stops an owned
// stream, since its tracks are dead anyway.
func (m *Machine) onPermissionChange(perm Permission) {
	var stale Stream
	m.update(func(s *State) {
		switch perm {
		case PermissionGranted:
			s.Status = StatusGranted
			s.Err = ""
		case PermissionDenied:
			s.Status = StatusDenied
			s.Err = userMessage(CausePermissionDenied)
			stale, s.Stream = s.Stream, nil
		default:
			s.Status = StatusPrompt
		}
	})
	if stale != nil {
		m.logger.Info("camera: permission revoked externally, releasing stream")
		stale.Stop()
	}
}

// RequestPermission is the intrusive acquisition. Any stream already owned
// is released first, so repeated requests cannot leak device handles. The
// first attempt uses the low-bandwidth monitoring constraints; a
// constraint-unsatisfiable failure is retried exactly once with minimal
// constraints before giving up. Every failure cause maps to a status plus a
// candidate-facing message; the call is re-entrant safe after failure.
func (m *Machine) RequestPermission(ctx context.Context) Status {
	m.mu.Lock()
	if m.state.Requesting {
		// Prior request has not settled; callers must wait for it.
		st := m.state.Status
		m.mu.Unlock()
		return st
	}
	m.mu.Unlock()

	var stale Stream
	m.update(func(s *State) {
		stale, s.Stream = s.Stream, nil
		s.Requesting = true
	})
	if stale != nil {
		stale.Stop()
	}

	stream, err := m.provider.GetUserMedia(ctx, MonitoringConstraints())
	if err != nil && cause(err) == CauseConstraintUnsatisfiable {
		m.logger.Info("camera: monitoring constraints rejected, retrying with defaults")
		stream, err = m.provider.GetUserMedia(ctx, FallbackConstraints())
	}

	if err != nil {
		c := cause(err)
		m.logger.Warn("camera: acquisition failed", zap.String("cause", string(c)), zap.Error(err))
		return m.update(func(s *State) {
			s.Requesting = false
			s.Err = userMessage(c)
			switch c {
			case CausePermissionDenied:
				s.Status = StatusDenied
			case CauseDeviceUnavailable:
				s.Status = StatusUnavailable
			case CauseResourceBusy:
				// Stays non-granted in its current status; retry is
				// meaningful once the other process lets go.
				if s.Status == StatusGranted {
					s.Status = StatusPrompt
				}
			default:
				s.Status = StatusError
			}
		}).Status
	}

	return m.update(func(s *State) {
		s.Requesting = false
		s.Stream = stream
		s.Status = StatusGranted
		s.Err = ""
	}).Status
}

// cause extracts the failure tag from a provider error; anything that is not
// a typed *AcquireError is treated as transient.
func cause(err error) FailureCause {
	var ae *AcquireError
	if errors.As(err, &ae) {
		return ae.Cause
	}
	return CauseTransient
}

// StopStream releases the owned stream. No-op when nothing is owned.
func (m *Machine) StopStream() {
	var s Stream
	m.update(func(st *State) {
		s, st.Stream = st.Stream, nil
	})
	if s != nil {
		s.Stop()
	}
}

// TransferStream hands the stream to an external consumer: the internal
// reference is cleared without stopping the tracks, so the machine will not
// release a stream it no longer owns on teardown. Returns nil when nothing
// is owned. The receiver becomes responsible for eventual release.
func (m *Machine) TransferStream() Stream {
	var s Stream
	m.update(func(st *State) {
		s, st.Stream = st.Stream, nil
	})
	return s
}

// RetryPermission re-runs the probe and, unless the probe settled on denied,
// a fresh acquisition.
func (m *Machine) RetryPermission(ctx context.Context) Status {
	st := m.CheckPermission(ctx)
	if st == StatusDenied {
		return st
	}
	return m.RequestPermission(ctx)
}

// Close tears the machine down: the native watch is cancelled and an owned
// stream is released. A stream handed off via TransferStream is left alone.
func (m *Machine) Close() {
	m.mu.Lock()
	cancel := m.watchCancel
	m.watchCancel = nil
	s := m.state.Stream
	m.state.Stream = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s != nil {
		s.Stop()
	}
}
