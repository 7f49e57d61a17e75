package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/rollcall/internal/scan"
)

// readBufferSize is the chunk size for a single device read. Reader frames
// are a few dozen bytes, so one read normally holds a whole frame.
const readBufferSize = 256

// FrameHandler receives each complete device frame. It is called from the
// read loop, one frame at a time, in arrival order.
type FrameHandler func(ctx context.Context, frame scan.RawFrame)

// Logger defines the logging interface used by the Manager.
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

// Manager owns at most one open reader session.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Connect and Disconnect are serialised; the read loop never overlaps
//     with a second loop on the same manager.
type Manager struct {
	transport Transport
	handler   FrameHandler
	line      LineConfig
	maxFrame  int
	logger    Logger

	// opMu serialises Connect and Disconnect. The read loop never takes it.
	opMu sync.Mutex

	mu       sync.Mutex
	state    ConnectionState
	device   string
	lastErr  error
	session  Session
	cancel   context.CancelFunc
	loopDone chan struct{}

	listenersMu sync.RWMutex
	listeners   []func(StateChange)

	// seq is bumped under mu for every transition. notifyMu serialises
	// delivery so listeners see transitions in seq order; a change that
	// lost the race to a newer one is dropped.
	seq          uint64
	notifyMu     sync.Mutex
	lastNotified uint64

	framesRx     atomic.Uint64
	bytesRx      atomic.Uint64
	readErrors   atomic.Uint64
	connects     atomic.Uint64
	lastActivity atomic.Int64
}

// NewManager creates a manager in the Offline state.
//
// Parameters:
//   - transport: opens device sessions
//   - handler: receives frames from the read loop
//   - line: fixed line parameters; line.Device is the default device
func NewManager(transport Transport, handler FrameHandler, line LineConfig) *Manager {
	return &Manager{
		transport: transport,
		handler:   handler,
		line:      line.withDefaults(),
		maxFrame:  scan.DefaultMaxFrameBytes,
		logger:    noopLogger{},
		state:     StateOffline,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// OnStateChange registers fn to be called after every state transition.
// Listeners run on the goroutine that caused the change, one at a time and
// in transition order, and must not block or call back into the manager's
// Connect or Disconnect.
func (m *Manager) OnStateChange(fn func(StateChange)) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Device returns the open (or last failed) device name.
func (m *Manager) Device() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// Line returns the fixed line configuration.
func (m *Manager) Line() LineConfig {
	return m.line
}

// Stats returns current operational statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{State: m.state, Device: m.device, Line: m.line.String()}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	m.mu.Unlock()

	st.FramesRx = m.framesRx.Load()
	st.BytesRx = m.bytesRx.Load()
	st.ReadErrors = m.readErrors.Load()
	st.Connects = m.connects.Load()
	if ts := m.lastActivity.Load(); ts > 0 {
		st.LastActivity = time.Unix(0, ts).UTC()
	}
	return st
}

// Detect moves Offline to Ready when the transport is available on this
// host, and Ready back to Offline when it has gone. Other states are left
// alone. It returns the resulting state.
func (m *Manager) Detect() ConnectionState {
	available := m.transport != nil && m.transport.Available()

	m.mu.Lock()
	from := m.state
	switch {
	case from == StateOffline && available:
		m.state = StateReady
	case from == StateReady && !available:
		m.state = StateOffline
	}
	change := m.changeLocked(from)
	state := m.state
	m.mu.Unlock()

	m.notify(change)
	return state
}

// Connect opens device (or the configured default when empty) and starts
// the read loop. From Offline it runs Detect first. Error and Ready both
// allow a new connection.
//
// Returns:
//   - ErrAlreadyScanning if a read loop is running
//   - ErrUnavailable if no transport exists
//   - ErrNoDevice if no device was named or configured
//   - ErrDevice wrapping the transport error if the open failed; the
//     manager is then in the Error state
func (m *Manager) Connect(ctx context.Context, device string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.State() == StateScanning {
		return ErrAlreadyScanning
	}
	if m.Detect() == StateOffline {
		return ErrUnavailable
	}

	if device == "" {
		device = m.line.Device
	}
	if device == "" {
		return ErrNoDevice
	}

	line := m.line
	line.Device = device
	sess, err := m.transport.Open(ctx, line)
	if err != nil {
		err = fmt.Errorf("%w: opening %s: %w", ErrDevice, device, err)
		m.logger.Error("reader open failed", "device", device, "error", err)
		m.setState(StateError, device, err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	from := m.state
	m.session = sess
	m.cancel = cancel
	m.loopDone = done
	m.device = device
	m.lastErr = nil
	m.state = StateScanning
	change := m.changeLocked(from)
	m.mu.Unlock()

	m.connects.Add(1)
	m.logger.Info("reader connected", "device", device, "line", line.String())
	m.notify(change)

	go m.readLoop(loopCtx, sess, done)
	return nil
}

// Disconnect stops the read loop, closes the device and moves to Offline.
// The device is closed and the loop has exited before Disconnect returns.
// A chunk that was being read is discarded. Disconnect is a no-op success
// when nothing is open.
func (m *Manager) Disconnect() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	sess, cancel, done := m.session, m.cancel, m.loopDone
	m.session, m.cancel, m.loopDone = nil, nil, nil
	m.mu.Unlock()

	var closeErr error
	if sess != nil {
		cancel()
		if err := sess.Close(); err != nil {
			closeErr = fmt.Errorf("%w: closing: %w", ErrDevice, err)
			m.logger.Warn("reader close failed", "error", err)
		}
		<-done
		m.logger.Info("reader disconnected", "device", m.Device())
	}

	m.setState(StateOffline, "", nil)
	return closeErr
}

// Close disconnects any open device. It exists so the manager can be
// deferred alongside other closers.
func (m *Manager) Close() error {
	return m.Disconnect()
}

// readLoop reads chunks until the session fails, ends or is cancelled.
// It owns sess until it exits; on failure it closes sess itself.
func (m *Manager) readLoop(ctx context.Context, sess Session, done chan struct{}) {
	defer close(done)

	asm := scan.NewAssembler(m.maxFrame)
	buf := make([]byte, readBufferSize)

	for {
		n, err := sess.Read(buf)

		// Cancelled: the in-flight chunk is dropped, not processed.
		if ctx.Err() != nil {
			return
		}

		if n > 0 {
			m.bytesRx.Add(uint64(n)) //nolint:gosec // n is bounded by len(buf)
			m.lastActivity.Store(time.Now().UnixNano())

			frames, ferr := asm.Feed(buf[:n])
			for _, f := range frames {
				if ctx.Err() != nil {
					return
				}
				m.deliver(ctx, f)
			}
			if ferr != nil {
				m.fail(sess, ferr)
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			m.fail(sess, err)
			return
		}

		// Idle read timeout: a reader that never sends terminators has
		// finished its burst.
		if n == 0 {
			if f, ok := asm.Flush(); ok {
				m.deliver(ctx, f)
			}
		}
	}
}

// deliver hands one frame to the handler. A panicking handler is logged
// and the loop carries on with the next frame.
//
// The handler runs detached from the loop's cancellation: a frame that has
// started either completes or was never started. Disconnect waits for it.
func (m *Manager) deliver(ctx context.Context, payload string) {
	m.framesRx.Add(1)
	if m.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("frame handler panicked", "panic", r)
		}
	}()
	m.handler(context.WithoutCancel(ctx), scan.DeviceFrame(payload))
}

// fail closes sess and moves to Error, unless Disconnect already took the
// session.
func (m *Manager) fail(sess Session, cause error) {
	m.readErrors.Add(1)
	err := fmt.Errorf("%w: %w", ErrDevice, cause)

	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.session, m.cancel, m.loopDone = nil, nil, nil
	from := m.state
	m.state = StateError
	m.lastErr = err
	change := m.changeLocked(from)
	m.mu.Unlock()

	cancel()
	if cerr := sess.Close(); cerr != nil {
		m.logger.Debug("closing failed session", "error", cerr)
	}
	m.logger.Error("reader failed", "device", change.Device, "error", err)
	m.notify(change)
}

func (m *Manager) setState(state ConnectionState, device string, err error) {
	m.mu.Lock()
	from := m.state
	m.state = state
	if device != "" {
		m.device = device
	}
	m.lastErr = err
	change := m.changeLocked(from)
	m.mu.Unlock()

	m.notify(change)
}

// changeLocked returns the change to announce, or nil when the state did
// not move. Caller holds m.mu.
func (m *Manager) changeLocked(from ConnectionState) *StateChange {
	if from == m.state {
		return nil
	}
	m.seq++
	c := &StateChange{State: m.state, Device: m.device, At: time.Now().UTC(), seq: m.seq}
	if m.lastErr != nil {
		c.Error = m.lastErr.Error()
	}
	return c
}

// notify delivers change unless a newer one has already been delivered.
func (m *Manager) notify(change *StateChange) {
	if change == nil {
		return
	}
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	if change.seq <= m.lastNotified {
		m.logger.Debug("dropping superseded reader state change", "state", change.State.String())
		return
	}
	m.lastNotified = change.seq

	m.listenersMu.RLock()
	listeners := m.listeners
	m.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(*change)
	}
}
