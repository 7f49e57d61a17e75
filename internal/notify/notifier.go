package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nerrad567/rollcall/internal/attendance"
	"github.com/nerrad567/rollcall/internal/audit"
	"github.com/nerrad567/rollcall/internal/dispatch"
	"github.com/nerrad567/rollcall/internal/infrastructure/influxdb"
	"github.com/nerrad567/rollcall/internal/infrastructure/mqtt"
	"github.com/nerrad567/rollcall/internal/metrics"
	"github.com/nerrad567/rollcall/internal/reader"
)

// WebSocket event names.
const (
	EventScanOutcome = "scan.outcome"
	EventReaderState = "reader.state"
	EventModeChanged = "mode.changed"
)

// DefaultBuffer is the queue size used when New is given zero.
const DefaultBuffer = 256

// Publisher sends JSON to an MQTT topic.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Broadcaster pushes an event to WebSocket clients.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// SeriesWriter records time-series points.
type SeriesWriter interface {
	WriteScan(p influxdb.ScanPoint)
	WriteReaderState(site, state, device string, at time.Time)
}

// Logger is the logging interface used by the notifier.
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

// Deps are the sinks. Any of them may be nil.
type Deps struct {
	Site        string
	Publisher   Publisher
	Broadcaster Broadcaster
	Series      SeriesWriter
	Metrics     metrics.Recorder
	Audit       audit.Repository
}

// ModeChange is the payload of a mode.changed event.
type ModeChange struct {
	Mode attendance.Mode `json:"mode"`
	From attendance.Mode `json:"from"`
	At   time.Time       `json:"at"`
}

type event struct {
	outcome *dispatch.Outcome
	reader  *reader.StateChange
	mode    *ModeChange
}

// Notifier queues events and delivers them to every configured sink.
//
// Thread Safety:
//   - Outcome, ReaderState and ModeChanged are safe for concurrent use
//     and never block. When the queue is full the event is dropped and
//     counted.
//   - Run must be called once.
type Notifier struct {
	deps   Deps
	topics mqtt.Topics
	events chan event
	logger Logger

	// lastState tracks the previous reader state for audit actions.
	lastState reader.ConnectionState

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a notifier with a queue of buffer events.
func New(deps Deps, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	return &Notifier{
		deps:      deps,
		events:    make(chan event, buffer),
		logger:    noopLogger{},
		lastState: reader.StateOffline,
	}
}

// SetLogger sets the logger for the notifier.
func (n *Notifier) SetLogger(logger Logger) {
	n.logger = logger
}

// Outcome queues a dispatcher outcome. It has the dispatcher subscriber
// signature.
func (n *Notifier) Outcome(out dispatch.Outcome) {
	n.enqueue(event{outcome: &out})
}

// ReaderState queues a reader state change. It has the reader listener
// signature.
func (n *Notifier) ReaderState(change reader.StateChange) {
	n.enqueue(event{reader: &change})
}

// ModeChanged queues a scan mode change.
func (n *Notifier) ModeChanged(from, to attendance.Mode) {
	n.enqueue(event{mode: &ModeChange{Mode: to, From: from, At: time.Now().UTC()}})
}

// Delivered returns the number of events handed to sinks.
func (n *Notifier) Delivered() uint64 {
	return n.delivered.Load()
}

// Dropped returns the number of events lost to a full queue.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

func (n *Notifier) enqueue(ev event) {
	select {
	case n.events <- ev:
	default:
		n.dropped.Add(1)
		n.logger.Warn("notification queue full, event dropped")
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued and returns.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case ev := <-n.events:
			n.deliver(ctx, ev)
		case <-ctx.Done():
			n.drain()
			return
		}
	}
}

func (n *Notifier) drain() {
	// Sinks still get a short window after shutdown starts.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-n.events:
			n.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, ev event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notification sink panicked", "panic", r)
		}
	}()

	switch {
	case ev.outcome != nil:
		n.deliverOutcome(ctx, *ev.outcome)
	case ev.reader != nil:
		n.deliverReaderState(ctx, *ev.reader)
	case ev.mode != nil:
		n.deliverModeChange(ctx, *ev.mode)
	}
	n.delivered.Add(1)
}

func (n *Notifier) deliverOutcome(ctx context.Context, out dispatch.Outcome) {
	n.deps.Metrics.RecordScan(string(out.Kind), string(out.Source), out.Latency)

	if n.deps.Series != nil {
		p := influxdb.ScanPoint{
			Outcome:  string(out.Kind),
			Source:   string(out.Source),
			Mode:     string(out.Mode),
			Site:     n.deps.Site,
			Duration: out.Latency,
			At:       out.At,
		}
		if out.Person != nil {
			p.PersonID = out.Person.PersonID
		}
		n.deps.Series.WriteScan(p)
	}

	if !out.Reportable() {
		return
	}

	if n.deps.Publisher != nil {
		if err := n.deps.Publisher.PublishJSON(n.topics.ScanOutcome(string(out.Kind)), out, false); err != nil {
			n.logger.Warn("publishing scan outcome", "kind", out.Kind, "error", err)
		}
	}
	if n.deps.Broadcaster != nil {
		n.deps.Broadcaster.Broadcast(EventScanOutcome, out)
	}

	if !out.Accepted() {
		n.auditOutcome(ctx, out)
	}
}

func (n *Notifier) auditOutcome(ctx context.Context, out dispatch.Outcome) {
	if n.deps.Audit == nil {
		return
	}

	action := audit.ActionScanRejected
	if out.Kind == dispatch.KindLedgerWrite || out.Kind == dispatch.KindInternalError {
		action = audit.ActionScanFailed
	}

	details := map[string]any{
		"kind": string(out.Kind),
		"mode": string(out.Mode),
	}
	if out.Person != nil {
		details["person_id"] = out.Person.PersonID
	}
	if out.Status != "" {
		details["status"] = string(out.Status)
	}
	if out.Err != nil {
		details["error"] = out.Err.Error()
	}

	n.writeAudit(ctx, &audit.AuditLog{
		Action:     action,
		EntityType: audit.EntityCredential,
		EntityID:   string(out.CanonicalID),
		Source:     string(out.Source),
		Details:    details,
		CreatedAt:  out.At,
	})
}

func (n *Notifier) deliverReaderState(ctx context.Context, change reader.StateChange) {
	from := n.lastState
	n.lastState = change.State
	state := change.State.String()

	n.deps.Metrics.RecordReaderState(state)

	if n.deps.Series != nil {
		n.deps.Series.WriteReaderState(n.deps.Site, state, change.Device, change.At)
	}
	if n.deps.Publisher != nil {
		if err := n.deps.Publisher.PublishJSON(n.topics.ReaderState(), change, true); err != nil {
			n.logger.Warn("publishing reader state", "state", state, "error", err)
		}
	}
	if n.deps.Broadcaster != nil {
		n.deps.Broadcaster.Broadcast(EventReaderState, change)
	}

	var action string
	switch {
	case change.State == reader.StateScanning:
		action = audit.ActionReaderConnected
	case change.State == reader.StateError:
		action = audit.ActionReaderError
	case change.State == reader.StateOffline && from == reader.StateScanning:
		action = audit.ActionReaderDisconnected
	default:
		return
	}

	var details map[string]any
	if change.Error != "" {
		details = map[string]any{"error": change.Error}
	}
	n.writeAudit(ctx, &audit.AuditLog{
		Action:     action,
		EntityType: audit.EntityReader,
		EntityID:   change.Device,
		Source:     "reader",
		Details:    details,
		CreatedAt:  change.At,
	})
}

func (n *Notifier) deliverModeChange(ctx context.Context, change ModeChange) {
	if n.deps.Broadcaster != nil {
		n.deps.Broadcaster.Broadcast(EventModeChanged, change)
	}
	n.writeAudit(ctx, &audit.AuditLog{
		Action:     audit.ActionModeChanged,
		EntityType: audit.EntityDispatcher,
		Source:     "api",
		Details:    map[string]any{"from": string(change.From), "to": string(change.Mode)},
		CreatedAt:  change.At,
	})
}

func (n *Notifier) writeAudit(ctx context.Context, log *audit.AuditLog) {
	if n.deps.Audit == nil {
		return
	}
	if err := n.deps.Audit.Create(ctx, log); err != nil {
		n.logger.Warn("writing audit log", "action", log.Action, "error", err)
	}
}

// ManualSubmitter accepts an operator-typed identifier.
type ManualSubmitter interface {
	SubmitManualID(ctx context.Context, text string) dispatch.Outcome
}

// Subscriber registers MQTT handlers.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// manualEntry is the JSON form of a kiosk message. A bare string payload
// is accepted too.
type manualEntry struct {
	ID string `json:"id"`
}

// ListenManualEntries routes ids published by kiosks on
// rollcall/manual/{terminal} through the dispatcher. The outcome reaches
// MQTT through the normal outcome path.
func ListenManualEntries(ctx context.Context, sub Subscriber, submit ManualSubmitter, logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}
	var topics mqtt.Topics
	return sub.Subscribe(topics.AllManualEntries(), 1, func(topic string, payload []byte) error {
		terminal, ok := topics.TerminalFromManualTopic(topic)
		if !ok {
			return nil
		}
		text := parseManualPayload(payload)
		out := submit.SubmitManualID(ctx, text)
		logger.Debug("manual entry via mqtt", "terminal", terminal, "kind", out.Kind)
		return nil
	})
}

func parseManualPayload(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var e manualEntry
		if err := json.Unmarshal(payload, &e); err == nil {
			return e.ID
		}
	}
	return trimmed
}
