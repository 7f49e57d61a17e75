package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/rollcall/internal/attendance"
	"github.com/nerrad567/rollcall/internal/directory"
	"github.com/nerrad567/rollcall/internal/scan"
)

// Normalizer turns raw input into a canonical id.
type Normalizer interface {
	Normalize(frame scan.RawFrame) (scan.CanonicalID, error)
}

// Resolver maps a canonical id to a person.
type Resolver interface {
	Resolve(ctx context.Context, id scan.CanonicalID) (directory.PersonRecord, error)
}

// Transitioner applies a mode to a person's attendance.
type Transitioner interface {
	RequestMode(ctx context.Context, person attendance.Person, mode attendance.Mode, method attendance.Method) (*attendance.Record, error)
}

// Logger defines the logging interface used by the Dispatcher.
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

// Dispatcher runs normalise → resolve → transition for every scan.
//
// Thread Safety:
//   - Safe for concurrent use. Scans are processed one at a time in the
//     order HandleScan is entered; a second caller waits for the first
//     scan's full pipeline to finish.
//   - Subscribers are called with the dispatcher held, in scan order.
//     They must not block and must not call back into the dispatcher.
type Dispatcher struct {
	normalizer Normalizer
	resolver   Resolver
	machine    Transitioner
	now        func() time.Time
	logger     Logger

	mu   sync.Mutex
	mode atomic.Value // attendance.Mode

	subsMu sync.RWMutex
	subs   []func(Outcome)

	handled atomic.Uint64
}

// New creates a dispatcher in the given mode. An invalid mode falls back
// to check-in.
func New(normalizer Normalizer, resolver Resolver, machine Transitioner, mode attendance.Mode) *Dispatcher {
	d := &Dispatcher{
		normalizer: normalizer,
		resolver:   resolver,
		machine:    machine,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     noopLogger{},
	}
	if _, err := attendance.ParseMode(string(mode)); err != nil {
		mode = attendance.ModeCheckIn
	}
	d.mode.Store(mode)
	return d
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Subscribe registers fn to receive every outcome, including noise.
func (d *Dispatcher) Subscribe(fn func(Outcome)) {
	d.subsMu.Lock()
	d.subs = append(d.subs, fn)
	d.subsMu.Unlock()
}

// Mode returns the active scan mode.
func (d *Dispatcher) Mode() attendance.Mode {
	return d.mode.Load().(attendance.Mode) //nolint:forcetypeassert // only Mode is stored
}

// SetMode changes the scan mode for subsequent scans.
func (d *Dispatcher) SetMode(mode attendance.Mode) error {
	m, err := attendance.ParseMode(string(mode))
	if err != nil {
		return err
	}
	d.mode.Store(m)
	d.logger.Info("scan mode changed", "mode", m)
	return nil
}

// Handled returns the number of scans processed.
func (d *Dispatcher) Handled() uint64 {
	return d.handled.Load()
}

// SubmitManualID handles text typed by an operator.
func (d *Dispatcher) SubmitManualID(ctx context.Context, text string) Outcome {
	return d.HandleScan(ctx, scan.ManualFrame(text))
}

// HandleDeviceFrame adapts HandleScan to the reader's frame handler.
func (d *Dispatcher) HandleDeviceFrame(ctx context.Context, frame scan.RawFrame) {
	d.HandleScan(ctx, frame)
}

// HandleScan runs the pipeline for one frame and returns its outcome.
// It never panics and never returns a raw collaborator error; every
// failure is one of the Kind values.
func (d *Dispatcher) HandleScan(ctx context.Context, frame scan.RawFrame) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := d.run(ctx, frame)
	out.Message = message(out)
	if !frame.ArrivedAt.IsZero() {
		out.Latency = d.now().Sub(frame.ArrivedAt)
	}
	d.handled.Add(1)
	d.log(out)
	d.publish(out)
	return out
}

func (d *Dispatcher) run(ctx context.Context, frame scan.RawFrame) (out Outcome) {
	mode := d.Mode()
	out = Outcome{Source: frame.Source, Mode: mode, At: d.now()}

	defer func() {
		if r := recover(); r != nil {
			out.Kind = KindInternalError
			out.Err = fmt.Errorf("dispatch: panic: %v", r)
		}
	}()

	if out.Source != scan.SourceManual {
		out.Source = scan.SourceDevice
	}

	id, err := d.normalizer.Normalize(frame)
	if err != nil {
		out.Err = err
		if errors.Is(err, scan.ErrFrameTooShort) {
			out.Kind = KindNoise
		} else {
			out.Kind = KindInvalidFormat
		}
		return out
	}
	out.CanonicalID = id

	person, err := d.resolver.Resolve(ctx, id)
	if err != nil {
		out.Kind = KindNotFound
		out.Err = err
		return out
	}
	out.Person = &person

	method := attendance.MethodDevice
	if out.Source == scan.SourceManual {
		method = attendance.MethodManual
	}

	rec, err := d.machine.RequestMode(ctx, attendance.Person{
		ID:           person.PersonID,
		DisplayName:  person.DisplayName,
		CredentialID: string(id),
	}, mode, method)
	if err != nil {
		out.Err = err
		out.Kind = classify(err)
		var rej *attendance.RejectionError
		if errors.As(err, &rej) {
			out.Status = rej.Status
		}
		return out
	}

	out.Kind = KindAccepted
	out.Record = rec
	out.Status = attendance.ComputeStatus(rec)
	return out
}

// classify maps a state machine error to an outcome kind.
func classify(err error) Kind {
	switch {
	case errors.Is(err, attendance.ErrAlreadyCheckedIn):
		return KindAlreadyCheckedIn
	case errors.Is(err, attendance.ErrAlreadyCheckedOut):
		return KindAlreadyCheckedOut
	case errors.Is(err, attendance.ErrNoActiveSession):
		return KindNoActiveSession
	case errors.Is(err, attendance.ErrLedgerWrite):
		return KindLedgerWrite
	default:
		return KindInternalError
	}
}

func (d *Dispatcher) log(out Outcome) {
	args := []any{"kind", out.Kind, "source", out.Source, "mode", out.Mode}
	if out.CanonicalID != "" {
		args = append(args, "credential_id", out.CanonicalID)
	}
	if out.Person != nil {
		args = append(args, "person_id", out.Person.PersonID)
	}

	switch out.Kind {
	case KindAccepted:
		d.logger.Info("scan accepted", args...)
	case KindNoise:
		d.logger.Debug("scan ignored", args...)
	case KindLedgerWrite, KindInternalError:
		d.logger.Error("scan failed", append(args, "error", out.Err)...)
	default:
		d.logger.Info("scan rejected", append(args, "error", out.Err)...)
	}
}

func (d *Dispatcher) publish(out Outcome) {
	d.subsMu.RLock()
	subs := d.subs
	d.subsMu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("outcome subscriber panicked", "panic", r)
				}
			}()
			fn(out)
		}()
	}
}
