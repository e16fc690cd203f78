package core

import (
	"context"
	"math/rand/v2"
	"time"

	"fishlog/pkg/domain"
)

// Logger captures structured logging used by the core components.
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

// Clock supplies timestamps for cache freshness, record stamping and audit entries.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now implements Clock. A nil ClockFunc falls back to the system clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// MetricsRecorder observes operation outcomes and durations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan is a single traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around remote-dependent operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus reports whether an audited operation succeeded.
type AuditStatus string

// Audit statuses.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes an identity-affecting or record-creating operation.
type AuditEntry struct {
	Operation string
	Actor     string
	EntityID  string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// auditedOperations lists the operations that produce audit entries.
var auditedOperations = map[string]struct{}{
	opSignIn:       {},
	opSignOut:      {},
	opSelectFisher: {},
	opCommit:       {},
	opCommitSync:   {},
}

// Operation names reported to metrics, tracing and audit.
const (
	opSignIn          = "sign_in"
	opSignOut         = "sign_out"
	opSelectFisher    = "select_fisher"
	opUpdateProfile   = "update_profile"
	opRefreshProfile  = "refresh_profile"
	opListFishers     = "list_fishers"
	opReconcile       = "reconcile"
	opCommit          = "commit"
	opCommitSync      = "commit_sync"
	opPhotoUpload     = "photo_upload"
	opReferenceFetch  = "reference_fetch"
	opReferenceHit    = "reference_hit"
	opReferenceRemove = "reference_invalidate"
)

// PhotoSource opens device-local photo references for upload.
type PhotoSource interface {
	Open(ctx context.Context, ref string) ([]byte, error)
}

// Option configures the core components.
type Option func(*options)

type options struct {
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	zone    *time.Location
	photos  PhotoSource
	rand    *rand.Rand
	newID   func() (string, error)
}

func defaultOptions() options {
	return options{
		logger:  noopLogger{},
		clock:   ClockFunc(nil),
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
		zone:    domain.DefaultDisplayZone,
		photos:  filePhotoSource{},
		rand:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		newID:   newRecordID,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger overrides the logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetricsRecorder overrides the metrics recorder.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(o *options) {
		if rec != nil {
			o.metrics = rec
		}
	}
}

// WithTracer overrides the tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder overrides the audit recorder.
func WithAuditRecorder(rec AuditRecorder) Option {
	return func(o *options) {
		if rec != nil {
			o.audit = rec
		}
	}
}

// WithDisplayZone sets the wall clock used for Thai dates and month grouping.
func WithDisplayZone(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.zone = loc
		}
	}
}

// WithPhotoSource overrides how local photo references are read.
func WithPhotoSource(src PhotoSource) Option {
	return func(o *options) {
		if src != nil {
			o.photos = src
		}
	}
}

// WithRandom sets the random source used for location privacy offsets.
func WithRandom(r *rand.Rand) Option {
	return func(o *options) {
		if r != nil {
			o.rand = r
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// observe wraps fn with a trace span and a metrics observation.
func (o options) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, operation)
	started := o.clock.Now()
	err := fn(ctx)
	o.metrics.Observe(ctx, operation, err == nil, o.clock.Now().Sub(started))
	span.End(err)
	return err
}

// recordAudit emits an audit entry for audited operations and ignores the rest.
func (o options) recordAudit(ctx context.Context, operation, actor, entityID string, duration time.Duration, err error) {
	if _, ok := auditedOperations[operation]; !ok {
		return
	}
	entry := AuditEntry{
		Operation: operation,
		Actor:     actor,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: o.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	o.audit.Record(ctx, entry)
}
