package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"fishlog/internal/blob"
	"fishlog/internal/infra/persistence/memory"
	"fishlog/pkg/domain"
)

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.mu.Lock()
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
	c.mu.Unlock()
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	return c.count(op, success) > 0
}

func (c *captureMetricsRecorder) count(op string, success bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			n++
		}
	}
	return n
}

type captureTracer struct {
	mu      sync.Mutex
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.mu.Lock()
	c.started = append(c.started, op)
	c.mu.Unlock()
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.mu.Lock()
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
	s.tracer.mu.Unlock()
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, args ...any) { l.log("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.log("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.log("error", msg, args) }

func (l *captureLogger) find(level, msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

// arg returns the value logged after key.
func (e logEntry) arg(key string) any {
	for i := 0; i+1 < len(e.args); i += 2 {
		if k, ok := e.args[i].(string); ok && k == key {
			return e.args[i+1]
		}
	}
	return nil
}

// fakeClock is a settable clock safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t.UTC()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var baseTime = time.Date(2024, time.June, 15, 3, 0, 0, 0, time.UTC)

// memPhotos serves photo bytes by reference and fails references listed in fail.
type memPhotos struct {
	mu   sync.Mutex
	data map[string][]byte
	fail map[string]bool
}

func newMemPhotos() *memPhotos {
	return &memPhotos{data: map[string][]byte{}, fail: map[string]bool{}}
}

func (p *memPhotos) add(ref string, data []byte) {
	p.mu.Lock()
	p.data[ref] = data
	p.mu.Unlock()
}

func (p *memPhotos) Open(_ context.Context, ref string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[ref] {
		return nil, errors.New("photo unreadable")
	}
	data, ok := p.data[ref]
	if !ok {
		return nil, fmt.Errorf("no photo %s", ref)
	}
	return data, nil
}

// failingKV wraps a KV and fails the configured operations.
type failingKV struct {
	*memory.KV
	failGet bool
	failSet bool
}

var errStoreDown = errors.New("store unavailable")

func (f *failingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failGet {
		return nil, false, errStoreDown
	}
	return f.KV.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet {
		return errStoreDown
	}
	return f.KV.Set(ctx, key, value)
}

func (f *failingKV) SetMany(ctx context.Context, entries map[string][]byte) error {
	if f.failSet {
		return errStoreDown
	}
	return f.KV.SetMany(ctx, entries)
}

// flakyDocuments wraps Documents and fails the configured operations.
type flakyDocuments struct {
	*memory.Documents
	mu          sync.Mutex
	failCreate  bool
	failUpdate  bool
	failFetch   bool
	fetchCalls  int
	beforeFetch func()
}

var errRemoteDown = errors.New("remote unavailable")

func (f *flakyDocuments) FetchAll(ctx context.Context, collection string, filter domain.Filter) ([]domain.Document, error) {
	f.mu.Lock()
	f.fetchCalls++
	fail := f.failFetch
	hook := f.beforeFetch
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return nil, errRemoteDown
	}
	return f.Documents.FetchAll(ctx, collection, filter)
}

func (f *flakyDocuments) Create(ctx context.Context, collection string, data any) (string, error) {
	f.mu.Lock()
	fail := f.failCreate
	f.mu.Unlock()
	if fail {
		return "", errRemoteDown
	}
	return f.Documents.Create(ctx, collection, data)
}

func (f *flakyDocuments) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if f.failUpdate {
		return errRemoteDown
	}
	return f.Documents.Update(ctx, collection, id, fields)
}

func (f *flakyDocuments) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

type fixture struct {
	local   *memory.KV
	remote  *flakyDocuments
	photos  blob.Store
	source  *memPhotos
	clock   *fakeClock
	logger  *captureLogger
	metrics *captureMetricsRecorder
	audit   *captureAuditRecorder
	tracer  *captureTracer
	session *Session
	records *Records
}

func newFixture(t *testing.T, extra ...Option) *fixture {
	t.Helper()
	clock := newFakeClock(baseTime)
	f := &fixture{
		local:   memory.NewKV(),
		remote:  &flakyDocuments{Documents: memory.NewDocuments(memory.WithNow(clock.Now))},
		photos:  blob.NewMemory(),
		source:  newMemPhotos(),
		clock:   clock,
		logger:  &captureLogger{},
		metrics: &captureMetricsRecorder{},
		audit:   &captureAuditRecorder{},
		tracer:  &captureTracer{},
	}
	seq := 0
	var idMu sync.Mutex
	opts := append([]Option{
		WithClock(clock),
		WithLogger(f.logger),
		WithMetricsRecorder(f.metrics),
		WithAuditRecorder(f.audit),
		WithTracer(f.tracer),
		WithPhotoSource(f.source),
		WithRandom(rand.New(rand.NewPCG(1, 2))),
		WithIDGenerator(func() (string, error) {
			idMu.Lock()
			defer idMu.Unlock()
			seq++
			return fmt.Sprintf("rec-%d", seq), nil
		}),
	}, extra...)
	f.session = NewSession(f.local, f.remote, opts...)
	f.records = NewRecords(f.local, f.remote, f.photos, f.session, opts...)
	t.Cleanup(f.records.Close)
	return f
}

func boolPtr(v bool) *bool { return &v }

func (f *fixture) seedUser(t *testing.T, id string, user map[string]any) {
	t.Helper()
	if err := f.remote.Seed(domain.CollectionUsers, id, user); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

// signIn seeds a user with the given role and signs them in.
func (f *fixture) signIn(t *testing.T, id, phone string, role domain.Role) domain.Identity {
	t.Helper()
	f.seedUser(t, id, map[string]any{
		"name":     "user " + id,
		"phone":    phone,
		"role":     string(role),
		"isActive": true,
		"village":  "บ้าน " + id,
	})
	identity, err := f.session.SignIn(context.Background(), phone)
	if err != nil {
		t.Fatalf("sign in %s: %v", id, err)
	}
	return identity
}

func fish(name string, count int, weight float64) domain.FishEntry {
	return domain.FishEntry{
		ID:     domain.FlexID(name),
		Name:   name,
		Count:  domain.Numeric(fmt.Sprint(count)),
		Weight: domain.Num(weight),
	}
}

func record(id, owner string, date time.Time, entries ...domain.FishEntry) domain.CatchRecord {
	if entries == nil {
		entries = []domain.FishEntry{}
	}
	return domain.CatchRecord{
		ID:         id,
		Date:       domain.InstantOf(date),
		CreatedAt:  domain.InstantOf(date),
		FisherInfo: domain.FisherInfo{ID: owner},
		FishList:   entries,
	}
}

func ids(records []domain.CatchRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
